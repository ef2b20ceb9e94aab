package domain

import "errors"

// Capability errors: the operation is aborted and surfaced to the user.
var (
	ErrNoAudioTrack      = errors.New("no audio track available")
	ErrUnsupportedFormat = errors.New("no supported recording format")
)

// Negotiation and relay errors.
var (
	ErrAlreadyNegotiating = errors.New("negotiation already in progress")
	ErrUnknownEvent       = errors.New("unknown signal event")
	ErrRoomFull           = errors.New("room is full")
	ErrAlreadyJoined      = errors.New("already joined a room")
	ErrNotConnected       = errors.New("signaling not connected")
	ErrNoRoom             = errors.New("no room set")
	ErrClosed             = errors.New("session closed")
)
