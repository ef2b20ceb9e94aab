// Package domain contains wire entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxRoomIDLen = 64

var (
	ErrRoomEmpty   = errors.New("room id empty")
	ErrRoomTooLong = errors.New("room id too long")
)

// RoomID scopes every signaling message. It is fixed for the lifetime of a session.
type RoomID string

// NewRoomID trims the raw input and validates it.
func NewRoomID(raw string) (RoomID, error) {
	id := strings.TrimSpace(raw)
	if len(id) == 0 {
		return "", ErrRoomEmpty
	}
	if len(id) > MaxRoomIDLen {
		return "", ErrRoomTooLong
	}
	return RoomID(id), nil
}

func (r RoomID) String() string { return string(r) }
