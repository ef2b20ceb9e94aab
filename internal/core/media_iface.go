package core

import (
	"context"
	"time"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the narrow capability a Peer Session needs from the media engine.
type PeerConnection interface {
	// AddTrack attaches a local track; callers check SenderTracks first.
	AddTrack(track webrtc.TrackLocal) error
	// SenderTracks returns the tracks of the current sender set.
	SenderTracks() []webrtc.TrackLocal
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate receives gathered candidates; the end-of-candidates marker is never delivered.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(track *webrtc.TrackRemote))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// StopSenders stops every local sender.
	StopSenders() error
	Close() error
}

// LocalMedia is an acquired local stream.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// AcquireFunc returns the local stream, acquiring it on first use.
type AcquireFunc func(ctx context.Context) (LocalMedia, error)

// AudioInput is the audio side of a local stream as seen by the STT pipeline.
type AudioInput interface {
	HasAudio() bool
	// Supports reports whether a recorder can be created for format.
	Supports(format domain.Format) bool
	NewRecorder(format domain.Format) (Recorder, error)
	NewAnalyser(size int) (Analyser, error)
}

// Recorder emits time-sliced chunks of an encoded audio stream. Every
// Start begins a new self-contained stream.
type Recorder interface {
	Start(slice time.Duration, onChunk func([]byte)) error
	// Stop flushes the pending slice through onChunk and halts. No-op when inactive.
	Stop() error
	Active() bool
}

// Analyser exposes the latest time-domain frame as unsigned 8-bit samples
// centered on 128.
type Analyser interface {
	TimeDomain(buf []byte)
	Close() error
}

// RemoteSink renders remote media. Bind replaces any previous binding.
type RemoteSink interface {
	Bind(track *webrtc.TrackRemote)
	Close() error
}
