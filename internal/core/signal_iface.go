package core

import "github.com/dkeye/voicelink/internal/domain"

// Frame is a raw relay payload.
type Frame []byte

// SignalConnection abstracts a relay-side messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Signaler is the peer-side view of the Signaling Client used by a Peer Session.
// Send never fails loudly: an undeliverable message is dropped with a diagnostic.
type Signaler interface {
	Send(event domain.SignalEvent, data any)
}

// TextSender relays a finalized transcript to the room.
type TextSender interface {
	SendText(text string)
}
