package domain

import (
	"encoding/json"
	"fmt"
)

// Relay message types.
const (
	MsgJoin       = "join"
	MsgRTCMessage = "rtc-message"
	MsgRTCText    = "rtc-text"
	MsgRoomFull   = "room-full"
	MsgPing       = "ping"
	MsgPong       = "pong"
	MsgError      = "error"
)

// Message is the frame exchanged with the relay over the websocket.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into a relay frame.
func NewMessage(typ string, data any) ([]byte, error) {
	msg := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

type SignalEvent string

const (
	EventOffer     SignalEvent = "offer"
	EventAnswer    SignalEvent = "answer"
	EventCandidate SignalEvent = "candidate"
)

func (e SignalEvent) Valid() bool {
	switch e {
	case EventOffer, EventAnswer, EventCandidate:
		return true
	}
	return false
}

// SignalEnvelope carries negotiation metadata. Data is a session description
// or ICE candidate and is passed through untouched.
type SignalEnvelope struct {
	RoomID RoomID          `json:"roomId"`
	Event  SignalEvent     `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// TextEnvelope carries a finalized transcript or a test message.
type TextEnvelope struct {
	RoomID RoomID `json:"roomId"`
	Text   string `json:"text"`
}

// EncodeSignal produces the string form of an envelope used on the wire.
func EncodeSignal(env SignalEnvelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSignal accepts the envelope either string-encoded or as a JSON object.
func DecodeSignal(raw json.RawMessage) (SignalEnvelope, error) {
	var env SignalEnvelope
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode signal envelope: %w", err)
	}
	if !env.Event.Valid() {
		return env, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return env, nil
}

// DecodeText accepts a TextEnvelope, a bare string, or an object with a
// "message" field.
func DecodeText(raw json.RawMessage) (TextEnvelope, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return TextEnvelope{Text: s}, nil
	}
	var p struct {
		RoomID  RoomID  `json:"roomId"`
		Text    *string `json:"text"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return TextEnvelope{}, fmt.Errorf("decode text envelope: %w", err)
	}
	env := TextEnvelope{RoomID: p.RoomID}
	switch {
	case p.Text != nil:
		env.Text = *p.Text
	case p.Message != nil:
		env.Text = *p.Message
	default:
		env.Text = string(raw)
	}
	return env, nil
}
