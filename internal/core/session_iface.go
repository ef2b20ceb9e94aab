package core

// SessionID identifies one relay websocket connection.
type SessionID string
