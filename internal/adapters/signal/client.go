// Package signal is the peer side of the relay protocol: it connects, joins a
// room once and exchanges signal and text envelopes.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendQueue = 32
	writeWait = 5 * time.Second
)

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("module", "signal").Logger() }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithMaxAttempts bounds connection attempts before the first successful
// connect. Zero means unbounded.
func WithMaxAttempts(n uint) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithBackOff sets the retry schedule between connection attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = newBackOff }
}

type handlers struct {
	message  func(domain.SignalEnvelope)
	text     func(domain.TextEnvelope)
	roomFull func(domain.RoomID)
	state    func(domain.ConnState, error)
}

// Client is a relay connection. Connect is explicit; nothing is dialed at
// construction.
type Client struct {
	url         string
	dialer      *websocket.Dialer
	header      http.Header
	maxAttempts uint
	newBackOff  func() backoff.BackOff
	logger      zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	room     domain.RoomID
	joinSent bool
	closed   bool
	h        handlers
	attempts int
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		dialer:      websocket.DefaultDialer,
		maxAttempts: 5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) OnMessage(fn func(domain.SignalEnvelope)) {
	c.mu.Lock()
	c.h.message = fn
	c.mu.Unlock()
}

func (c *Client) OnText(fn func(domain.TextEnvelope)) {
	c.mu.Lock()
	c.h.text = fn
	c.mu.Unlock()
}

// OnRoomFull is called when the relay refuses the join. The relay will not
// forward anything for this client afterwards.
func (c *Client) OnRoomFull(fn func(domain.RoomID)) {
	c.mu.Lock()
	c.h.roomFull = fn
	c.mu.Unlock()
}

// OnState observes connection lifecycle events.
func (c *Client) OnState(fn func(domain.ConnState, error)) {
	c.mu.Lock()
	c.h.state = fn
	c.mu.Unlock()
}

func (c *Client) snapshot() handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

func (c *Client) emitState(st domain.ConnState, err error) {
	if fn := c.snapshot().state; fn != nil {
		fn(st, err)
	}
}

// Connected reports whether the websocket is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Attempts returns how many dials have been made.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect dials the relay, retrying with backoff until it succeeds, the
// attempt budget is spent or ctx ends. A pending Join is sent right after the
// connection is established.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ws, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		c.mu.Lock()
		c.attempts++
		c.mu.Unlock()

		ws, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			c.emitState(domain.StateConnectError, err)
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(fmt.Errorf("relay refused: %s: %w", resp.Status, err))
			}
			return nil, err
		}
		return ws, nil
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn().Err(err).Dur("retry_in", next).Str("url", c.url).Msg("relay connect failed")
		}),
	)
	if err != nil {
		c.emitState(domain.StateError, err)
		return fmt.Errorf("connect %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return domain.ErrClosed
	}
	c.conn = ws
	c.send = make(chan []byte, sendQueue)
	c.done = make(chan struct{})
	join := c.room != "" && !c.joinSent
	if join {
		c.joinSent = true
	}
	go c.writePump(ws, c.send)
	go c.readPump(ws, c.done)
	c.mu.Unlock()

	c.logger.Info().Str("url", c.url).Msg("relay connected")
	c.emitState(domain.StateConnect, nil)
	if join {
		c.sendJoin()
	}
	return nil
}

// Join records the room and sends the join frame exactly once, as soon as a
// connection exists.
func (c *Client) Join(room string) error {
	id, err := domain.NewRoomID(room)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.room != "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAlreadyJoined, c.room)
	}
	c.room = id
	join := c.conn != nil && !c.joinSent
	if join {
		c.joinSent = true
	}
	c.mu.Unlock()

	if join {
		c.sendJoin()
	}
	return nil
}

// Room returns the joined room, if any.
func (c *Client) Room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) sendJoin() {
	room := c.Room()
	frame, err := domain.NewMessage(domain.MsgJoin, room)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode join")
		return
	}
	c.enqueue(frame, domain.MsgJoin)
	c.logger.Info().Str("room", room.String()).Msg("join sent")
}

// Send wraps data in a SignalEnvelope for the current room. Without a
// connection or a room the message is dropped with a diagnostic.
func (c *Client) Send(event domain.SignalEvent, data any) {
	room, ok := c.ready(string(event))
	if !ok {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(event)).Msg("encode signal data")
		return
	}
	payload, err := domain.EncodeSignal(domain.SignalEnvelope{RoomID: room, Event: event, Data: raw})
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(event)).Msg("encode signal envelope")
		return
	}
	frame, err := domain.NewMessage(domain.MsgRTCMessage, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode rtc-message")
		return
	}
	c.enqueue(frame, string(event))
}

// SendText relays text to the room as a TextEnvelope.
func (c *Client) SendText(text string) {
	room, ok := c.ready(domain.MsgRTCText)
	if !ok {
		return
	}
	frame, err := domain.NewMessage(domain.MsgRTCText, domain.TextEnvelope{RoomID: room, Text: text})
	if err != nil {
		c.logger.Error().Err(err).Msg("encode rtc-text")
		return
	}
	c.enqueue(frame, domain.MsgRTCText)
}

func (c *Client) ready(kind string) (domain.RoomID, bool) {
	c.mu.Lock()
	conn, room := c.conn, c.room
	c.mu.Unlock()
	if conn == nil {
		c.logger.Warn().Str("kind", kind).Err(domain.ErrNotConnected).Msg("dropping outbound message")
		return "", false
	}
	if room == "" {
		c.logger.Warn().Str("kind", kind).Err(domain.ErrNoRoom).Msg("dropping outbound message")
		return "", false
	}
	return room, true
}

func (c *Client) enqueue(frame []byte, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.logger.Warn().Str("kind", kind).Err(domain.ErrNotConnected).Msg("dropping outbound message")
		return
	}
	select {
	case c.send <- frame:
	default:
		c.logger.Warn().Str("kind", kind).Msg("send queue full, dropping outbound message")
	}
}

// Disconnect unregisters every handler and closes the connection. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.h = handlers{}
	conn, done := c.conn, c.done
	c.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = conn.Close()
	<-done
	c.logger.Info().Msg("relay disconnected")
}

func (c *Client) writePump(ws *websocket.Conn, send <-chan []byte) {
	for data := range send {
		if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Error().Err(err).Msg("writePump set deadline")
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Error().Err(err).Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump(ws *websocket.Conn, done chan struct{}) {
	var readErr error
	defer func() {
		c.mu.Lock()
		c.conn = nil
		close(c.send)
		closed := c.closed
		c.mu.Unlock()
		_ = ws.Close()
		close(done)

		if !closed {
			c.logger.Warn().Err(readErr).Msg("relay connection lost")
			c.emitState(domain.StateDisconnect, readErr)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				readErr = err
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("bad frame from relay")
		return
	}
	h := c.snapshot()

	switch msg.Type {
	case domain.MsgRTCMessage:
		env, err := domain.DecodeSignal(msg.Data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad rtc-message")
			return
		}
		if h.message != nil {
			h.message(env)
		}
	case domain.MsgRTCText:
		env, err := domain.DecodeText(msg.Data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad rtc-text")
			return
		}
		if h.text != nil {
			h.text(env)
		}
	case domain.MsgRoomFull:
		room := c.Room()
		c.logger.Warn().Str("room", room.String()).Err(domain.ErrRoomFull).Msg("join refused")
		if h.roomFull != nil {
			h.roomFull(room)
		}
	case domain.MsgPing:
		if frame, err := domain.NewMessage(domain.MsgPong, nil); err == nil {
			c.enqueue(frame, domain.MsgPong)
		}
	case domain.MsgPong:
	case domain.MsgError:
		var reason string
		_ = json.Unmarshal(msg.Data, &reason)
		c.logger.Warn().Str("reason", reason).Msg("relay error")
		if h.state != nil {
			h.state(domain.StateError, errors.New(reason))
		}
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("ignoring relay frame")
	}
}

var (
	_ core.Signaler   = (*Client)(nil)
	_ core.TextSender = (*Client)(nil)
)
