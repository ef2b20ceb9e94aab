// Package relay is the websocket side of the development relay: it speaks the
// join / rtc-message / rtc-text / room-full contract to peers.
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicelink/internal/app"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	sendQueue  = 32
	writeWait  = 5 * time.Second
	textWindow = time.Second
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// TextRate is the number of rtc-text frames a peer may send per second.
	TextRate int
}

type SignalWSController struct {
	Orch    *app.Orchestrator
	opts    Options
	limiter *RoomRateLimiter
}

func NewSignalWSController(orch *app.Orchestrator, opts Options) *SignalWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.TextRate <= 0 {
		opts.TextRate = 20
	}
	return &SignalWSController{
		Orch:    orch,
		opts:    opts,
		limiter: NewRoomRateLimiter(opts.TextRate, textWindow),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves one peer until either side
// closes. Each websocket gets its own session id; the client token cookie is
// only recorded.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	token := c.GetString("client_token")
	log.Info().Str("module", "relay").Str("sid", string(sid)).Str("client_token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendQueue),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(sid, domain.NewMember(string(sid), token), conn, cancel)

	go ctl.writePump(ctx, sid, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}
