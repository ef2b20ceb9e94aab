package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "relay").Str("sid", string(sid)).Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "relay").Str("sid", string(sid)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "relay").Str("sid", string(sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "relay").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.Disconnect(sid)
		ctl.limiter.Forget(sid)
		cancel()
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "relay").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json")
		ctl.sendError(c, "bad_json")
		return
	}

	switch msg.Type {
	case domain.MsgJoin:
		ctl.handleJoin(sid, c, msg.Data)
	case domain.MsgRTCMessage:
		ctl.handleRTCMessage(sid, c, data, msg.Data)
	case domain.MsgRTCText:
		ctl.handleRTCText(sid, c, data)
	case domain.MsgPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "relay").Str("type", msg.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, typ string, data any) {
	b, err := domain.NewMessage(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, reason string) {
	ctl.sendJSON(c, domain.MsgError, reason)
}
