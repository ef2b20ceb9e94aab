package relay

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, data json.RawMessage) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	roomID, err := domain.NewRoomID(raw)
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}

	err = ctl.Orch.Join(sid, roomID)
	if errors.Is(err, domain.ErrRoomFull) {
		log.Info().Str("module", "relay").Str("sid", string(sid)).Str("room", roomID.String()).Msg("room full")
		ctl.sendJSON(conn, domain.MsgRoomFull, roomID)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("sid", string(sid)).Msg("join")
		ctl.sendError(conn, "join_failed")
		return
	}
	log.Info().Str("module", "relay").Str("sid", string(sid)).Str("room", roomID.String()).Msg("join")
}

// handleRTCMessage forwards the received frame untouched once the envelope
// is known to be well formed.
func (ctl *SignalWSController) handleRTCMessage(sid core.SessionID, conn *WsSignalConn, frame []byte, data json.RawMessage) {
	env, err := domain.DecodeSignal(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("sid", string(sid)).Msg("bad rtc-message")
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.forward(sid, conn, frame, string(env.Event))
}

func (ctl *SignalWSController) handleRTCText(sid core.SessionID, conn *WsSignalConn, frame []byte) {
	if !ctl.limiter.Allow(sid) {
		log.Warn().Str("module", "relay").Str("sid", string(sid)).Msg("rtc-text rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	ctl.forward(sid, conn, frame, domain.MsgRTCText)
}

func (ctl *SignalWSController) forward(sid core.SessionID, conn *WsSignalConn, frame []byte, kind string) {
	res, err := ctl.Orch.Forward(sid, core.Frame(frame))
	if errors.Is(err, domain.ErrNoRoom) {
		ctl.sendError(conn, "not_in_room")
		return
	}
	log.Debug().Str("module", "relay").Str("sid", string(sid)).Str("kind", kind).
		Int("delivered", res.Delivered).Int("dropped", len(res.Dropped)).Msg("forward")
}
