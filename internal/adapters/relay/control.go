package relay

import "github.com/dkeye/voicelink/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, domain.MsgPong, nil)
}
