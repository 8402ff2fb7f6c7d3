package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/protocol"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, protocol.Message{Type: protocol.TypePong})
}

// handleControl accepts control events over signaling for clients whose
// data channel is not open yet.
func (ctl *SignalWSController) handleControl(sid core.SessionID, conn *WsSignalConn, m protocol.Message) {
	if err := ctl.Orch.Control(sid, m); err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("control rejected")
		ctl.send(conn, protocol.Errorf("%s: %v", m.Type, err))
	}
}
