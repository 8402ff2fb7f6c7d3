package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	m protocol.Message,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room_id", string(m.Room)).Msg("join")
	res, err := ctl.Orch.Join(sid, m.Room, m.Name, m.Role)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room_id", string(m.Room)).Msg("join failed")
		ctl.send(conn, protocol.Errorf("%v", err))
		return
	}
	ctl.send(conn, res.RoomState())

	// Media negotiated before joining can now be wired to the room.
	ctl.Orch.OnMediaReady(sid)
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
	ctl.send(conn, protocol.Message{Type: protocol.TypeLeft})
}
