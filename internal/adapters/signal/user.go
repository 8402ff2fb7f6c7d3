package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/protocol"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn *WsSignalConn,
	m protocol.Message,
) {
	if m.Name == "" {
		ctl.send(conn, protocol.Errorf("empty name"))
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", m.Name).Msg("rename")
	if _, err := ctl.Orch.Rename(sid, m.Name); err != nil {
		ctl.send(conn, protocol.Errorf("invalid_name"))
		return
	}
	ctl.handleWhoAmI(sid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	user, _ := ctl.Orch.Registry.User(sid)

	resp := protocol.Message{
		Type: protocol.TypeWhoAmI,
		From: sid.ParticipantID(),
		Name: user.Username,
		Role: user.Role,
	}
	if roomID, _, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		if room, ok := ctl.Orch.Rooms.GetRoom(roomID); ok {
			resp.RoomName = room.Room().Name
			resp.Room = roomID
		}
	}
	ctl.send(conn, resp)
}
