package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/metrics"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/dkeye/Classroom/internal/roster"
)

// JoinResult is what a participant sees right after joining.
type JoinResult struct {
	Room    *domain.Room
	Self    domain.Participant
	Members []domain.Participant
	History []domain.ChatMessage
}

// RoomState is the room_state message for the joiner.
func (r JoinResult) RoomState() protocol.Message {
	return protocol.Message{
		Type:     protocol.TypeRoomState,
		From:     r.Self.ID,
		Room:     r.Room.ID,
		RoomName: r.Room.Name,
		Members:  r.Members,
		History:  r.History,
	}
}

// Join puts sid into the classroom id, leaving any other classroom first.
// Joining the current classroom again only refreshes the state.
func (o *Orchestrator) Join(sid core.SessionID, id domain.RoomID, name string, role domain.Role) (JoinResult, error) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return JoinResult{}, app.ErrNoSession
	}
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return JoinResult{}, app.ErrRoomNotFound
	}
	if name != "" {
		if err := o.Registry.UpdateUsername(sid, name); err != nil {
			return JoinResult{}, err
		}
	}
	if role != "" {
		o.Registry.UpdateRole(sid, role)
	}

	current, _, in := o.Registry.RoomOf(sid)
	if in && current != id {
		o.KickBySID(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("left previous room")
	}

	u, ok := o.Registry.User(sid)
	if !ok {
		return JoinResult{}, app.ErrNoSession
	}
	_, already := room.Member(sid)
	self := room.AddMember(sid, sess, domain.NewMember(&u).Participant())
	o.Registry.UpdateRoom(sid, id)

	if !already {
		metrics.ParticipantJoined()
		o.announce(room, sid, protocol.Message{Type: protocol.TypeMemberJoined, From: self.ID, User: &self})
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(id)).Msg("added to room")
	}

	return JoinResult{
		Room:    room.Room(),
		Self:    self,
		Members: room.Members(),
		History: room.ChatHistory(o.historyLimit()),
	}, nil
}

// Leave removes sid from its classroom and tears down its media.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	if _, _, ok := o.Registry.RoomOf(sid); !ok {
		return false
	}
	o.KickBySID(sid)
	return true
}

// Rename changes the display name of sid and tells its room mates.
func (o *Orchestrator) Rename(sid core.SessionID, name string) (domain.User, error) {
	if err := o.Registry.UpdateUsername(sid, name); err != nil {
		return domain.User{}, err
	}
	u, _ := o.Registry.User(sid)

	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return u, nil
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return u, nil
	}
	if p, changed := room.Apply(roster.RenameEvent(sid.ParticipantID(), u.Username)); changed {
		o.announce(room, sid, protocol.Message{Type: protocol.TypeMemberUpdated, From: p.ID, User: &p})
	}
	return u, nil
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.cleanupMedia(sid)
	o.cleanupMembership(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.Registry.RemoveRoom(sid)
	o.Limiter.Forget(domain.UserID(sid))
	if o.Policy != nil {
		o.Policy.Forget(sess)
	}

	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return
	}
	if room.RemoveMember(sid) {
		metrics.ParticipantLeft()
		o.announce(room, sid, protocol.Message{Type: protocol.TypeMemberLeft, From: sid.ParticipantID()})
	}
}

// Disconnect cleans up after the signaling connection of sess went away.
// A session that was already replaced by a reconnect is left alone.
func (o *Orchestrator) Disconnect(sid core.SessionID, sess core.MemberSession) {
	if cur, ok := o.Registry.GetSession(sid); !ok || cur != sess {
		return
	}
	o.KickBySID(sid)
	o.Registry.Unbind(sid, sess)
}

// EvictRoom removes everyone from the classroom and stops it.
func (o *Orchestrator) EvictRoom(id domain.RoomID) bool {
	if _, ok := o.Rooms.GetRoom(id); !ok {
		return false
	}
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.KickBySID(snap.SID)
		if err := o.Send(snap.SID, protocol.Message{Type: protocol.TypeLeft, Room: id}); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("sid", string(snap.SID)).Msg("evict notice not delivered")
		}
	}
	o.Rooms.StopRoom(id)
	return true
}
