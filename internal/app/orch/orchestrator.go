package orch

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/sfu"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/metrics"
	"github.com/dkeye/Classroom/internal/protocol"
)

const DefaultHistoryLimit = 200

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Limiter  *app.RoomRateLimiter

	// HistoryLimit caps the chat history sent to a joining participant.
	HistoryLimit int
	Now          func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) historyLimit() int {
	if o.HistoryLimit > 0 {
		return o.HistoryLimit
	}
	return DefaultHistoryLimit
}

// OnFrame relays a raw frame from sid to its room mates over signaling.
func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return
	}
	o.broadcast(room, sid, data)
}

// Send encodes m and queues it on sid's signaling connection.
func (o *Orchestrator) Send(sid core.SessionID, m protocol.Message) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return app.ErrNoSession
	}
	sig := sess.Signal()
	if sig == nil {
		return core.ErrConnClosed
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := sig.TrySend(data); err != nil {
		metrics.FrameDropped()
		return err
	}
	return nil
}

// announce broadcasts m over signaling to everyone in room except from.
func (o *Orchestrator) announce(room core.RoomService, from core.SessionID, m protocol.Message) {
	data, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(m.Type)).Msg("encode announcement")
		return
	}
	o.broadcast(room, from, data)
}

func (o *Orchestrator) broadcast(room core.RoomService, from core.SessionID, data core.Frame) {
	res := room.Broadcast(from, data)
	for _, slow := range res.Dropped {
		metrics.FrameDropped()
		o.backpressure(room, slow)
	}
}

// backpressure asks the policy what to do with a member whose queue is full.
func (o *Orchestrator) backpressure(room core.RoomService, slow core.MemberSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, slow) {
	case app.KickMember:
		for _, snap := range o.Registry.MembersOfRoom(room.Room().ID) {
			if snap.Session == slow {
				log.Warn().Str("module", "orch").Str("sid", string(snap.SID)).Msg("kicking slow member")
				o.KickBySID(snap.SID)
				if sig := slow.Signal(); sig != nil {
					sig.Close()
				}
			}
		}
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

// Roster returns the members and hand queue of a classroom.
func (o *Orchestrator) Roster(id domain.RoomID) ([]domain.Participant, []domain.Participant, error) {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return nil, nil, app.ErrRoomNotFound
	}
	return room.Members(), room.HandQueue(), nil
}

func (o *Orchestrator) ChatHistory(id domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return nil, app.ErrRoomNotFound
	}
	return room.ChatHistory(limit), nil
}
