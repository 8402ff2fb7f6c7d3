package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/roster"
)

// roomImpl is a threadsafe in-memory classroom.
// It never closes adapter-owned resources.
type roomImpl struct {
	room *domain.Room

	mu     sync.RWMutex
	bySID  map[SessionID]MemberSession
	roster roster.Roster
	chat   domain.ChatLog
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		bySID:  make(map[SessionID]MemberSession),
		roster: roster.New(),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Members() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster.Snapshot()
}

func (r *roomImpl) Member(sid SessionID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster.Get(sid.ParticipantID())
}

func (r *roomImpl) HandQueue() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster.HandQueue()
}

// AddMember is idempotent: a member already present keeps its roster entry.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession, p domain.Participant) domain.Participant {
	p.ID = sid.ParticipantID()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = ms
	r.roster = r.roster.Apply(roster.JoinEvent(p))
	joined, _ := r.roster.Get(p.ID)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member added")
	return joined
}

func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySID[sid]
	delete(r.bySID, sid)
	r.roster = r.roster.Apply(roster.LeaveEvent(sid.ParticipantID()))
	if ok {
		log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")
	}
	return ok
}

func (r *roomImpl) Apply(ev roster.Event) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.roster.Apply(ev)
	changed := next.Version() != r.roster.Version()
	r.roster = next
	p, ok := next.Get(ev.ID)
	return p, changed && ok
}

func (r *roomImpl) AppendChat(m domain.ChatMessage) domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chat.Append(m)
}

func (r *roomImpl) ChatHistory(limit int) []domain.ChatMessage {
	r.mu.RLock()
	all := r.chat.Messages()
	r.mu.RUnlock()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		sig := m.Signal()
		if sig == nil {
			continue
		}
		if err := sig.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
