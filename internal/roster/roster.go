// Package roster reduces join/leave/state-change events into the ordered
// participant list of a classroom session. Reduction is pure: Apply never
// mutates the roster it is called on.
package roster

import (
	"slices"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
)

type EventKind string

const (
	Join         EventKind = "join"
	Leave        EventKind = "leave"
	MuteChanged  EventKind = "mute-changed"
	VideoChanged EventKind = "video-changed"
	HandRaised   EventKind = "hand-raised"
	ScreenShared EventKind = "screen-share"
	Renamed      EventKind = "renamed"
)

// Event is a single roster mutation. Participant is only read for Join
// and Renamed; the other kinds address the participant by ID and carry
// Value/At.
type Event struct {
	Kind        EventKind
	ID          domain.ParticipantID
	Participant domain.Participant
	Value       bool
	At          time.Time
}

func JoinEvent(p domain.Participant) Event {
	return Event{Kind: Join, ID: p.ID, Participant: p}
}

func LeaveEvent(id domain.ParticipantID) Event {
	return Event{Kind: Leave, ID: id}
}

func MuteEvent(id domain.ParticipantID, muted bool) Event {
	return Event{Kind: MuteChanged, ID: id, Value: muted}
}

func VideoEvent(id domain.ParticipantID, on bool) Event {
	return Event{Kind: VideoChanged, ID: id, Value: on}
}

func ShareEvent(id domain.ParticipantID, on bool) Event {
	return Event{Kind: ScreenShared, ID: id, Value: on}
}

func RenameEvent(id domain.ParticipantID, name string) Event {
	return Event{Kind: Renamed, ID: id, Participant: domain.Participant{Name: name}}
}

func HandEvent(id domain.ParticipantID, raised bool, at time.Time) Event {
	return Event{Kind: HandRaised, ID: id, Value: raised, At: at}
}

// Roster is the authoritative, join-ordered collection of participants.
// The zero value is an empty roster.
type Roster struct {
	members   []domain.Participant
	nextSeq   uint64
	lastRaise map[domain.ParticipantID]time.Time
	version   uint64
}

func New() Roster { return Roster{} }

// Apply returns the roster that results from ev. Unknown kinds and
// events for absent participants yield an unchanged roster.
func (r Roster) Apply(ev Event) Roster {
	switch ev.Kind {
	case Join:
		return r.join(ev)
	case Leave:
		return r.leave(ev.ID)
	case MuteChanged:
		return r.update(ev.ID, func(p *domain.Participant) { p.Muted = ev.Value })
	case VideoChanged:
		return r.update(ev.ID, func(p *domain.Participant) { p.VideoOn = ev.Value })
	case ScreenShared:
		return r.update(ev.ID, func(p *domain.Participant) { p.Sharing = ev.Value })
	case Renamed:
		if ev.Participant.Name == "" {
			return r
		}
		return r.update(ev.ID, func(p *domain.Participant) { p.Name = ev.Participant.Name })
	case HandRaised:
		return r.hand(ev)
	default:
		return r
	}
}

// Fold applies events in order.
func (r Roster) Fold(events ...Event) Roster {
	for _, ev := range events {
		r = r.Apply(ev)
	}
	return r
}

func (r Roster) index(id domain.ParticipantID) int {
	return slices.IndexFunc(r.members, func(p domain.Participant) bool { return p.ID == id })
}

func (r Roster) join(ev Event) Roster {
	id := ev.Participant.ID
	if id == "" {
		id = ev.ID
	}
	if id == "" || r.index(id) >= 0 {
		return r
	}
	p := ev.Participant
	p.ID = id
	p.JoinSeq = r.nextSeq
	if !p.HandRaised {
		p.HandRaisedAt = time.Time{}
	}

	next := r.clone()
	next.nextSeq++
	next.members = append(next.members, p)
	if p.HandRaised {
		next.lastRaise[id] = p.HandRaisedAt
	}
	return next
}

func (r Roster) leave(id domain.ParticipantID) Roster {
	i := r.index(id)
	if i < 0 {
		return r
	}
	next := r.clone()
	next.members = slices.Delete(next.members, i, i+1)
	delete(next.lastRaise, id)
	return next
}

func (r Roster) update(id domain.ParticipantID, fn func(*domain.Participant)) Roster {
	i := r.index(id)
	if i < 0 {
		return r
	}
	p := r.members[i]
	fn(&p)
	if p == r.members[i] {
		return r
	}
	next := r.clone()
	next.members[i] = p
	return next
}

func (r Roster) hand(ev Event) Roster {
	i := r.index(ev.ID)
	if i < 0 {
		return r
	}
	cur := r.members[i]
	if cur.HandRaised == ev.Value {
		// duplicate delivery keeps the original queue position
		return r
	}
	next := r.clone()
	p := &next.members[i]
	if !ev.Value {
		p.HandRaised = false
		p.HandRaisedAt = time.Time{}
		return next
	}
	at := ev.At
	if prev, ok := next.lastRaise[ev.ID]; ok && !at.After(prev) {
		at = prev.Add(time.Nanosecond)
	}
	p.HandRaised = true
	p.HandRaisedAt = at
	next.lastRaise[ev.ID] = at
	return next
}

func (r Roster) clone() Roster {
	next := Roster{
		members:   slices.Clone(r.members),
		nextSeq:   r.nextSeq,
		lastRaise: make(map[domain.ParticipantID]time.Time, len(r.lastRaise)),
		version:   r.version + 1,
	}
	for k, v := range r.lastRaise {
		next.lastRaise[k] = v
	}
	return next
}

// Version increases with every change, so an unchanged Version means
// Apply was a no-op.
func (r Roster) Version() uint64 { return r.version }

func (r Roster) Len() int { return len(r.members) }

func (r Roster) Get(id domain.ParticipantID) (domain.Participant, bool) {
	i := r.index(id)
	if i < 0 {
		return domain.Participant{}, false
	}
	return r.members[i], true
}

func (r Roster) Has(id domain.ParticipantID) bool { return r.index(id) >= 0 }

// Snapshot returns the participants in join order.
func (r Roster) Snapshot() []domain.Participant {
	return slices.Clone(r.members)
}

func (r Roster) IDs() []domain.ParticipantID {
	out := make([]domain.ParticipantID, len(r.members))
	for i, p := range r.members {
		out[i] = p.ID
	}
	return out
}

// HandQueue lists raised hands by raise time. Equal timestamps fall back to
// join order and then to participant ID so the order is always deterministic.
func (r Roster) HandQueue() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		if p.HandRaised {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Participant) int {
		if c := a.HandRaisedAt.Compare(b.HandRaisedAt); c != 0 {
			return c
		}
		switch {
		case a.JoinSeq < b.JoinSeq:
			return -1
		case a.JoinSeq > b.JoinSeq:
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
