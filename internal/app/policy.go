package app

import (
	"sync"

	"github.com/dkeye/Classroom/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
	Forget(member core.MemberSession)
}

// StrikePolicy tolerates a few full send queues per member before kicking.
// A zero MaxStrikes kicks on the first one.
type StrikePolicy struct {
	MaxStrikes int

	mu      sync.Mutex
	strikes map[core.MemberSession]int
}

func (p *StrikePolicy) OnBackPressure(_ core.RoomService, member core.MemberSession) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.strikes == nil {
		p.strikes = make(map[core.MemberSession]int)
	}
	p.strikes[member]++
	if p.strikes[member] > p.MaxStrikes {
		delete(p.strikes, member)
		return KickMember
	}
	return MarkSlow
}

// Forget drops the strike count of a member that left.
func (p *StrikePolicy) Forget(member core.MemberSession) {
	p.mu.Lock()
	delete(p.strikes, member)
	p.mu.Unlock()
}
