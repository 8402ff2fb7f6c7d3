package session

import "fmt"

// PeerState is the negotiation state of the connection to the server.
type PeerState string

const (
	PeerIdle           PeerState = "idle"
	PeerOffering       PeerState = "offering"
	PeerAwaitingAnswer PeerState = "awaiting-answer"
	PeerConnected      PeerState = "connected"
	PeerFailed         PeerState = "failed"
	PeerClosed         PeerState = "closed"
)

var transitions = map[PeerState][]PeerState{
	PeerIdle:           {PeerOffering, PeerClosed},
	PeerOffering:       {PeerAwaitingAnswer, PeerFailed, PeerClosed},
	PeerAwaitingAnswer: {PeerConnected, PeerFailed, PeerClosed},
	PeerConnected:      {PeerFailed, PeerClosed},
	PeerFailed:         {PeerOffering, PeerClosed},
	PeerClosed:         {},
}

func (s PeerState) CanTransition(to PeerState) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type peerMachine struct {
	state PeerState
}

func (m *peerMachine) to(next PeerState) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	m.state = next
	return nil
}
