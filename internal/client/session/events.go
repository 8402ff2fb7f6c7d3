package session

import (
	"github.com/dkeye/Classroom/internal/client/media"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/roster"
)

// Event is delivered on Controller.Events in the order the session
// observed it.
type Event interface {
	isEvent()
}

type StateChanged struct {
	State domain.ConnectionState
	Err   error
}

// RosterChanged carries an immutable roster snapshot.
type RosterChanged struct {
	Roster roster.Roster
}

type ChatReceived struct {
	Message domain.ChatMessage
}

// RemoteStreamAdded fires once per (participant, stream) pair.
type RemoteStreamAdded struct {
	Stream *media.RemoteStream
}

type RemoteStreamRemoved struct {
	ParticipantID domain.ParticipantID
	StreamID      string
}

// MediaError reports a capture failure; the session continues without
// the affected media.
type MediaError struct {
	Err error
}

// ServerError is an error message sent by the server.
type ServerError struct {
	Message string
}

func (StateChanged) isEvent()        {}
func (RosterChanged) isEvent()       {}
func (ChatReceived) isEvent()        {}
func (RemoteStreamAdded) isEvent()   {}
func (RemoteStreamRemoved) isEvent() {}
func (MediaError) isEvent()          {}
func (ServerError) isEvent()         {}
