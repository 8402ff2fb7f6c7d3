package core

import (
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/roster"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a classroom.
// It owns membership, the roster and the chat log but never touches
// transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	// Members returns the roster in join order.
	Members() []domain.Participant
	Member(sid SessionID) (domain.Participant, bool)
	HandQueue() []domain.Participant

	// AddMember registers ms under sid and joins p to the roster.
	AddMember(sid SessionID, ms MemberSession, p domain.Participant) domain.Participant
	RemoveMember(sid SessionID) bool
	// Apply reduces ev into the roster and reports the resulting
	// participant and whether anything changed.
	Apply(ev roster.Event) (domain.Participant, bool)

	AppendChat(domain.ChatMessage) domain.ChatMessage
	// ChatHistory returns up to limit most recent messages, oldest first.
	ChatHistory(limit int) []domain.ChatMessage

	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

type RoomManager interface {
	CreateRoom(name domain.RoomName) RoomService
	GetRoom(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
