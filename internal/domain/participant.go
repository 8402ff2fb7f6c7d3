package domain

import "time"

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

func ParseRole(s string) Role {
	if Role(s) == RoleHost {
		return RoleHost
	}
	return RoleGuest
}

// Participant is one member of a classroom session with its transient state.
// Connection and track handles are owned elsewhere and referenced by ID only.
type Participant struct {
	ID           ParticipantID `json:"id"`
	Name         string        `json:"name"`
	Role         Role          `json:"role"`
	Muted        bool          `json:"muted"`
	VideoOn      bool          `json:"video_on"`
	Sharing      bool          `json:"sharing"`
	HandRaised   bool          `json:"hand_raised"`
	HandRaisedAt time.Time     `json:"hand_raised_at,omitzero"`
	JoinSeq      uint64        `json:"join_seq"`
}

type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// Terminal reports whether no further transitions are expected without a new session.
func (s ConnectionState) Terminal() bool {
	return s == StateDisconnected || s == StateError
}
