package domain

// Member represents user's participation meta for a room.
// Per-room flags (mute, hand) live in the room roster, not here.
type Member struct {
	User *User
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{User: user}
}

// Participant converts the member into the roster representation.
func (m *Member) Participant() Participant {
	return Participant{
		ID:      ParticipantID(m.User.ID),
		Name:    m.User.Username,
		Role:    m.User.Role,
		VideoOn: true,
	}
}
