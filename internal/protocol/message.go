// Package protocol defines the JSON messages exchanged between classroom
// participants and the server, over the signaling websocket and the
// "control" data channel alike.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Classroom/internal/domain"
)

type Type string

const (
	TypeJoin      Type = "join"
	TypeLeave     Type = "leave"
	TypeLeft      Type = "left"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
	TypeRename    Type = "rename"
	TypeWhoAmI    Type = "whoami"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeError     Type = "error"

	TypeChat         Type = "chat"
	TypeMuteChanged  Type = "mute-changed"
	TypeVideoChanged Type = "video-changed"
	TypeHandRaised   Type = "hand-raised"
	TypeScreenShare  Type = "screen-share"

	TypeRoomState     Type = "room_state"
	TypeMemberJoined  Type = "member_joined"
	TypeMemberLeft    Type = "member_left"
	TypeMemberUpdated Type = "member_updated"
)

// ControlLabel is the label of the reliable ordered data channel that
// carries chat and participant state changes.
const ControlLabel = "control"

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

var known = map[Type]struct{}{
	TypeJoin: {}, TypeLeave: {}, TypeLeft: {}, TypePing: {}, TypePong: {},
	TypeRename: {}, TypeWhoAmI: {}, TypeOffer: {}, TypeAnswer: {},
	TypeCandidate: {}, TypeError: {}, TypeChat: {}, TypeMuteChanged: {},
	TypeVideoChanged: {}, TypeHandRaised: {}, TypeScreenShare: {},
	TypeRoomState: {}, TypeMemberJoined: {}, TypeMemberLeft: {},
	TypeMemberUpdated: {},
}

// IsControl reports whether t is a participant control event that the
// server fans out to room mates.
func (t Type) IsControl() bool {
	switch t {
	case TypeChat, TypeMuteChanged, TypeVideoChanged, TypeHandRaised, TypeScreenShare:
		return true
	}
	return false
}

// Message is the union of every signaling and control payload.
// Only the fields relevant to Type are set.
type Message struct {
	Type Type                 `json:"type"`
	From domain.ParticipantID `json:"from,omitempty"`

	Name     string          `json:"name,omitempty"`
	Role     domain.Role     `json:"role,omitempty"`
	Room     domain.RoomID   `json:"room,omitempty"`
	RoomName domain.RoomName `json:"room_name,omitempty"`

	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	// ID is a client-generated chat message ID, kept by the server.
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Value *bool  `json:"value,omitempty"`
	// At is a unix millisecond timestamp, set by the server on hand raises.
	At int64 `json:"at,omitempty"`

	Chat    *domain.ChatMessage  `json:"chat,omitempty"`
	User    *domain.Participant  `json:"user,omitempty"`
	Members []domain.Participant `json:"members,omitempty"`
	History []domain.ChatMessage `json:"history,omitempty"`

	Error string `json:"error,omitempty"`
}

// Decode parses a message. Unknown types return the decoded message
// together with ErrUnknownType so callers can log the type and move on.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if _, ok := known[m.Type]; !ok {
		return m, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if err := m.validate(); err != nil {
		return m, err
	}
	return m, nil
}

func (m Message) validate() error {
	switch m.Type {
	case TypeOffer, TypeAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMalformed, m.Type)
		}
	case TypeCandidate:
		if m.Candidate == "" {
			return fmt.Errorf("%w: empty candidate", ErrMalformed)
		}
	case TypeMuteChanged, TypeVideoChanged, TypeHandRaised, TypeScreenShare:
		if m.Value == nil {
			return fmt.Errorf("%w: %s without value", ErrMalformed, m.Type)
		}
	case TypeChat:
		if m.Text == "" && m.Chat == nil {
			return fmt.Errorf("%w: empty chat", ErrMalformed)
		}
	case TypeMemberJoined, TypeMemberUpdated:
		if m.User == nil || m.User.ID == "" {
			return fmt.Errorf("%w: %s without user", ErrMalformed, m.Type)
		}
	case TypeMemberLeft:
		if m.From == "" {
			return fmt.Errorf("%w: member_left without id", ErrMalformed)
		}
	}
	return nil
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Flag returns Value, defaulting to false.
func (m Message) Flag() bool {
	return m.Value != nil && *m.Value
}

func (m Message) Time() time.Time {
	if m.At == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.At)
}

func boolPtr(v bool) *bool { return &v }

func Join(room domain.RoomID, name string, role domain.Role) Message {
	return Message{Type: TypeJoin, Room: room, Name: name, Role: role}
}

func Chat(id, text string) Message { return Message{Type: TypeChat, ID: id, Text: text} }

func Mute(muted bool) Message { return Message{Type: TypeMuteChanged, Value: boolPtr(muted)} }

func Video(on bool) Message { return Message{Type: TypeVideoChanged, Value: boolPtr(on)} }

func Hand(raised bool) Message { return Message{Type: TypeHandRaised, Value: boolPtr(raised)} }

func ScreenShare(on bool) Message { return Message{Type: TypeScreenShare, Value: boolPtr(on)} }

func Errorf(format string, args ...any) Message {
	return Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

func Description(sd webrtc.SessionDescription) Message {
	t := TypeOffer
	if sd.Type == webrtc.SDPTypeAnswer {
		t = TypeAnswer
	}
	return Message{Type: t, SDP: sd.SDP}
}

// SessionDescription converts an offer or answer message back into pion's type.
func (m Message) SessionDescription() webrtc.SessionDescription {
	sd := webrtc.SessionDescription{SDP: m.SDP, Type: webrtc.SDPTypeOffer}
	if m.Type == TypeAnswer {
		sd.Type = webrtc.SDPTypeAnswer
	}
	return sd
}

func Candidate(ci webrtc.ICECandidateInit) Message {
	return Message{
		Type:          TypeCandidate,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func (m Message) ICECandidate() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	}
}
