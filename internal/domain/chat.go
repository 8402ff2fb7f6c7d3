package domain

import "time"

// ChatMessage is immutable once created. Seq is the receipt order in the log.
type ChatMessage struct {
	ID         string        `json:"id"`
	SenderID   ParticipantID `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Text       string        `json:"text"`
	Seq        uint64        `json:"seq"`
	SentAt     time.Time     `json:"sent_at"`
}

const MaxChatTextLen = 2000

// ChatLog is an append-only, receipt-ordered message log.
type ChatLog struct {
	messages []ChatMessage
	seq      uint64
}

// Append assigns the next receipt sequence and stores the message.
func (l *ChatLog) Append(m ChatMessage) ChatMessage {
	l.seq++
	m.Seq = l.seq
	l.messages = append(l.messages, m)
	return m
}

func (l *ChatLog) Len() int { return len(l.messages) }

// Messages returns a copy of the log.
func (l *ChatLog) Messages() []ChatMessage {
	out := make([]ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// MediaTrackBinding associates a participant stream with a playback sink.
type MediaTrackBinding struct {
	ParticipantID ParticipantID
	StreamID      string
	SinkID        string
}
