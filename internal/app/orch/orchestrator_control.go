package orch

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/metrics"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/dkeye/Classroom/internal/roster"
)

// OnControlFrame handles a frame that arrived on sid's control data channel.
func (o *Orchestrator) OnControlFrame(sid core.SessionID, f core.Frame) {
	m, err := protocol.Decode(f)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("bad control frame")
		metrics.ControlEvent("invalid", "malformed")
		return
	}
	if !m.Type.IsControl() {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("type", string(m.Type)).Msg("non-control message on data channel")
		return
	}
	if err := o.Control(sid, m); err != nil {
		if sendErr := o.Send(sid, protocol.Errorf("%s: %v", m.Type, err)); sendErr != nil {
			log.Debug().Err(sendErr).Str("module", "orch").Str("sid", string(sid)).Msg("send control error")
		}
	}
}

// Control applies a participant control event to the roster or chat log
// and fans the result out to the classroom.
func (o *Orchestrator) Control(sid core.SessionID, m protocol.Message) (err error) {
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, app.ErrRateLimited):
			outcome = "rate_limited"
		case err != nil:
			outcome = "rejected"
		}
		metrics.ControlEvent(string(m.Type), outcome)
	}()

	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return app.ErrNotInRoom
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return app.ErrRoomNotFound
	}
	pid := sid.ParticipantID()

	switch m.Type {
	case protocol.TypeChat:
		return o.chat(room, sid, m)
	case protocol.TypeMuteChanged:
		muted := m.Flag()
		if _, changed := room.Apply(roster.MuteEvent(pid, muted)); !changed {
			return nil
		}
		o.setForwarding(sid, webrtc.RTPCodecTypeAudio, muted)
	case protocol.TypeVideoChanged:
		on := m.Flag()
		if _, changed := room.Apply(roster.VideoEvent(pid, on)); !changed {
			return nil
		}
		o.setForwarding(sid, webrtc.RTPCodecTypeVideo, !on)
	case protocol.TypeScreenShare:
		if _, changed := room.Apply(roster.ShareEvent(pid, m.Flag())); !changed {
			return nil
		}
	case protocol.TypeHandRaised:
		raised := m.Flag()
		if raised && !o.Limiter.Allow(domain.UserID(sid)) {
			return app.ErrRateLimited
		}
		p, changed := room.Apply(roster.HandEvent(pid, raised, o.now()))
		if !changed {
			return nil
		}
		out := protocol.Hand(raised)
		out.From = pid
		if raised {
			out.At = p.HandRaisedAt.UnixMilli()
		}
		o.fanout(room, sid, out)
		return nil
	default:
		return protocol.ErrUnknownType
	}

	out := protocol.Message{Type: m.Type, From: pid, Value: m.Value}
	o.fanout(room, sid, out)
	return nil
}

func (o *Orchestrator) chat(room core.RoomService, sid core.SessionID, m protocol.Message) error {
	text := m.Text
	if text == "" && m.Chat != nil {
		text = m.Chat.Text
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return app.ErrEmptyChat
	}
	if utf8.RuneCountInString(text) > domain.MaxChatTextLen {
		return app.ErrChatTooLong
	}
	if !o.Limiter.Allow(domain.UserID(sid)) {
		return app.ErrRateLimited
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	u, _ := o.Registry.User(sid)
	msg := room.AppendChat(domain.ChatMessage{
		ID:         id,
		SenderID:   sid.ParticipantID(),
		SenderName: u.Username,
		Text:       text,
		SentAt:     o.now(),
	})

	// The sender gets its own message back so it learns the receipt order.
	o.fanout(room, "", protocol.Message{
		Type: protocol.TypeChat,
		From: msg.SenderID,
		ID:   msg.ID,
		Text: msg.Text,
		Chat: &msg,
	})
	return nil
}

func (o *Orchestrator) setForwarding(sid core.SessionID, kind webrtc.RTPCodecType, muted bool) {
	if o.Relays == nil {
		return
	}
	n := o.Relays.SetMuted(sid, kind, muted)
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("kind", kind.String()).Bool("muted", muted).Int("relays", n).Msg("forwarding changed")
}

// fanout delivers a control message to every member of room except
// except, preferring the member's data channel over signaling.
func (o *Orchestrator) fanout(room core.RoomService, except core.SessionID, m protocol.Message) {
	data, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(m.Type)).Msg("encode control event")
		return
	}
	for _, snap := range o.Registry.MembersOfRoom(room.Room().ID) {
		if snap.SID == except {
			continue
		}
		if mc := snap.Session.Media(); mc != nil && mc.SendControl(data) == nil {
			continue
		}
		sig := snap.Session.Signal()
		if sig == nil {
			continue
		}
		if err := sig.TrySend(data); err != nil {
			metrics.FrameDropped()
			o.backpressure(room, snap.Session)
		}
	}
}
