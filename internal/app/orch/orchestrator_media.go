package orch

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/sfu"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/protocol"
)

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote) {
		o.OnTrack(trackCtx, sid, track)
	})
	mc.OnRenegotiate(func() { o.Renegotiate(sid) })
	mc.OnControl(func(f core.Frame) { o.OnControlFrame(sid, f) })
	mc.OnClosed(func() { o.OnMediaDisconnect(sid, mc) })
}

// OnMediaDisconnect cleans up when mc closes on its own. A connection that
// was already replaced or detached is ignored.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID, mc core.MediaConnection) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media() != mc {
		return
	}
	o.cleanupMedia(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	if o.Relays != nil {
		for _, mate := range o.Registry.RoomMates(sid) {
			o.unsubscribe(sid, mate)
			o.Relays.MarkSubscriberDelete(mate.SID, sid)
		}
		o.Relays.StopRelays(sid)
	}

	if sess, ok := o.Registry.GetSession(sid); ok {
		if mc := sess.Media(); mc != nil {
			sess.UpdateMedia(nil)
			mc.Close()
		}
	}
}

// unsubscribe detaches dst from every track src publishes and drops the
// matching senders from dst's peer connection.
func (o *Orchestrator) unsubscribe(src core.SessionID, dst app.RegSnap) {
	outs := o.Relays.MarkSubscriberDelete(src, dst.SID)
	mc := dst.Session.Media()
	if mc == nil || len(outs) == 0 {
		return
	}
	removed := 0
	for _, ot := range outs {
		if ot.Sender == nil {
			continue
		}
		if err := mc.RemoveTrack(ot.Sender); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(dst.SID)).Msg("remove track")
			continue
		}
		removed++
	}
	if removed > 0 {
		o.Renegotiate(dst.SID)
	}
}

// OnTrack is called when a new remote media track appears for a given session.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, src sfu.Source) {
	if o.Relays == nil {
		return
	}
	if sess, ok := o.Registry.GetSession(sid); !ok || sess.Media() == nil {
		return
	}
	relay := o.Relays.StartRelay(ctx, sid, src)

	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		log.Info().
			Str("module", "sfu").
			Str("sid", string(sid)).
			Msg("OnTrack: no room for sid")
		return
	}
	if room, ok := o.Rooms.GetRoom(roomID); ok {
		if p, ok := room.Member(sid); ok {
			switch src.Kind() {
			case webrtc.RTPCodecTypeAudio:
				relay.SetMuted(p.Muted)
			case webrtc.RTPCodecTypeVideo:
				relay.SetMuted(!p.VideoOn)
			}
		}
	}

	for _, mate := range o.Registry.RoomMates(sid) {
		if o.subscribe(relay, mate) {
			o.Renegotiate(mate.SID)
		}
	}
}

// OnMediaReady is called when MediaConnection is attached to the session (offer/answer done).
// It subscribes this user as a subscriber to all existing relays in the same room.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		return
	}
	self := app.RegSnap{SID: sid, Session: sess}

	added := false
	for _, mate := range o.Registry.RoomMates(sid) {
		for _, relay := range o.Relays.Relays(mate.SID) {
			if o.subscribe(relay, self) {
				added = true
			}
		}
	}
	if added {
		o.Renegotiate(sid)
	}
}

// subscribe adds a local copy of relay's track to dst's peer connection.
// It reports whether dst's connection needs a new offer.
func (o *Orchestrator) subscribe(relay *sfu.Relay, dst app.RegSnap) bool {
	mc := dst.Session.Media()
	if mc == nil || mc.IsClosed() {
		return false
	}
	if ot, ok := relay.OutTrack(dst.SID); ok && ot.GetState() != sfu.TrackStateDelete {
		return false
	}

	logger := log.With().
		Str("module", "sfu").
		Str("src_sid", string(relay.Key.SID)).
		Str("dst_sid", string(dst.SID)).
		Str("track_id", relay.Key.TrackID).
		Logger()

	local, err := webrtc.NewTrackLocalStaticRTP(
		relay.Src.Codec().RTPCodecCapability,
		relay.Key.TrackID,
		string(relay.Key.SID),
	)
	if err != nil {
		logger.Error().Err(err).Msg("create local track")
		return false
	}
	sender, err := mc.AddLocalTrack(local)
	if err != nil {
		logger.Error().Err(err).Msg("add local track")
		return false
	}
	o.Relays.AddSubscriber(relay.Key, dst.SID, sfu.NewOutTrack(local, sender))
	logger.Info().Msg("subscribed")
	return true
}

// Renegotiate sends a server offer to sid. If an offer is already in
// flight the connection calls back once it is answered.
func (o *Orchestrator) Renegotiate(sid core.SessionID) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil || mc.IsClosed() {
		return
	}
	offer, err := mc.CreateOffer()
	if errors.Is(err, core.ErrNegotiationPending) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("create offer")
		return
	}
	if err := o.Send(sid, protocol.Description(*offer)); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send offer")
	}
}
