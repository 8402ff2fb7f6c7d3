package signal

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/adapters/rtc"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/protocol"
)

// handleOffer answers a participant offer. The first offer creates the
// peer connection; later ones renegotiate it.
func (ctl *SignalWSController) handleOffer(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	m protocol.Message,
) {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("offer: no session for")
		return
	}

	if mc := sess.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOffer(m.SessionDescription())
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
			ctl.send(conn, protocol.Errorf("offer rejected"))
			return
		}
		ctl.send(conn, protocol.Description(*answer))
		return
	}

	wc, err := rtc.NewWebRTCConnection(ctl.API, sid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.send(conn, protocol.Candidate(ci))
	})

	ctl.Orch.BindMediaHandlers(wc, sid)

	if err = wc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOffer(m.SessionDescription())
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		wc.Close()
		ctl.send(conn, protocol.Errorf("offer rejected"))
		return
	}

	sess.UpdateMedia(wc)
	ctl.send(conn, protocol.Description(*answer))
	ctl.Orch.OnMediaReady(sid)
}

func (ctl *SignalWSController) handleAnswer(
	sid core.SessionID,
	conn *WsSignalConn,
	m protocol.Message,
) {
	mc := ctl.media(sid)
	if mc == nil {
		return
	}
	if err := mc.ApplyAnswer(m.SessionDescription()); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("webrtc apply answer")
		ctl.send(conn, protocol.Errorf("answer rejected"))
	}
}

func (ctl *SignalWSController) handleCandidate(
	sid core.SessionID,
	m protocol.Message,
) {
	mc := ctl.media(sid)
	if mc == nil {
		return
	}
	if err := mc.AddICECandidate(m.ICECandidate()); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}

func (ctl *SignalWSController) media(sid core.SessionID) core.MediaConnection {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("no session for")
		return nil
	}
	mc := sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("no media connection for")
	}
	return mc
}
