package orch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/sfu"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (s *fakeSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrConnClosed
	}
	if s.full {
		return errors.New("queue full")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSignal) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSignal) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSignal) ofType(t *testing.T, typ protocol.Type) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeAll(t, s.frames, typ)
}

func decodeAll(t *testing.T, frames []core.Frame, typ protocol.Type) []protocol.Message {
	var out []protocol.Message
	for _, f := range frames {
		m, err := protocol.Decode(f)
		require.NoError(t, err)
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeMedia struct {
	mu          sync.Mutex
	control     []core.Frame
	controlOpen bool
	pending     bool
	offers      int
	added       []*webrtc.TrackLocalStaticRTP
	closed      bool

	onTrack       func(context.Context, *webrtc.TrackRemote)
	onRenegotiate func()
	onControl     func(core.Frame)
	onClosed      func()
}

var _ core.MediaConnection = (*fakeMedia)(nil)

func (m *fakeMedia) Start(context.Context) error { return nil }

func (m *fakeMedia) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	fn := m.onClosed
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *fakeMedia) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) ApplyOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (m *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error { return nil }

func (m *fakeMedia) CreateOffer() (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		return nil, core.ErrNegotiationPending
	}
	m.offers++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (m *fakeMedia) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (m *fakeMedia) OnICECandidate(func(webrtc.ICECandidateInit)) {}

func (m *fakeMedia) OnTrack(fn func(context.Context, *webrtc.TrackRemote)) { m.onTrack = fn }
func (m *fakeMedia) OnRenegotiate(fn func())                                  { m.onRenegotiate = fn }
func (m *fakeMedia) OnControl(fn func(core.Frame))                            { m.onControl = fn }
func (m *fakeMedia) OnClosed(fn func())                                       { m.onClosed = fn }

func (m *fakeMedia) SendControl(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.controlOpen {
		return errors.New("not open")
	}
	m.control = append(m.control, f)
	return nil
}

func (m *fakeMedia) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, track)
	return nil, nil
}

func (m *fakeMedia) RemoveTrack(*webrtc.RTPSender) error { return nil }

func (m *fakeMedia) offerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers
}

func (m *fakeMedia) addedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.added)
}

func (m *fakeMedia) controlOf(t *testing.T, typ protocol.Type) []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decodeAll(t, m.control, typ)
}

type fakeSource struct {
	id      string
	kind    webrtc.RTPCodecType
	packets chan *rtp.Packet
}

func newFakeSource(id string, kind webrtc.RTPCodecType) *fakeSource {
	return &fakeSource{id: id, kind: kind, packets: make(chan *rtp.Packet, 8)}
}

func (s *fakeSource) ID() string                { return s.id }
func (s *fakeSource) Kind() webrtc.RTPCodecType { return s.kind }

func (s *fakeSource) Codec() webrtc.RTPCodecParameters {
	if s.kind == webrtc.RTPCodecTypeVideo {
		return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}}
	}
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}}
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-s.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

type env struct {
	t    *testing.T
	o    *Orchestrator
	now  time.Time
	room domain.RoomID
}

func newEnv(t *testing.T) *env {
	e := &env{t: t, now: time.Unix(1700000000, 0)}
	e.o = &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   &app.StrikePolicy{MaxStrikes: 1},
		Relays:   sfu.NewRelayManager(),
		Limiter:  app.NewRoomRateLimiter(3, time.Minute),
		Now:      func() time.Time { return e.now },
	}
	e.room = e.o.Rooms.CreateRoom("Physics").Room().ID
	return e
}

func (e *env) connect(sid core.SessionID) *fakeSignal {
	sig := &fakeSignal{}
	sess := core.NewMemberSession(domain.NewMember(e.o.Registry.GetOrCreateUser(sid))).UpdateSignal(sig)
	e.o.Registry.BindSignal(sid, sess, nil)
	return sig
}

func (e *env) join(sid core.SessionID, name string) (*fakeSignal, JoinResult) {
	sig := e.connect(sid)
	res, err := e.o.Join(sid, e.room, name, domain.RoleGuest)
	require.NoError(e.t, err)
	return sig, res
}

func (e *env) attachMedia(sid core.SessionID) *fakeMedia {
	mc := &fakeMedia{}
	sess, ok := e.o.Registry.GetSession(sid)
	require.True(e.t, ok)
	sess.UpdateMedia(mc)
	e.o.BindMediaHandlers(mc, sid)
	return mc
}

func (e *env) publish(sid core.SessionID, src *fakeSource) *sfu.Relay {
	e.o.OnTrack(context.Background(), sid, src)
	e.t.Cleanup(func() { e.o.Relays.StopRelays(sid) })
	relays := e.o.Relays.Relays(sid)
	for _, r := range relays {
		if r.Key.TrackID == src.id {
			return r
		}
	}
	e.t.Fatalf("no relay for %s/%s", sid, src.id)
	return nil
}

func (e *env) control(sid core.SessionID, m protocol.Message) error {
	return e.o.Control(sid, m)
}
