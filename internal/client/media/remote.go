package media

import (
	"slices"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Classroom/internal/domain"
)

// RemoteTrack is the read side of an incoming track; *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

var _ RemoteTrack = (*webrtc.TrackRemote)(nil)

// RemoteStream is the live set of tracks one participant publishes. Like a
// browser MediaStream it can gain tracks after it was first announced;
// subscribers see every track exactly once.
type RemoteStream struct {
	participantID domain.ParticipantID
	id            string

	mu     sync.Mutex
	tracks []RemoteTrack
	subs   []func(RemoteTrack)
}

func NewRemoteStream(pid domain.ParticipantID, id string, tracks ...RemoteTrack) *RemoteStream {
	s := &RemoteStream{participantID: pid, id: id}
	for _, t := range tracks {
		s.AddTrack(t)
	}
	return s
}

func (s *RemoteStream) ParticipantID() domain.ParticipantID { return s.participantID }
func (s *RemoteStream) ID() string                          { return s.id }

// Key identifies the stream for exactly-once bookkeeping.
func (s *RemoteStream) Key() StreamKey {
	return StreamKey{ParticipantID: s.participantID, StreamID: s.id}
}

// AddTrack appends t unless a track with the same ID is already present.
func (s *RemoteStream) AddTrack(t RemoteTrack) bool {
	s.mu.Lock()
	for _, cur := range s.tracks {
		if cur.ID() == t.ID() {
			s.mu.Unlock()
			return false
		}
	}
	s.tracks = append(s.tracks, t)
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
	return true
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tracks)
}

// Subscribe replays current tracks to fn and delivers every later one.
func (s *RemoteStream) Subscribe(fn func(RemoteTrack)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	current := slices.Clone(s.tracks)
	s.mu.Unlock()

	for _, t := range current {
		fn(t)
	}
}

type StreamKey struct {
	ParticipantID domain.ParticipantID
	StreamID      string
}
