package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// LocalStream owns captured tracks and their hardware handles.
// Stop releases everything exactly once and may be called any number of times.
type LocalStream struct {
	id       string
	settings Constraints
	audio    *LocalTrack
	video    *LocalTrack

	cancel   context.CancelFunc
	wg       conc.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// NewLocalStream starts pumping every non-nil track.
func NewLocalStream(id string, settings Constraints, tracks ...*LocalTrack) *LocalStream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalStream{id: id, settings: settings, cancel: cancel}
	for _, t := range tracks {
		if t == nil {
			continue
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			s.audio = t
		case webrtc.RTPCodecTypeVideo:
			s.video = t
		}
		s.wg.Go(func() { t.pump(ctx) })
	}
	return s
}

func (s *LocalStream) ID() string            { return s.id }
func (s *LocalStream) Settings() Constraints { return s.settings }
func (s *LocalStream) Audio() *LocalTrack    { return s.audio }
func (s *LocalStream) Video() *LocalTrack    { return s.video }

func (s *LocalStream) Tracks() []*LocalTrack {
	out := make([]*LocalTrack, 0, 2)
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

// SetAudioEnabled toggles the audio track's enabled flag without touching
// the connection. It reports false when the stream has no audio track.
func (s *LocalStream) SetAudioEnabled(on bool) bool {
	if s.audio == nil {
		return false
	}
	s.audio.SetEnabled(on)
	return true
}

func (s *LocalStream) SetVideoEnabled(on bool) bool {
	if s.video == nil {
		return false
	}
	s.video.SetEnabled(on)
	return true
}

func (s *LocalStream) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *LocalStream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		for _, t := range s.Tracks() {
			t.close()
		}
		s.wg.Wait()
		log.Info().Str("module", "media").Str("stream", s.id).Msg("local stream stopped")
	})
}
