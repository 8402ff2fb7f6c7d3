package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// Source produces encoded samples for a local track. NextSample returns
// io.EOF when the source is exhausted. Close unblocks a pending NextSample.
type Source interface {
	NextSample() (pionmedia.Sample, error)
	Close() error
}

// LocalTrack pumps samples from a Source into a pion static track while
// enabled. Disabling drops samples; the RTP sender and transport stay up.
type LocalTrack struct {
	kind    webrtc.RTPCodecType
	track   *webrtc.TrackLocalStaticSample
	source  Source
	enabled atomic.Bool
	written atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
}

func NewLocalTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability, id, streamID string, src Source) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{kind: kind, track: track, source: src}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *LocalTrack) ID() string                { return t.track.ID() }
func (t *LocalTrack) Track() webrtc.TrackLocal  { return t.track }
func (t *LocalTrack) Enabled() bool             { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(on bool)        { t.enabled.Store(on) }

// Written is the number of samples handed to the track since start.
func (t *LocalTrack) Written() uint64 { return t.written.Load() }
func (t *LocalTrack) Dropped() uint64 { return t.dropped.Load() }

func (t *LocalTrack) pump(ctx context.Context) {
	logger := log.With().Str("module", "media").Str("track", t.ID()).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		sample, err := t.source.NextSample()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Error().Err(err).Msg("source read error, stopping pump")
			}
			return
		}
		if !t.enabled.Load() {
			t.dropped.Add(1)
		} else if err := t.track.WriteSample(sample); err != nil {
			logger.Error().Err(err).Msg("write sample")
		} else {
			t.written.Add(1)
		}
		if sample.Duration <= 0 {
			continue
		}
		timer := time.NewTimer(sample.Duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *LocalTrack) close() {
	t.closeOnce.Do(func() {
		if err := t.source.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("track", t.ID()).Msg("source close")
		}
	})
}
