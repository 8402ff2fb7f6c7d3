package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// FileSink is a playback sink that records a participant's stream to disk:
// Opus to <dir>/<participant>-<track>.ogg, VP8 to .ivf. A later stream
// with the same tracks, as after a rejoin, is recorded to numbered files.
type FileSink struct {
	id  string
	dir string

	mu       sync.Mutex
	attached map[recording]struct{}
	takes    map[string]int
	wg       conc.WaitGroup
}

type recording struct {
	stream *RemoteStream
	track  string
}

func NewFileSink(id, dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record dir: %w", err)
	}
	return &FileSink{
		id:       id,
		dir:      dir,
		attached: make(map[recording]struct{}),
		takes:    make(map[string]int),
	}, nil
}

func (s *FileSink) ID() string { return s.id }

// Attach records every current and future track of the stream. Tracks
// already recorded are skipped; unsupported codecs are logged and ignored.
func (s *FileSink) Attach(stream *RemoteStream) error {
	stream.Subscribe(func(track RemoteTrack) {
		if err := s.start(stream, track); err != nil {
			log.Warn().Err(err).Str("module", "media.sink").Str("sink", s.id).Str("track", track.ID()).Msg("cannot record track")
		}
	})
	return nil
}

func (s *FileSink) start(stream *RemoteStream, track RemoteTrack) error {
	key := recording{stream: stream, track: track.ID()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attached[key]; ok {
		return nil
	}
	w, err := s.writerFor(stream, track)
	if err != nil {
		return err
	}
	s.attached[key] = struct{}{}
	s.wg.Go(func() {
		record(track, w)
		s.mu.Lock()
		delete(s.attached, key)
		s.mu.Unlock()
	})
	return nil
}

func (s *FileSink) writerFor(stream *RemoteStream, track RemoteTrack) (rtpWriter, error) {
	name := string(stream.ParticipantID()) + "-" + track.ID()
	s.takes[name]++
	if n := s.takes[name]; n > 1 {
		name = fmt.Sprintf("%s-%d", name, n)
	}
	base := filepath.Join(s.dir, name)
	codec := track.Codec()
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		return oggwriter.New(base+".ogg", codec.ClockRate, codec.Channels)
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		return ivfwriter.New(base + ".ivf")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec.MimeType)
	}
}

func record(track RemoteTrack, w rtpWriter) {
	logger := log.With().Str("module", "media.sink").Str("track", track.ID()).Logger()
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn().Err(err).Msg("recorder close")
		}
	}()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Info().Err(err).Msg("remote track ended")
			}
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("recorder write")
			return
		}
	}
}

// Wait blocks until every recorder has drained its track.
func (s *FileSink) Wait() { s.wg.Wait() }
