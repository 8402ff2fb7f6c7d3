package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusClockRate = 48000

var (
	OpusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
	VP8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// FileDevices stands in for capture hardware with Ogg/Opus and IVF/VP8
// files. A missing file behaves like an absent device; an unreadable one
// like a denied permission.
type FileDevices struct {
	AudioFile  string
	VideoFile  string
	ScreenFile string
	// StreamID is the msid of captured streams, normally the participant ID.
	StreamID string
}

func (d *FileDevices) GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tracks []*LocalTrack
	cleanup := func() {
		for _, t := range tracks {
			t.close()
		}
	}

	if c.Audio {
		src, err := openOgg(d.AudioFile, c)
		if err != nil {
			return nil, err
		}
		t, err := NewLocalTrack(webrtc.RTPCodecTypeAudio, OpusCodec, "audio", d.StreamID, src)
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		src, err := openIVF(d.VideoFile)
		if err != nil {
			cleanup()
			return nil, err
		}
		t, err := NewLocalTrack(webrtc.RTPCodecTypeVideo, VP8Codec, "video", d.StreamID, src)
		if err != nil {
			_ = src.Close()
			cleanup()
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return NewLocalStream(d.StreamID, c, tracks...), nil
}

func (d *FileDevices) GetDisplayMedia(ctx context.Context) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.ScreenFile == "" {
		return nil, ErrShareCancelled
	}
	src, err := openIVF(d.ScreenFile)
	if err != nil {
		return nil, err
	}
	// screen frames go out on the camera's stream so peers keep one binding
	t, err := NewLocalTrack(webrtc.RTPCodecTypeVideo, VP8Codec, "screen", d.StreamID, src)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return NewLocalStream(d.StreamID+"-screen", Constraints{Video: true}, t), nil
}

func openDevice(path string) (*os.File, error) {
	if path == "" {
		return nil, ErrNoDevice
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case err != nil:
		return nil, err
	}
	return f, nil
}

type oggSource struct {
	f           *os.File
	reader      *oggreader.OggReader
	lastGranule uint64
}

func openOgg(path string, c Constraints) (*oggSource, error) {
	f, err := openDevice(path)
	if err != nil {
		return nil, err
	}
	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if c.SampleRate != 0 && header.SampleRate != c.SampleRate {
		_ = f.Close()
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrOverconstrained, header.SampleRate, c.SampleRate)
	}
	if c.ChannelCount != 0 && uint16(header.Channels) != c.ChannelCount {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %d channels, want %d", ErrOverconstrained, header.Channels, c.ChannelCount)
	}
	return &oggSource{f: f, reader: reader}, nil
}

func (s *oggSource) NextSample() (pionmedia.Sample, error) {
	page, header, err := s.reader.ParseNextPage()
	if err != nil {
		return pionmedia.Sample{}, err
	}
	samples := header.GranulePosition - s.lastGranule
	s.lastGranule = header.GranulePosition
	duration := time.Duration(samples) * time.Second / opusClockRate
	return pionmedia.Sample{Data: page, Duration: duration}, nil
}

func (s *oggSource) Close() error { return s.f.Close() }

type ivfSource struct {
	f        *os.File
	reader   *ivfreader.IVFReader
	duration time.Duration
}

func openIVF(path string) (*ivfSource, error) {
	f, err := openDevice(path)
	if err != nil {
		return nil, err
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if header.FourCC != "VP80" {
		_ = f.Close()
		return nil, fmt.Errorf("%w: codec %s", ErrOverconstrained, header.FourCC)
	}
	var frame time.Duration
	if header.TimebaseDenominator > 0 {
		frame = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}
	return &ivfSource{f: f, reader: reader, duration: frame}, nil
}

func (s *ivfSource) NextSample() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if err != nil {
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.duration}, nil
}

func (s *ivfSource) Close() error { return s.f.Close() }

var (
	_ Source = (*oggSource)(nil)
	_ Source = (*ivfSource)(nil)
)
