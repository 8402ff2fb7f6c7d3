package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Classroom/internal/adapters/rtc"
	"github.com/dkeye/Classroom/internal/client/binder"
	"github.com/dkeye/Classroom/internal/client/media"
	"github.com/dkeye/Classroom/internal/client/session"
	"github.com/dkeye/Classroom/internal/config"
	"github.com/dkeye/Classroom/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fs := pflag.NewFlagSet("participant", pflag.ExitOnError)
	config.ParticipantFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadParticipant(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	api, err := rtc.NewAPI(cfg.WebRTC)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webrtc api")
	}

	pid := domain.ParticipantID(uuid.NewString())
	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: "ct", Value: string(pid)}).String())

	var devices media.Devices
	if cfg.Media.AudioFile != "" || cfg.Media.VideoFile != "" || cfg.Media.ScreenFile != "" {
		devices = &media.FileDevices{
			AudioFile:  cfg.Media.AudioFile,
			VideoFile:  cfg.Media.VideoFile,
			ScreenFile: cfg.Media.ScreenFile,
			StreamID:   string(pid),
		}
	}

	c := session.New(session.Options{
		Dial:               session.WebsocketDialer(cfg.Server, header),
		NewPeer:            session.PionPeers(api),
		Devices:            devices,
		Constraints:        media.ConstraintsFromConfig(cfg.Media),
		Retry:              session.RetryFromConfig(cfg.Retry),
		NegotiationTimeout: cfg.NegotiationTimeout,
	})

	go func() {
		<-ctx.Done()
		c.Disconnect()
	}()

	go func() {
		err := c.InitializeConnection(ctx, domain.RoomID(cfg.Room), pid, cfg.Name, domain.ParseRole(cfg.Role))
		if err != nil {
			log.Error().Err(err).Msg("failed to join classroom")
			cancel()
			return
		}
		log.Info().Str("room", cfg.Room).Str("participant", string(pid)).Msg("joined classroom")
		if cfg.HandRaiseOn {
			if err := c.ToggleHand(true); err != nil {
				log.Warn().Err(err).Msg("raise hand")
			}
		}
	}()

	run(c, newRecorder(cfg.RecordDir))
	log.Info().Msg("participant exited")
}

// run consumes session events until the session ends.
func run(c *session.Controller, rec *recorder) {
	for ev := range c.Events() {
		switch ev := ev.(type) {
		case session.StateChanged:
			l := log.Info()
			if ev.Err != nil {
				l = log.Warn().Err(ev.Err)
			}
			l.Str("state", string(ev.State)).Msg("connection state")
		case session.RosterChanged:
			queue := ev.Roster.HandQueue()
			names := make([]string, 0, len(queue))
			for _, p := range queue {
				names = append(names, p.Name)
			}
			log.Info().Int("members", ev.Roster.Len()).Strs("hands", names).Msg("roster")
		case session.ChatReceived:
			log.Info().Str("from", ev.Message.SenderName).Uint64("seq", ev.Message.Seq).Msg(ev.Message.Text)
		case session.RemoteStreamAdded, session.RemoteStreamRemoved:
			rec.render(c.RemoteStreams())
		case session.MediaError:
			var access *media.MediaAccessError
			if errors.As(ev.Err, &access) {
				log.Warn().Str("kind", string(access.Kind)).Err(access.Err).Msg("media unavailable")
				continue
			}
			log.Warn().Err(ev.Err).Msg("media unavailable")
		case session.ServerError:
			log.Warn().Str("error", ev.Message).Msg("server error")
		}
	}
	rec.wait()
}

// recorder binds remote streams to per-participant file sinks.
type recorder struct {
	dir    string
	binder *binder.Binder
	sinks  map[domain.ParticipantID]binder.Sink
	files  []*media.FileSink
}

func newRecorder(dir string) *recorder {
	return &recorder{
		dir:    dir,
		binder: binder.New(3),
		sinks:  make(map[domain.ParticipantID]binder.Sink),
	}
}

func (r *recorder) render(streams []*media.RemoteStream) {
	if r.dir == "" {
		return
	}
	for _, s := range streams {
		if _, ok := r.sinks[s.ParticipantID()]; ok {
			continue
		}
		sink, err := media.NewFileSink(string(s.ParticipantID()), r.dir)
		if err != nil {
			log.Error().Err(err).Msg("create recording sink")
			return
		}
		r.sinks[s.ParticipantID()] = sink
		r.files = append(r.files, sink)
	}
	res := r.binder.Render(streams, r.sinks)
	log.Debug().Int("attached", len(res.Attached)).Int("pending", len(res.Pending)).Int("failed", len(res.Failed)).Msg("render")
}

func (r *recorder) wait() {
	for _, f := range r.files {
		f.Wait()
	}
}
