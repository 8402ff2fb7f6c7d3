// Package binder attaches remote streams to playback sinks exactly once
// per (participant, stream, sink) triple.
package binder

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/client/media"
	"github.com/dkeye/Classroom/internal/domain"
)

// Sink is a playback target. Attach must start consuming the stream.
type Sink interface {
	ID() string
	Attach(stream *media.RemoteStream) error
}

type Result struct {
	Attached []domain.MediaTrackBinding
	// Pending streams have no sink yet and are retried on the next Render.
	Pending []domain.ParticipantID
	// Failed bindings exhausted their attach attempts.
	Failed []domain.MediaTrackBinding
}

type Binder struct {
	maxAttempts int

	mu       sync.Mutex
	bound    map[domain.ParticipantID]binding
	failures map[domain.MediaTrackBinding]int
}

// binding remembers which stream instance a triple was attached with; a
// participant who rejoins gets a new stream under the same key.
type binding struct {
	triple domain.MediaTrackBinding
	key    media.StreamKey
	stream *media.RemoteStream
}

// New returns a binder that gives up on a triple after maxAttempts failed
// attaches. maxAttempts < 1 means a single attempt.
func New(maxAttempts int) *Binder {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Binder{
		maxAttempts: maxAttempts,
		bound:       make(map[domain.ParticipantID]binding),
		failures:    make(map[domain.MediaTrackBinding]int),
	}
}

// Render reconciles the current streams with the currently mounted sinks.
// It is safe to call on every state change; already bound triples are
// skipped, changed sinks or streams are re-bound, and bindings of streams
// no longer present are forgotten.
func (b *Binder) Render(streams []*media.RemoteStream, sinks map[domain.ParticipantID]Sink) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res Result
	present := make(map[domain.ParticipantID]struct{}, len(streams))
	for _, s := range streams {
		present[s.ParticipantID()] = struct{}{}
		sink, ok := sinks[s.ParticipantID()]
		if !ok || sink == nil {
			res.Pending = append(res.Pending, s.ParticipantID())
			continue
		}
		triple := domain.MediaTrackBinding{ParticipantID: s.ParticipantID(), StreamID: s.ID(), SinkID: sink.ID()}
		if cur, ok := b.bound[s.ParticipantID()]; ok && cur.triple == triple && cur.stream == s {
			continue
		}
		if b.failures[triple] >= b.maxAttempts {
			continue
		}
		if err := sink.Attach(s); err != nil {
			b.failures[triple]++
			log.Warn().Err(err).Str("module", "binder").Str("participant", string(s.ParticipantID())).
				Str("sink", triple.SinkID).Int("attempt", b.failures[triple]).Msg("attach failed")
			if b.failures[triple] >= b.maxAttempts {
				res.Failed = append(res.Failed, triple)
			}
			continue
		}
		delete(b.failures, triple)
		if cur, ok := b.bound[s.ParticipantID()]; ok && cur.key == s.Key() && cur.stream != s {
			log.Debug().Str("module", "binder").Str("participant", string(s.ParticipantID())).Str("stream", s.ID()).Msg("stream replaced, re-bound")
		}
		b.bound[s.ParticipantID()] = binding{triple: triple, key: s.Key(), stream: s}
		res.Attached = append(res.Attached, triple)
	}

	for pid := range b.bound {
		if _, ok := present[pid]; !ok {
			delete(b.bound, pid)
		}
	}
	for triple := range b.failures {
		if _, ok := present[triple.ParticipantID]; !ok {
			delete(b.failures, triple)
		}
	}
	return res
}

// Bindings returns the current bindings.
func (b *Binder) Bindings() []domain.MediaTrackBinding {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.MediaTrackBinding, 0, len(b.bound))
	for _, t := range b.bound {
		out = append(out, t.triple)
	}
	return out
}
