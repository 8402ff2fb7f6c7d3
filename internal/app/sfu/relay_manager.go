package sfu

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/metrics"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[TrackKey]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[TrackKey]*Relay),
	}
}

// StartRelay creates a Relay for one published track and starts its loop.
// A relay already running for the same track is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, src Source) *Relay {
	key := TrackKey{SID: sid, TrackID: src.ID()}
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(sid)).
		Str("track_id", key.TrackID).
		Str("kind", src.Kind().String()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(key, src, cancel)

	m.mu.Lock()
	old, replaced := m.relays[key]
	m.relays[key] = relay
	m.mu.Unlock()

	if replaced {
		logger.Info().Msg("replacing existing relay for track")
		old.stop()
	} else {
		metrics.RelayStarted()
	}

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
	return relay
}

// AddSubscriber attaches an OutTrack to the relay of key for dstSID.
func (m *RelayManager) AddSubscriber(key TrackKey, dstSID core.SessionID, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(dstSID, ot)
	return true
}

// MarkSubscriberDelete detaches dstSID from every track srcSID publishes
// and returns the detached out tracks.
func (m *RelayManager) MarkSubscriberDelete(srcSID, dstSID core.SessionID) []*OutTrack {
	var out []*OutTrack
	for _, relay := range m.Relays(srcSID) {
		if ot, ok := relay.OutTrack(dstSID); ok && ot.GetState() != TrackStateDelete {
			ot.MarkDelete()
			out = append(out, ot)
		}
	}
	return out
}

// StopRelays stops every relay of srcSID and removes them from the manager.
func (m *RelayManager) StopRelays(srcSID core.SessionID) []*Relay {
	m.mu.Lock()
	var stopped []*Relay
	for key, relay := range m.relays {
		if key.SID == srcSID {
			delete(m.relays, key)
			stopped = append(stopped, relay)
		}
	}
	m.mu.Unlock()

	for _, relay := range stopped {
		relay.stop()
		metrics.RelayStopped()
	}
	return stopped
}

// SetMuted mutes or unmutes forwarding of srcSID's tracks of kind and
// reports how many relays were affected.
func (m *RelayManager) SetMuted(srcSID core.SessionID, kind webrtc.RTPCodecType, muted bool) int {
	n := 0
	for _, relay := range m.Relays(srcSID) {
		if relay.Src.Kind() == kind {
			relay.SetMuted(muted)
			n++
		}
	}
	return n
}

// Relays lists the relays of srcSID ordered by track ID.
func (m *RelayManager) Relays(srcSID core.SessionID) []*Relay {
	m.mu.RLock()
	var out []*Relay
	for key, relay := range m.relays {
		if key.SID == srcSID {
			out = append(out, relay)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Relay) int { return strings.Compare(a.Key.TrackID, b.Key.TrackID) })
	return out
}

// HasRelay reports whether sid publishes anything.
func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	return len(m.Relays(sid)) > 0
}

func (m *RelayManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}
