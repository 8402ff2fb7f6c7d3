// Package metrics exposes classroom server counters to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classroom"

var (
	rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Open classrooms.",
	})
	participants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "participants",
		Help:      "Participants currently joined to a classroom.",
	})
	relays = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relays",
		Help:      "Published tracks being forwarded.",
	})
	controlEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_events_total",
		Help:      "Control events handled, by type and outcome.",
	}, []string{"type", "outcome"})
	signalMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_messages_total",
		Help:      "Signaling messages received, by type.",
	}, []string{"type"})
	droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_frames_total",
		Help:      "Frames not delivered because a member's send queue was full.",
	})
	forwardedPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forwarded_rtp_packets_total",
		Help:      "RTP packets written to subscriber tracks.",
	})
)

func init() {
	prometheus.MustRegister(rooms, participants, relays, controlEvents, signalMessages, droppedFrames, forwardedPackets)
}

func RoomStarted() { rooms.Inc() }
func RoomEnded()   { rooms.Dec() }

func ParticipantJoined() { participants.Inc() }
func ParticipantLeft()   { participants.Dec() }

func RelayStarted() { relays.Inc() }
func RelayStopped() { relays.Dec() }

// ControlEvent counts a handled control event. outcome is "ok",
// "rejected" or "limited".
func ControlEvent(typ, outcome string) { controlEvents.WithLabelValues(typ, outcome).Inc() }

func SignalMessage(typ string) { signalMessages.WithLabelValues(typ).Inc() }

func FrameDropped() { droppedFrames.Inc() }

func PacketsForwarded(n int) { forwardedPackets.Add(float64(n)) }

func Handler() http.Handler { return promhttp.Handler() }
