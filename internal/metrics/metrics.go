// Package metrics exposes the relay's operational counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Registered transport sessions.",
	})
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_rooms",
		Help: "Rooms with at least one participant.",
	})
	LiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_live_calls",
		Help: "Calls in a non-terminal state.",
	})
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Inbound realtime events by type.",
	}, []string{"type"})
	FramesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_relayed_total",
		Help: "Signaling frames delivered to peers by kind.",
	}, []string{"kind"})
	CandidatesBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_candidates_buffered_total",
		Help: "ICE candidates queued for unreachable peers.",
	})
)
