// Package metrics provides Prometheus instrumentation for the lobby server.
// It exposes gauges for channel and participant counts, counters for frame
// throughput and drops, and a histogram for broadcast fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpenChannels tracks the current number of open WebSocket channels,
	// authenticated or not.
	OpenChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_open_channels",
		Help: "Current number of open WebSocket channels",
	})

	// Participants tracks the current number of authenticated lobby
	// participants (registry size).
	Participants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_participants",
		Help: "Current number of authenticated lobby participants",
	})

	// FramesReceived counts inbound client frames, labeled by frame type.
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lobby_frames_received_total",
		Help: "Total number of client frames received",
	}, []string{"type"})

	// FramesBroadcast counts frames fanned out to channels. Each broadcast
	// increments once per recipient channel.
	FramesBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_frames_broadcast_total",
		Help: "Total number of frames delivered to channels",
	})

	// FramesDropped counts frames discarded before delivery, labeled by
	// reason: "parse_error", "unknown_type", "invalid", "unauthenticated",
	// "queue_full" or "write_error".
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lobby_frames_dropped_total",
		Help: "Total number of frames dropped",
	}, []string{"reason"})

	// Resets counts daily reset firings, labeled by result: "fired" when a
	// reset_messages frame was broadcast, "skipped" when the lobby was empty.
	Resets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lobby_resets_total",
		Help: "Total number of scheduled daily resets",
	}, []string{"result"})

	// BroadcastDuration records the time to enqueue one frame to every open
	// channel.
	BroadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lobby_broadcast_duration_seconds",
		Help:    "Broadcast fan-out duration in seconds",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})
)

func init() {
	prometheus.MustRegister(
		OpenChannels,
		Participants,
		FramesReceived,
		FramesBroadcast,
		FramesDropped,
		Resets,
		BroadcastDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
