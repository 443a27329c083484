// Package metrics provides Prometheus instrumentation for the messaging
// core: connection and room gauges, message outcome counters, and fan-out
// latency histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of live WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsOpen tracks the number of rooms with at least one local subscriber.
	RoomsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_rooms_open",
		Help: "Number of chat rooms with at least one local subscriber",
	})

	// MessagesTotal counts send_message outcomes, labeled "sent", "invalid",
	// "unauthorized", "limited", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_messages_total",
		Help: "Total number of send_message operations by outcome",
	}, []string{"outcome"})

	// ReceiptsTotal counts read-receipt transitions, labeled "single" or "batch".
	ReceiptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_receipts_total",
		Help: "Total number of read-receipt announcements by kind",
	}, []string{"kind"})

	// PresenceEvents counts presence transitions, labeled "online" or "offline".
	PresenceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_presence_events_total",
		Help: "Total number of presence transitions announced",
	}, []string{"state"})

	// BroadcastLatency records the time from pipeline entry to room publish.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_broadcast_latency_seconds",
		Help:    "Latency from send_message arrival to room publish",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// StorageRetries counts retried storage attempts by operation.
	StorageRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_storage_retries_total",
		Help: "Total number of retried storage attempts by operation",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomsOpen,
		MessagesTotal,
		ReceiptsTotal,
		PresenceEvents,
		BroadcastLatency,
		StorageRetries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
