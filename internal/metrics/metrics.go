// Package metrics provides Prometheus instrumentation for the roulette
// backend. It exposes gauges for connection, queue, and session counts,
// counters for relayed message throughput, and a histogram for match wait
// times.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MatchQueueSize tracks the current number of users waiting to be paired.
	MatchQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_match_queue_size",
		Help: "Current number of users in the matching queue",
	})

	// ActiveSessions tracks the current number of active chat sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_active_sessions",
		Help: "Current number of active chat sessions",
	})

	// MessagesTotal counts relayed messages, labeled by outcome:
	// "relayed" or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_messages_total",
		Help: "Total number of messages processed by the relay",
	}, []string{"outcome"})

	// MatchesTotal counts successful pairings.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roulette_matches_total",
		Help: "Total number of successful pairings",
	})

	// MatchWaitSeconds records the time from enqueue to successful pairing.
	MatchWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roulette_match_wait_seconds",
		Help:    "Time from entering the queue to being paired",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
	})

	// ReportsTotal counts filed abuse reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roulette_reports_total",
		Help: "Total number of abuse reports filed",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchQueueSize,
		ActiveSessions,
		MessagesTotal,
		MatchesTotal,
		MatchWaitSeconds,
		ReportsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
