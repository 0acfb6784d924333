// Package telemetry exposes Prometheus collectors for the relay core.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive is the current number of live room connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_active",
		Help: "Current number of live room connections",
	})

	// ConnectionsTotal counts accepted room sessions.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_connections_total",
		Help: "Total number of room sessions accepted",
	})

	// SessionsRejected counts sessions closed at validation (room/user absent).
	SessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_sessions_rejected_total",
		Help: "Total sessions rejected at entry, by reason",
	}, []string{"reason"})

	// MessagesBroadcast counts payloads fanned out to rooms.
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_broadcast_total",
		Help: "Total payloads broadcast to rooms",
	})

	// BroadcastSendFailures counts per-connection send failures during fanout.
	BroadcastSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_broadcast_send_failures_total",
		Help: "Total per-connection send failures during broadcast",
	})

	// RequestsAdmitted counts requests admitted by the rate limiter.
	RequestsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_requests_admitted_total",
		Help: "Total requests admitted by the rate limiter",
	})

	// RequestsRejected counts requests denied by the rate limiter.
	RequestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_requests_rejected_total",
		Help: "Total requests denied by the rate limiter",
	})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
