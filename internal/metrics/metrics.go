// Package metrics holds the engine's Prometheus collectors, registered on the
// default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts dispatch results by outcome category ("sent" on success).
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_dispatch_total",
			Help: "Dispatch results by outcome category",
		},
		[]string{"category"},
	)

	SelectorBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_selector_blocked_total",
			Help: "Queue items passed over by the selector, by reason",
		},
		[]string{"reason"},
	)

	ClaimsLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_claims_lost_total",
			Help: "Claims lost to a concurrent invocation",
		},
	)

	StaleFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_stale_processing_failed_total",
			Help: "Items failed after being stuck in processing",
		},
	)

	RepliesDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_replies_detected_total",
			Help: "New inbound replies detected by the reply poller",
		},
	)

	ConnectionUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_connection_updates_total",
			Help: "Connection requests resolved by the connection poller",
		},
		[]string{"result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_job_duration_seconds",
			Help:    "Duration of one job invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job", "outcome"},
	)
)
