// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_http_requests_total",
		Help: "Total HTTP requests processed, labeled by route and status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciler_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	PollRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_poll_runs_total",
		Help: "Ingestion runs by outcome (ok, unauthenticated, failed)",
	}, []string{"outcome"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciler_poll_duration_seconds",
		Help:    "Duration of ingestion runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	LastPollTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_last_poll_timestamp_seconds",
		Help: "Unix time the last ingestion run finished",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_messages_total",
		Help: "Candidate messages handled by ingestion, by result (persisted, unparseable, skipped, failed)",
	}, []string{"result"})
)

const (
	OutcomeOK              = "ok"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeFailed          = "failed"

	ResultPersisted   = "persisted"
	ResultUnparseable = "unparseable"
	ResultSkipped     = "skipped"
	ResultFailed      = "failed"
)
