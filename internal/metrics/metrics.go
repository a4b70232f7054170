// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Attempts counts publish attempts by platform and outcome
	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "publish_attempts_total",
		Help:      "Publish attempts by platform and outcome.",
	}, []string{"platform", "outcome"})

	// AttemptDuration observes the wall time of an attempt
	AttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fanout",
		Name:      "publish_attempt_duration_seconds",
		Help:      "Duration of publish attempts.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"platform"})

	// Submissions counts ingested submissions, split into new and deduplicated
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "submissions_total",
		Help:      "Submissions by platform and result.",
	}, []string{"platform", "result"})

	// TokenRefreshes counts credential refresh exchanges
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "token_refreshes_total",
		Help:      "Credential refresh exchanges by platform and result.",
	}, []string{"platform", "result"})
)
