// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts pipeline runs by trigger and final status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trialrisk",
		Name:      "runs_total",
		Help:      "Pipeline runs by trigger and status.",
	}, []string{"trigger", "status"})

	// StageDuration observes the wall time of each pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trialrisk",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	// RecordsScored counts DQI records produced, by level (study or site).
	RecordsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trialrisk",
		Name:      "records_scored_total",
		Help:      "DQI records scored by level.",
	}, []string{"level"})

	// AnomalousSites reports the number of flagged sites in the latest batch.
	AnomalousSites = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trialrisk",
		Name:      "anomalous_sites",
		Help:      "Sites flagged by the anomaly detector in the latest batch.",
	})

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trialrisk",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"route", "status"})
)
