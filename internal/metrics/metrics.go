// VisitForge - Synthetic Matomo Traffic Generator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitforge

// Package metrics holds the process-wide Prometheus collectors. All are
// registered on the default registry and scraped from the ops listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts tracking requests by action kind and outcome
	// (ok, retried_ok, failed).
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visitforge",
		Name:      "requests_total",
		Help:      "Tracking requests dispatched, by action kind and outcome.",
	}, []string{"kind", "outcome"})

	// ResponseClassTotal counts raw HTTP responses by class (2xx, 3xx, 4xx,
	// 429, 5xx, network).
	ResponseClassTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visitforge",
		Name:      "http_responses_total",
		Help:      "Raw HTTP responses from the tracking endpoint, by class.",
	}, []string{"class"})

	// RequestDuration observes wall time of individual dispatch attempts.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "visitforge",
		Name:      "request_duration_seconds",
		Help:      "Latency of individual tracking request attempts.",
		Buckets:   prometheus.DefBuckets,
	})

	// RetriesTotal counts retry attempts after a retryable failure.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visitforge",
		Name:      "retries_total",
		Help:      "Retry attempts made by the dispatcher.",
	})

	// VisitsTotal counts completed visits by mode (random, funnel, backfill).
	VisitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visitforge",
		Name:      "visits_total",
		Help:      "Completed visits, by planning mode.",
	}, []string{"mode"})

	// VisitsActive gauges currently running visits.
	VisitsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visitforge",
		Name:      "visits_active",
		Help:      "Visits currently in flight.",
	})

	// LaunchesTotal counts visit launches granted by the pace controller.
	LaunchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "visitforge",
		Name:      "launches_total",
		Help:      "Visit launches granted.",
	})

	// PacePaused is 1 while the rolling 24h cap suspends launches.
	PacePaused = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visitforge",
		Name:      "pace_paused",
		Help:      "1 while launches are suspended by the rolling cap.",
	})

	// BackfillVisitsTotal counts emitted backfill visits per day label
	// (ISO date).
	BackfillVisitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visitforge",
		Name:      "backfill_visits_total",
		Help:      "Backfill visits emitted, by replayed day.",
	}, []string{"day"})

	// BreakerState is 1 when the dispatch circuit breaker is open.
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "visitforge",
		Name:      "dispatch_breaker_open",
		Help:      "1 while the dispatch circuit breaker is open.",
	})
)
