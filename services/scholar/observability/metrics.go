// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the service's Prometheus metrics. Metrics
// are registered once via promauto and recorded from the handler and
// pipeline layers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts API requests by route and status class.
	RequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scholar_request_total",
		Help: "Total API requests by route and status class",
	}, []string{"route", "status"})

	// RetrievalDuration tracks end-to-end retrieval latency.
	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scholar_retrieval_duration_seconds",
		Help:    "Retrieval pipeline duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// RetrievalDegraded counts searches that fell back to a degraded mode.
	RetrievalDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scholar_retrieval_degraded_total",
		Help: "Searches that degraded due to a dependency failure",
	})

	// AgentTransitions counts synthesis loop state transitions.
	AgentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scholar_agent_transitions_total",
		Help: "Synthesis loop state transitions by state",
	}, []string{"state"})

	// CitationChecks counts citation verifications by outcome.
	CitationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scholar_citation_checks_total",
		Help: "Citation verifications by outcome",
	}, []string{"outcome"})

	// IngestionsActive gauges in-flight ingestion tasks.
	IngestionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scholar_ingestions_active",
		Help: "Ingestion tasks currently running",
	})

	// IngestionDuration tracks per-document ingestion latency.
	IngestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scholar_ingestion_duration_seconds",
		Help:    "Document ingestion duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~400s
	})
)
