// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics holds the Prometheus collectors for the connection core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ollamalink"

var (
	// Registry is the registry all collectors are registered on. Handler
	// serves it; tests may gather from it directly.
	Registry = prometheus.NewRegistry()

	TransportAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "attempts_total",
			Help:      "Total HTTP attempts by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	TransportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "duration_seconds",
			Help:      "Duration of single HTTP attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "retries_total",
			Help:      "Retries scheduled, by the kind of failure that caused them",
		},
		[]string{"kind"},
	)

	RetriesExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Operations that failed after using every attempt",
		},
	)

	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected",
		},
	)

	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "sends_total",
			Help:      "Messages sent, by outcome kind (ok on success)",
		},
		[]string{"outcome"},
	)

	Reachable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "reachable",
			Help:      "1 when the network link is reachable",
		},
	)

	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "inflight",
			Help:      "Cancellable requests currently registered",
		},
	)
)

func init() {
	Registry.MustRegister(
		TransportAttempts,
		TransportDuration,
		Retries,
		RetriesExhausted,
		ConnectionState,
		Sends,
		Reachable,
		InFlight,
	)
}

// Handler serves the collectors in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
