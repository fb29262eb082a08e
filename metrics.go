// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package poptrie

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "poptrie"

var (
	updatesOpts = prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "updates_total",
		Help:      "Route mutations by operation and result.",
	}
	updateDurationOpts = prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "update_duration_seconds",
		Help:      "Time spent in a route mutation, rebuild included.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	}
	routesOpts = prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "routes",
		Help:      "Number of routes in the table.",
	}
	fibEntriesOpts = prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "fib_entries",
		Help:      "Number of referenced next-hop slots.",
	}
	arenaUsedOpts = prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "arena_used_slots",
		Help:      "Used slots per arena.",
	}
	reclaimedOpts = prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "reclaimed_blocks_total",
		Help:      "Blocks returned to the arenas after a rebuild.",
	}
)

type metrics struct {
	updates        *prometheus.CounterVec
	updateDuration *prometheus.HistogramVec
	routes         prometheus.Gauge
	fibEntries     prometheus.Gauge
	arenaUsed      *prometheus.GaugeVec
	reclaimed      *prometheus.CounterVec
}

// newMetrics creates the table metrics, registered with reg if not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		updates:        f.NewCounterVec(updatesOpts, []string{"op", "result"}),
		updateDuration: f.NewHistogramVec(updateDurationOpts, []string{"op"}),
		routes:         f.NewGauge(routesOpts),
		fibEntries:     f.NewGauge(fibEntriesOpts),
		arenaUsed:      f.NewGaugeVec(arenaUsedOpts, []string{"arena"}),
		reclaimed:      f.NewCounterVec(reclaimedOpts, []string{"arena"}),
	}
}
