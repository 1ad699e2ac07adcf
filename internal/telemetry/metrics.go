/*
Copyright (C) 2026 Klangwerk Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds the Prometheus instrumentation for the engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache metrics.
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klangbrett_cache_hits_total",
		Help: "Stream opens served from the PCM cache.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klangbrett_cache_misses_total",
		Help: "Stream opens that fell back to the filesystem.",
	})
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klangbrett_cache_evictions_total",
		Help: "Cache entries evicted to make room.",
	})
	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "klangbrett_cache_bytes",
		Help: "PCM bytes currently held in the cache.",
	})
	PreloadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klangbrett_preload_failures_total",
		Help: "Background preloads that could not complete.",
	})
	PreloadDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klangbrett_preload_dropped_total",
		Help: "Preload requests dropped because the queue was full.",
	})
)

// Player metrics.
var (
	PlaybacksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klangbrett_playbacks_started_total",
		Help: "Playback sessions started.",
	})
	PlaybackErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klangbrett_playback_errors_total",
		Help: "Playback sessions that ended with an error.",
	})
	VolumeLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "klangbrett_volume_level",
		Help: "Current volume index (0-31).",
	})
)

// Input metrics.
var (
	InputEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klangbrett_input_events_total",
		Help: "Debounced input events by kind.",
	}, []string{"kind"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
