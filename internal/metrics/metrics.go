// Package metrics defines the Prometheus collectors shared across tideline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideline_cache_requests_total",
		Help: "Cache lookups by cache and result (hit or miss)",
	}, []string{"cache", "result"})

	CacheLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideline_cache_loads_total",
		Help: "Loader calls by cache and outcome (ok or error)",
	}, []string{"cache", "outcome"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideline_cache_evictions_total",
		Help: "Entries dropped by cache for size or idle expiry",
	}, []string{"cache", "reason"})

	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideline_cache_invalidations_total",
		Help: "Explicit invalidations by cache and scope (keys or all)",
	}, []string{"cache", "scope"})

	Tasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideline_tasks_total",
		Help: "Background tasks by final state",
	}, []string{"state"})

	LifecycleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideline_lifecycle_events_total",
		Help: "Case lifecycle events handled by kind",
	}, []string{"kind"})

	IngestEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tideline_ingest_events_total",
		Help: "Ingested event lines by outcome (inserted, rejected or dropped)",
	}, []string{"outcome"})

	IngestConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tideline_ingest_connections",
		Help: "Open TCP ingest connections",
	})

	HistoryDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tideline_history_depth",
		Help: "Number of zoom states held in history",
	})
)
