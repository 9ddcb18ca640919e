// Package metrics exposes Prometheus collectors for indexing, promotion and
// retrieval.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coursekb"

var (
	ChunksIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks_total",
			Help:      "Chunks written to draft collections",
		},
		[]string{"course_id"},
	)

	ChunksFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks_filtered_total",
			Help:      "Chunks rejected by the content filter",
		},
		[]string{"content_type"},
	)

	IndexRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "runs_total",
			Help:      "Chapter indexing runs by outcome",
		},
		[]string{"status"},
	)

	EmbeddingBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "batches_total",
			Help:      "Embedding backend calls by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Embedding backend call latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Chapter promotion runs by outcome",
		},
		[]string{"status"},
	)

	SyncedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "chunks_total",
			Help:      "Chunks written to online collections",
		},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval latency by mode",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"mode"},
	)

	RerankFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "rerank_fallbacks_total",
			Help:      "vector_rerank queries served without a reranker",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "cache_lookups_total",
			Help:      "Query cache lookups by result",
		},
		[]string{"result"},
	)

	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "contention_total",
			Help:      "Course lock acquisitions rejected because the lock was held",
		},
	)
)
