package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache lookups that were served from the store
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobcached_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses tracks cache lookups that fell through to the origin
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobcached_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEvictions tracks entries removed per cause (lru, ttl, explicit)
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcached_cache_evictions_total",
			Help: "Total number of entries evicted from the cache",
		},
		[]string{"cause"},
	)

	// CacheErrors tracks storage-layer failures swallowed at operation boundaries
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcached_cache_errors_total",
			Help: "Total number of suppressed cache storage errors",
		},
		[]string{"operation"},
	)

	// CacheSizeBytes tracks the store's accounted payload bytes
	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobcached_cache_size_bytes",
			Help: "Total payload bytes currently held by the cache",
		},
	)

	// CacheEntries tracks the store's live entry count
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blobcached_cache_entries",
			Help: "Number of entries currently held by the cache",
		},
	)

	// RetryAttempts tracks retries per operation family
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcached_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"operation"},
	)

	// RetriesExhausted tracks operations that failed after all attempts
	RetriesExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcached_retries_exhausted_total",
			Help: "Total number of operations that exhausted their retry budget",
		},
		[]string{"operation"},
	)

	// FetchesTotal tracks fetches per content kind and outcome
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcached_fetches_total",
			Help: "Total number of content fetches",
		},
		[]string{"kind", "outcome"},
	)

	// FetchLatency tracks end-to-end fetch latency
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blobcached_fetch_latency_seconds",
			Help:    "Content fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// OriginBytesRead tracks payload bytes downloaded from the origin
	OriginBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blobcached_origin_bytes_read_total",
			Help: "Total payload bytes read from the origin",
		},
	)

	// WarmTasks tracks warm queue tasks per outcome (warmed, dropped, requeued)
	WarmTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blobcached_warm_tasks_total",
			Help: "Total number of processed warm queue tasks",
		},
		[]string{"outcome"},
	)
)
