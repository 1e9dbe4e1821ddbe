package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsClassified tracks total rows classified per strategy
	RowsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_rows_classified_total",
			Help: "Total number of rows run through the classifier",
		},
		[]string{"strategy"},
	)

	// ChunksProcessed tracks committed chunks
	ChunksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_chunks_processed_total",
			Help: "Total number of chunks fetched, classified and persisted",
		},
	)

	// ChunkRetries tracks per-chunk retry attempts
	ChunkRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_chunk_retries_total",
			Help: "Total number of chunk retry attempts",
		},
	)

	// TasksActive tracks currently running classification tasks
	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_tasks_active",
			Help: "Number of classification tasks currently running",
		},
	)

	// TasksFinished tracks terminal task states
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_tasks_finished_total",
			Help: "Total number of classification tasks reaching a terminal state",
		},
		[]string{"state"},
	)

	// GatewayCalls tracks remote storage gateway calls
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_gateway_calls_total",
			Help: "Total number of storage gateway calls",
		},
		[]string{"operation", "outcome"},
	)

	// GatewayLatency tracks storage gateway call latency
	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_gateway_latency_seconds",
			Help:    "Storage gateway call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// DBBatchSize tracks persisted batch sizes
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_db_batch_size",
			Help:    "Number of items per database batch write",
			Buckets: []float64{1, 10, 50, 100, 200, 500, 1000},
		},
		[]string{"operation"},
	)

	// DBConnectionPoolUsage tracks connection pool saturation
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
