package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sync pipeline metrics.
var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	SyncDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_documents_total",
			Help:      "Documents processed by disposition",
		},
		[]string{"disposition"}, // committed / failed / skipped / unchanged
	)

	SyncWriteRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_write_retries_total",
			Help:      "Per-backend retries of failed document subsets",
		},
		[]string{"backend"},
	)

	SyncBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_batch_duration_seconds",
			Help:      "Wall time to encode, write and checkpoint one batch",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	SyncWatermarkSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_watermark_timestamp_seconds",
			Help:      "Last durable watermark as a Unix timestamp",
		},
		[]string{"target"},
	)
)
