package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once; only the first call registers.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTextsTotal,
			EmbeddingCacheTotal,
			SyncRunsTotal,
			SyncDocumentsTotal,
			SyncWriteRetriesTotal,
			SyncBatchDuration,
			SyncWatermarkSeconds,
			SearchRequestsTotal,
			SearchDuration,
			BackendStatusTotal,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}
