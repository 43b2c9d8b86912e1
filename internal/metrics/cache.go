package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, indexStorageErrorsTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Job cache lookups by key kind (history, job) and result (hit, miss, shared).",
		},
		[]string{"key", "result"},
	)

	indexStorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_storage_errors_total",
			Help:      "Swallowed durable index storage failures by operation (read, write, decode).",
		},
		[]string{"op"},
	)
)

func IncCacheRequest(keyKind, result string) {
	cacheRequestsTotal.WithLabelValues(norm(keyKind), norm(result)).Inc()
}

func IncIndexStorageError(op string) {
	indexStorageErrorsTotal.WithLabelValues(norm(op)).Inc()
}
