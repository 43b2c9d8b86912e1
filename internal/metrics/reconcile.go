package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(reconcileJobsTotal, reconcileDuration) }

var (
	reconcileJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_jobs_total",
			Help:      "Per-job results of reconciliation passes (ok, removed, skipped).",
		},
		[]string{"outcome"},
	)

	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of a full reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func IncReconcileJob(outcome string) {
	reconcileJobsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveReconcile(d time.Duration) {
	reconcileDuration.Observe(d.Seconds())
}
