package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(pollRequestsTotal, pollTransitionsTotal, jobsFinishedTotal) }

var (
	pollRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_requests_total",
			Help:      "Job status polls by outcome (ok, transport, not_found, unauthorized, discarded).",
		},
		[]string{"outcome"},
	)

	pollTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_transitions_total",
			Help:      "Observed job status transitions by target status.",
		},
		[]string{"to"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Tracked jobs that stopped polling, by outcome (completed, failed, timeout, removed, unauthorized, cancelled).",
		},
		[]string{"outcome"},
	)
)

func IncPollRequest(outcome string) {
	pollRequestsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncPollTransition(to string) {
	pollTransitionsTotal.WithLabelValues(norm(to)).Inc()
}

func IncJobFinished(outcome string) {
	jobsFinishedTotal.WithLabelValues(norm(outcome)).Inc()
}
