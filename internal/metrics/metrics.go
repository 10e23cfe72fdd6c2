package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submissions counts quiz submissions by outcome: committed, replayed, invalid, not_found, transient.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lrnr",
		Name:      "submissions_total",
		Help:      "Quiz submissions processed by the progression engine.",
	}, []string{"outcome"})

	// ConflictRetries counts read-modify-write retries caused by store conflicts.
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lrnr",
		Name:      "submission_conflict_retries_total",
		Help:      "Submission transactions retried after a concurrent write conflict.",
	})

	// SubmitDuration observes the full engine call, retries included.
	SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lrnr",
		Name:      "submission_duration_seconds",
		Help:      "Latency of committed or failed quiz submissions.",
		Buckets:   prometheus.DefBuckets,
	})

	// ListenerFailures counts post-commit side effects that failed.
	ListenerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lrnr",
		Name:      "commit_listener_failures_total",
		Help:      "Post-commit listeners (leaderboard, cache, events) that returned an error.",
	}, []string{"listener"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
