package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	gradingRunsTotal    *prometheus.CounterVec
	gradingRunSeconds   prometheus.Histogram
	submissionsChecked  prometheus.Counter
	submissionsFailed   prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpLatencySeconds  *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classmark_grading_runs_total",
			Help: "Total number of batch grading runs, by outcome.",
		}, []string{"outcome"})

		gradingRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classmark_grading_run_duration_seconds",
			Help:    "Duration distribution of batch grading runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		})

		submissionsChecked = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classmark_grading_submissions_checked_total",
			Help: "Submissions successfully graded by the oracle.",
		})

		submissionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classmark_grading_submissions_failed_total",
			Help: "Submissions left pending after exhausting the oracle retry budget.",
		})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classmark_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classmark_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(gradingRunsTotal, gradingRunSeconds, submissionsChecked, submissionsFailed, httpRequestsTotal, httpLatencySeconds)
	})
}

// GradingRuns exposes the counter for batch grading runs.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingRunDuration exposes the histogram for batch grading run durations.
func GradingRunDuration() prometheus.Histogram {
	RegisterMetrics()
	return gradingRunSeconds
}

// GradingSubmissionsChecked exposes the counter for graded submissions.
func GradingSubmissionsChecked() prometheus.Counter {
	RegisterMetrics()
	return submissionsChecked
}

// GradingSubmissionsFailed exposes the counter for failed submissions.
func GradingSubmissionsFailed() prometheus.Counter {
	RegisterMetrics()
	return submissionsFailed
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}
