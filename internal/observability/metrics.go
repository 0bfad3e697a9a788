package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	gradingPassesTotal   *prometheus.CounterVec
	gradingReviewsTotal  *prometheus.CounterVec
	bulkBatchSubmissions *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used for API and
// grading observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		gradingPassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_grading_passes_total",
			Help: "Completed grading passes by submission type and outcome.",
		}, []string{"type", "outcome"})

		gradingReviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_grading_reviews_total",
			Help: "Grading passes escalated to human review, by reason.",
		}, []string{"reason"})

		bulkBatchSubmissions = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_grading_bulk_batch_size",
			Help:    "Distribution of bulk grading batch sizes.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			gradingPassesTotal,
			gradingReviewsTotal,
			bulkBatchSubmissions,
		)
	})
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

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// GradingPasses exposes the counter for completed grading passes.
func GradingPasses() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingPassesTotal
}

// GradingReviews exposes the counter for human review escalations.
func GradingReviews() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingReviewsTotal
}

// BulkBatchSize exposes the histogram of bulk batch sizes.
func BulkBatchSize() *prometheus.HistogramVec {
	RegisterMetrics()
	return bulkBatchSubmissions
}
