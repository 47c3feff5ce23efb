package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardgen",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardgen",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardgen",
			Subsystem: "storage",
			Name:      "uploads_total",
			Help:      "Image uploads by backend and outcome",
		},
		[]string{"backend", "status"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardgen",
			Subsystem: "storage",
			Name:      "upload_bytes_total",
			Help:      "Bytes stored by backend",
		},
		[]string{"backend"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardgen",
			Subsystem: "provider",
			Name:      "submissions_total",
			Help:      "Prediction submissions by model family and outcome",
		},
		[]string{"family", "outcome"},
	)

	PollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cardgen",
			Subsystem: "provider",
			Name:      "poll_attempts",
			Help:      "Status queries made per polled job",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 120},
		},
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardgen",
			Subsystem: "generator",
			Name:      "generations_total",
			Help:      "Card generations by style and outcome category",
		},
		[]string{"style", "category"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardgen",
			Subsystem: "generator",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each generation stage in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 60, 300, 600},
		},
		[]string{"stage"},
	)
)

func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

func RecordUpload(backend, status string, bytes int64) {
	UploadsTotal.WithLabelValues(backend, status).Inc()
	if status == "success" {
		UploadBytesTotal.WithLabelValues(backend).Add(float64(bytes))
	}
}

func RecordSubmission(family, outcome string) {
	SubmissionsTotal.WithLabelValues(family, outcome).Inc()
}

func RecordPoll(attempts int) {
	PollAttempts.Observe(float64(attempts))
}

func RecordGeneration(style, category string) {
	GenerationsTotal.WithLabelValues(style, category).Inc()
}

func RecordStage(stage string, durationSec float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSec)
}
