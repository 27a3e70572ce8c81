package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msclient_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msclient_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	APIRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "msclient_api_retries_total",
			Help: "Total number of retried API requests",
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msclient_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msclient_upload_duration_seconds",
			Help:    "Duration of file uploads in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msclient_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	UploadChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msclient_upload_chunks_total",
			Help: "Total number of uploaded chunks by outcome",
		},
		[]string{"status"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "msclient_upload_bytes_total",
			Help: "Total bytes uploaded",
		},
	)

	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "msclient_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msclient_probes_total",
			Help: "Total number of server probes by status",
		},
		[]string{"status"},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msclient_probe_duration_seconds",
			Help:    "Server probe round-trip time in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// RecordAPIRequest counts one request attempt. A zero status means the
// request never produced a response.
func RecordAPIRequest(method string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	APIRequestsTotal.WithLabelValues(method, label).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordRetry() {
	APIRetriesTotal.Inc()
}

func RecordUpload(status string, sizeBytes int64, durationSeconds float64) {
	UploadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		UploadSizeBytes.Observe(float64(sizeBytes))
		UploadDuration.Observe(durationSeconds)
	}
}

// RecordChunk counts one chunk send. Status is "sent", "recovered" for a
// chunk the server already had, or "failed".
func RecordChunk(status string, sizeBytes int64) {
	UploadChunksTotal.WithLabelValues(status).Inc()
	if status != "failed" {
		UploadBytesTotal.Add(float64(sizeBytes))
	}
}

func RecordDownloadBytes(n int64) {
	DownloadBytesTotal.Add(float64(n))
}

func RecordProbe(ok bool, duration time.Duration) {
	status := "success"
	if !ok {
		status = "failure"
	}
	ProbesTotal.WithLabelValues(status).Inc()
	ProbeDuration.Observe(duration.Seconds())
}
