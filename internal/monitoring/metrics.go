package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal tracks finished transfer attempts by outcome
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrasonic_transfers_total",
			Help: "Total number of track transfers by outcome",
		},
		[]string{"status"},
	)

	// TransferDuration tracks how long successful transfers took
	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ultrasonic_transfer_duration_seconds",
			Help:    "Transfer duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// TransferBytesTotal tracks total bytes written to the cache
	TransferBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ultrasonic_transfer_bytes_total",
			Help: "Total bytes transferred into the cache",
		},
	)

	// ActiveTransfers is 1 while a transfer is running
	ActiveTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ultrasonic_active_transfers",
			Help: "Number of running transfers",
		},
	)

	// QueueSize tracks the length of the main and background lists
	QueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ultrasonic_queue_size",
			Help: "Current queue size by list",
		},
		[]string{"list"},
	)

	// QueueRevision mirrors the queue revision counter
	QueueRevision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ultrasonic_queue_revision",
			Help: "Current queue revision",
		},
	)

	// SnapshotWritesTotal counts queue snapshot writes by outcome
	SnapshotWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrasonic_snapshot_writes_total",
			Help: "Queue snapshot writes by outcome",
		},
		[]string{"status"},
	)

	// JukeboxCommandsTotal tracks executed jukebox commands
	JukeboxCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrasonic_jukebox_commands_total",
			Help: "Jukebox commands by tag and outcome",
		},
		[]string{"tag", "status"},
	)

	// APIRequestsTotal tracks REST requests by method and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrasonic_api_requests_total",
			Help: "Total number of REST API requests",
		},
		[]string{"method", "status"},
	)

	// APIRequestDuration tracks REST request duration
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ultrasonic_api_request_duration_seconds",
			Help:    "REST API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CacheEvictionsTotal counts files removed by the cache cleaner
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ultrasonic_cache_evictions_total",
			Help: "Files deleted by cache eviction",
		},
	)

	// CacheEvictedBytesTotal counts bytes freed by the cache cleaner
	CacheEvictedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ultrasonic_cache_evicted_bytes_total",
			Help: "Bytes freed by cache eviction",
		},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultrasonic_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordTransferStart records the start of a transfer
func RecordTransferStart() {
	ActiveTransfers.Inc()
}

// RecordTransferComplete records a completed transfer
func RecordTransferComplete(duration time.Duration, bytes int64) {
	TransfersTotal.WithLabelValues("completed").Inc()
	TransferDuration.Observe(duration.Seconds())
	TransferBytesTotal.Add(float64(bytes))
	ActiveTransfers.Dec()
}

// RecordTransferFailed records a failed transfer
func RecordTransferFailed(errorType string, bytes int64) {
	TransfersTotal.WithLabelValues("failed").Inc()
	TransferBytesTotal.Add(float64(bytes))
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveTransfers.Dec()
}

// RecordTransferCancelled records a cancelled transfer
func RecordTransferCancelled(bytes int64) {
	TransfersTotal.WithLabelValues("cancelled").Inc()
	TransferBytesTotal.Add(float64(bytes))
	ActiveTransfers.Dec()
}

// UpdateQueueSize updates the queue size metrics
func UpdateQueueSize(main, background int, revision int64) {
	QueueSize.WithLabelValues("main").Set(float64(main))
	QueueSize.WithLabelValues("background").Set(float64(background))
	QueueRevision.Set(float64(revision))
}

// RecordSnapshotWrite records the outcome of a snapshot write request
func RecordSnapshotWrite(status string) {
	SnapshotWritesTotal.WithLabelValues(status).Inc()
}

// RecordJukeboxCommand records an executed jukebox command
func RecordJukeboxCommand(tag string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	JukeboxCommandsTotal.WithLabelValues(tag, status).Inc()
}

// RecordAPIRequest records a REST API request
func RecordAPIRequest(method string, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, status).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordCacheEviction records one evicted file
func RecordCacheEviction(bytes int64) {
	CacheEvictionsTotal.Inc()
	CacheEvictedBytesTotal.Add(float64(bytes))
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
