package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbridge_requests_total",
			Help: "Total API requests",
		},
		[]string{"endpoint"},
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickbridge_request_latency_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tickbridge_ingest_batch_size",
			Help:    "Items per ingest batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Storage metrics
	RowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickbridge_db_writes_total",
			Help: "Total rows written to storage",
		},
	)

	DuplicateInserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickbridge_duplicate_inserts_total",
			Help: "Total duplicate inserts detected by the keyed upsert",
		},
	)

	StorageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickbridge_storage_errors_total",
			Help: "Total per-item storage errors",
		},
	)

	// Forward metrics
	ForwardAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbridge_forward_requests_total",
			Help: "Total forward attempts",
		},
		[]string{"endpoint", "status"},
	)

	ForwardItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbridge_forward_items_total",
			Help: "Total items forwarded successfully",
		},
		[]string{"endpoint"},
	)

	ConfirmAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbridge_forward_confirm_total",
			Help: "Forward confirm attempts",
		},
		[]string{"endpoint", "status"},
	)

	ConfirmLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickbridge_forward_confirm_latency_seconds",
			Help:    "Latency between forward and confirm",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Ledger gauges, refreshed on each /metrics scrape
	PendingForwards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickbridge_pending_forward_total",
			Help: "Forwards not yet confirmed",
		},
	)

	PendingForwardsStale = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickbridge_pending_forward_older_5m_total",
			Help: "Forwards not yet confirmed and older than 5 minutes",
		},
	)

	// Spool metrics
	SpooledRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickbridge_spooled_requests_total",
			Help: "Forward requests written to the retry spool",
		},
	)

	ReplayedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickbridge_replayed_requests_total",
			Help: "Spool replay attempts",
		},
		[]string{"result"},
	)

	SpoolDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickbridge_spool_depth",
			Help: "Spool files currently awaiting replay",
		},
	)
)
