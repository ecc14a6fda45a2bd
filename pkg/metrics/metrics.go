package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	ComponentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_components_total",
			Help: "Total number of registered components by type and status",
		},
		[]string{"type", "status"},
	)

	PoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quarry_pools_total",
			Help: "Total number of storage pools",
		},
	)

	PoolCapacityBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_pool_capacity_bytes",
			Help: "Pool capacity in bytes by kind (total, used, reserved)",
		},
		[]string{"pool_id", "kind"},
	)

	PoolHealthInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_pool_health",
			Help: "Pool health flag (1 for the current health label, 0 otherwise)",
		},
		[]string{"pool_id", "health"},
	)

	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_volumes_total",
			Help: "Total number of volumes by state",
		},
		[]string{"state"},
	)

	ChunksDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_chunks_degraded",
			Help: "Number of degraded chunks per pool",
		},
		[]string{"pool_id"},
	)

	// Rebuild metrics
	RebuildProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_rebuild_progress_percent",
			Help: "Rebuild progress per pool (0-100)",
		},
		[]string{"pool_id"},
	)

	RebuildBytesRebuilt = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_rebuild_bytes_rebuilt",
			Help: "Bytes re-replicated by the active rebuild job per pool",
		},
		[]string{"pool_id"},
	)

	// Token metrics
	TokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_tokens_issued_total",
			Help: "Total number of capability tokens issued",
		},
	)

	TokensConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_tokens_consumed_total",
			Help: "Total number of capability tokens consumed by writes",
		},
	)

	TokensRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_tokens_rejected_total",
			Help: "Total number of rejected tokens by reason",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Plan metrics
	PlansGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_plans_generated_total",
			Help: "Total number of I/O plans generated by operation",
		},
		[]string{"operation"},
	)

	PlanLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_plan_latency_seconds",
			Help:    "Time taken to generate an I/O plan in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Data-path metrics
	AcksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_acks_received_total",
			Help: "Total number of transaction acks by result",
		},
		[]string{"result"},
	)

	BytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_sds_bytes_written_total",
			Help: "Total bytes written to replica files on this SDS",
		},
	)

	BytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_sds_bytes_read_total",
			Help: "Total bytes read from replica files on this SDS",
		},
	)

	JournalPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quarry_sds_journal_pending",
			Help: "Write-journal entries not yet in a terminal state",
		},
	)

	SDCIOTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_sdc_io_total",
			Help: "Total client IO operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	PlanCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_sdc_plan_cache_lookups_total",
			Help: "Plan cache lookups by outcome (hit or miss)",
		},
		[]string{"outcome"},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_heartbeats_total",
			Help: "Total number of heartbeats processed by the registry",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_events_total",
			Help: "Total number of cluster events recorded by type",
		},
		[]string{"type"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ComponentsTotal)
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(PoolCapacityBytes)
	prometheus.MustRegister(PoolHealthInfo)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(ChunksDegraded)
	prometheus.MustRegister(RebuildProgress)
	prometheus.MustRegister(RebuildBytesRebuilt)
	prometheus.MustRegister(TokensIssued)
	prometheus.MustRegister(TokensConsumed)
	prometheus.MustRegister(TokensRejected)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(PlansGenerated)
	prometheus.MustRegister(PlanLatency)
	prometheus.MustRegister(AcksReceived)
	prometheus.MustRegister(BytesWritten)
	prometheus.MustRegister(BytesRead)
	prometheus.MustRegister(JournalPending)
	prometheus.MustRegister(SDCIOTotal)
	prometheus.MustRegister(PlanCacheLookups)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(EventsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
