package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	OperationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dpl_operations_total",
			Help: "Total number of operation records by status",
		},
		[]string{"status"},
	)

	StoreMutationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dpl_store_mutation_duration_seconds",
			Help:    "Time taken for a Store.modify read-backup-write cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreLockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dpl_store_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire the advisory lock file",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreLockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dpl_store_lock_timeouts_total",
			Help: "Total number of lock acquisitions that exceeded the deadline",
		},
	)

	StoreLockStealsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dpl_store_lock_steals_total",
			Help: "Total number of stale lock files reclaimed past the 2s threshold",
		},
	)

	TrailSnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dpl_store_trail_snapshots_total",
			Help: "Total number of per-mutation backup snapshots written",
		},
	)

	// Heartbeat engine metrics
	HeartbeatTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpl_heartbeat_ticks_total",
			Help: "Total number of heartbeat ticks by outcome",
		},
		[]string{"outcome"},
	)

	HeartbeatTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dpl_heartbeat_tick_duration_seconds",
			Help:    "Time taken for one heartbeat tick (read, backup, scan, write)",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatStaleParticipantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dpl_heartbeat_stale_participants_total",
			Help: "Total number of participants observed stale across all ticks",
		},
	)

	// Cleanup engine metrics
	CleanupFramesReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpl_cleanup_frames_reclaimed_total",
			Help: "Total number of call frames reclaimed by cleanup rule",
		},
		[]string{"rule"},
	)

	CleanupCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dpl_cleanup_cycle_duration_seconds",
			Help:    "Time taken to evaluate the four cleanup rules for one operation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Call tracker metrics
	CallsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpl_calls_started_total",
			Help: "Total number of calls/spawned calls started",
			// kind: "call" | "spawned" | "http"
		},
		[]string{"kind"},
	)

	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dpl_call_duration_seconds",
			Help:    "Call/SpawnedCall duration in seconds by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// API (httpapi) metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dpl_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dpl_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(StoreMutationDuration)
	prometheus.MustRegister(StoreLockWaitDuration)
	prometheus.MustRegister(StoreLockTimeoutsTotal)
	prometheus.MustRegister(StoreLockStealsTotal)
	prometheus.MustRegister(TrailSnapshotsTotal)
	prometheus.MustRegister(HeartbeatTicksTotal)
	prometheus.MustRegister(HeartbeatTickDuration)
	prometheus.MustRegister(HeartbeatStaleParticipantsTotal)
	prometheus.MustRegister(CleanupFramesReclaimedTotal)
	prometheus.MustRegister(CleanupCycleDuration)
	prometheus.MustRegister(CallsStartedTotal)
	prometheus.MustRegister(CallDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
