package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	EntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_entries_total",
			Help: "Total number of live entries in the store",
		},
	)

	EntryCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_entry_cache_size",
			Help: "Number of entries currently resident in the entry cache",
		},
	)

	IDLCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_idl_cache_size",
			Help: "Number of posting lists currently resident in the IDL cache",
		},
	)

	// Raft metrics (bootstrap-only, single-voter CID log)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_raft_is_leader",
			Help: "Whether this node holds the bootstrap raft leadership (always 1 in single-voter mode once elected)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_raft_applied_index",
			Help: "Last applied raft log index, the source of each write's cid ordering",
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_raft_commit_duration_seconds",
			Help:    "Time taken for a raft Apply to commit the write-ahead tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Write operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_operations_total",
			Help: "Total number of directory operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_operation_duration_seconds",
			Help:    "Duration of a create/modify/delete/search/exists call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Filter resolution
	ResolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_resolve_duration_seconds",
			Help:    "Time taken to resolve a filter into posting-list set algebra",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResolveVariantTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_resolve_variant_total",
			Help: "Count of filter resolutions by result variant (indexed, partial, allids)",
		},
		[]string{"variant"},
	)

	// ACP evaluation
	AccessEvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_access_eval_duration_seconds",
			Help:    "Time taken to evaluate access controls for an operation",
			Buckets: prometheus.DefBuckets,
		},
	)

	AccessDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_access_denied_total",
			Help: "Total number of operations rejected by the access-control evaluator",
		},
	)

	// Plugin pipeline
	PluginDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_plugin_duration_seconds",
			Help:    "Time taken by a single plugin's hook within the pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin", "hook"},
	)

	PluginAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_plugin_aborts_total",
			Help: "Total number of writes aborted by a plugin, by plugin name",
		},
		[]string{"plugin"},
	)

	// Purge cycles
	PurgeCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_purge_cycle_duration_seconds",
			Help:    "Time taken for a purge cycle (recycled or tombstone)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	PurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_purged_total",
			Help: "Total number of entries purged by kind (recycled, tombstone)",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		EntriesTotal,
		EntryCacheSize,
		IDLCacheSize,
		RaftLeader,
		RaftAppliedIndex,
		RaftCommitDuration,
		OperationsTotal,
		OperationDuration,
		ResolveDuration,
		ResolveVariantTotal,
		AccessEvalDuration,
		AccessDeniedTotal,
		PluginDuration,
		PluginAbortsTotal,
		PurgeCycleDuration,
		PurgedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
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

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
