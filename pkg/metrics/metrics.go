package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_instances_total",
			Help: "Total number of instances by admin state",
		},
		[]string{"state"},
	)

	DisksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_disks_total",
			Help: "Total number of disks by device type",
		},
		[]string{"dev_type"},
	)

	// Raft metrics (master group)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPC metrics (pkg/rpc and pkg/node dispatcher)
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_rpc_requests_total",
			Help: "Total number of node RPC calls by procedure and status",
		},
		[]string{"procedure", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetctl_rpc_request_duration_seconds",
			Help:    "Node RPC call duration in seconds by procedure",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"procedure"},
	)

	// Lock manager metrics
	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetctl_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire a lock, by lock level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"level"},
	)

	LocksHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_locks_held",
			Help: "Number of locks currently held, by level and mode",
		},
		[]string{"level", "mode"},
	)

	// Job / Logical Unit processor metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetctl_job_duration_seconds",
			Help:    "Time taken to execute a job from dequeue to completion",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
		},
		[]string{"opcode"},
	)

	OpcodesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_opcodes_failed_total",
			Help: "Total number of opcode executions that failed",
		},
		[]string{"opcode"},
	)

	// Block device / DRBD metrics
	DRBDSyncProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_drbd_sync_progress_ratio",
			Help: "DRBD resync progress as a ratio from 0 to 1, by minor number",
		},
		[]string{"minor"},
	)

	DiskReplaceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_disk_replace_duration_seconds",
			Help:    "Time taken to replace an instance's disks",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	MigrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_migration_duration_seconds",
			Help:    "Time taken for a live migration to complete",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Hooks runner metrics
	HookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetctl_hook_duration_seconds",
			Help:    "Time taken to run a hooks directory, by phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	HooksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_hooks_failed_total",
			Help: "Total number of hook scripts that returned non-zero",
		},
		[]string{"phase"},
	)

	// IAllocator bridge metrics
	AllocatorCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_allocator_call_duration_seconds",
			Help:    "Time taken for an IAllocator script invocation to return",
			Buckets: prometheus.DefBuckets,
		},
	)

	AllocatorCallsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_allocator_calls_failed_total",
			Help: "Total number of IAllocator invocations that failed or returned an infeasible result",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(DisksTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(LocksHeld)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(OpcodesFailedTotal)
	prometheus.MustRegister(DRBDSyncProgress)
	prometheus.MustRegister(DiskReplaceDuration)
	prometheus.MustRegister(MigrationDuration)
	prometheus.MustRegister(HookDuration)
	prometheus.MustRegister(HooksFailedTotal)
	prometheus.MustRegister(AllocatorCallDuration)
	prometheus.MustRegister(AllocatorCallsFailedTotal)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
