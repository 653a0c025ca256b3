/*
Package metrics provides Prometheus metrics collection and exposition for fleetctl.

The metrics package defines and registers all fleetctl metrics using the Prometheus
client library, providing observability into cluster health, lock contention,
job/opcode throughput, DRBD resync progress, and RPC latency. Metrics are exposed
via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

fleetctl's metrics system follows Prometheus best practices with comprehensive
instrumentation across all components:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (node count)         │          │
	│  │  Counter: Monotonic increases (requests)    │          │
	│  │  Histogram: Distributions (latency)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Cluster: Nodes, instances, disks           │          │
	│  │  Raft: Leader status, log index, peers      │          │
	│  │  RPC: Request count, duration               │          │
	│  │  Locks: Wait duration, held count           │          │
	│  │  Jobs: Count by status, opcode duration     │          │
	│  │  Block devices: DRBD sync, replace/migrate  │          │
	│  │  Hooks: Duration, failures by phase         │          │
	│  │  Allocator: Call duration, failures         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics every 15s               │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: node count, locks held, Raft leader status
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: RPC requests total, opcodes failed total
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Buckets for latency percentiles (p50, p95, p99)
  - Examples: RPC request duration, job duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Cluster Metrics:

fleetctl_nodes_total{role, status}:
  - Type: Gauge
  - Description: Total nodes by role (master-candidate/regular) and status
  - Labels: role, status
  - Example: fleetctl_nodes_total{role="master-candidate",status="online"} 3

fleetctl_instances_total{state}:
  - Type: Gauge
  - Description: Total instances by admin state (up/down)
  - Labels: state
  - Example: fleetctl_instances_total{state="up"} 42

fleetctl_disks_total{dev_type}:
  - Type: Gauge
  - Description: Total disks by device type (drbd8/plain/file)
  - Labels: dev_type
  - Example: fleetctl_disks_total{dev_type="drbd8"} 84

Raft Metrics:

fleetctl_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is Raft leader (1=leader, 0=follower)
  - Example: fleetctl_raft_is_leader 1

fleetctl_raft_peers_total:
  - Type: Gauge
  - Description: Total Raft peers in the cluster
  - Example: fleetctl_raft_peers_total 3

fleetctl_raft_log_index:
  - Type: Gauge
  - Description: Current Raft log index
  - Example: fleetctl_raft_log_index 1543

fleetctl_raft_applied_index:
  - Type: Gauge
  - Description: Last applied Raft log index
  - Example: fleetctl_raft_applied_index 1543

fleetctl_raft_apply_duration_seconds:
  - Type: Histogram
  - Description: Time to apply a Raft log entry
  - Buckets: default Prometheus buckets

fleetctl_raft_commit_duration_seconds:
  - Type: Histogram
  - Description: Time to commit a Raft log entry
  - Buckets: default Prometheus buckets

RPC Metrics:

fleetctl_rpc_requests_total{procedure, status}:
  - Type: Counter
  - Description: Total node RPC calls by procedure and status
  - Labels: procedure, status
  - Example: fleetctl_rpc_requests_total{procedure="blockdev_create",status="200"} 100

fleetctl_rpc_request_duration_seconds{procedure}:
  - Type: Histogram
  - Description: Node RPC call duration in seconds by procedure
  - Labels: procedure
  - Buckets: default Prometheus buckets

Lock Manager Metrics:

fleetctl_lock_wait_duration_seconds{level}:
  - Type: Histogram
  - Description: Time spent waiting to acquire a lock, by level (bgl/instance/node)
  - Labels: level
  - Buckets: default Prometheus buckets

fleetctl_locks_held{level, mode}:
  - Type: Gauge
  - Description: Number of locks currently held, by level and mode (shared/exclusive)
  - Labels: level, mode

Job / Logical Unit Metrics:

fleetctl_jobs_total{status}:
  - Type: Gauge
  - Description: Total jobs by status (queued/waiting/running/success/error)
  - Labels: status
  - Example: fleetctl_jobs_total{status="running"} 4

fleetctl_job_duration_seconds{opcode}:
  - Type: Histogram
  - Description: Time to execute a job from dequeue to completion, by opcode
  - Labels: opcode
  - Buckets: 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800

fleetctl_opcodes_failed_total{opcode}:
  - Type: Counter
  - Description: Total opcode executions that failed, by opcode
  - Labels: opcode

Block Device / DRBD Metrics:

fleetctl_drbd_sync_progress_ratio{minor}:
  - Type: Gauge
  - Description: DRBD resync progress as a ratio from 0 to 1, by minor number
  - Labels: minor

fleetctl_disk_replace_duration_seconds:
  - Type: Histogram
  - Description: Time to replace an instance's disks
  - Buckets: 1, 5, 10, 30, 60, 300, 600, 1800, 3600

fleetctl_migration_duration_seconds:
  - Type: Histogram
  - Description: Time for a live migration to complete
  - Buckets: 1, 5, 10, 30, 60, 120, 300, 600

Hooks Runner Metrics:

fleetctl_hook_duration_seconds{phase}:
  - Type: Histogram
  - Description: Time to run a hooks directory, by phase (pre/post)
  - Labels: phase
  - Buckets: default Prometheus buckets

fleetctl_hooks_failed_total{phase}:
  - Type: Counter
  - Description: Total hook scripts that returned non-zero, by phase
  - Labels: phase

IAllocator Bridge Metrics:

fleetctl_allocator_call_duration_seconds:
  - Type: Histogram
  - Description: Time for an IAllocator script invocation to return
  - Buckets: default Prometheus buckets

fleetctl_allocator_calls_failed_total:
  - Type: Counter
  - Description: Total IAllocator invocations that failed or returned an infeasible result

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/fleetctl/pkg/metrics"

	// Set absolute value
	metrics.NodesTotal.WithLabelValues("master-candidate", "online").Set(3)

	// Increment/decrement
	metrics.LocksHeld.WithLabelValues("instance", "exclusive").Inc()
	metrics.LocksHeld.WithLabelValues("instance", "exclusive").Dec()

Updating Counter Metrics:

	// Increment by 1
	metrics.OpcodesFailedTotal.WithLabelValues("OP_CREATE_INSTANCE").Inc()

	// Add arbitrary value
	metrics.RPCRequestsTotal.WithLabelValues("blockdev_create", "200").Add(1)

Recording Histogram Observations:

	// Direct observation
	metrics.RaftApplyDuration.Observe(0.012) // 12ms

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.DiskReplaceDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.RPCRequestDuration, "blockdev_create")

Complete Example:

	package main

	import (
		"net/http"
		"time"

		"github.com/cuemby/fleetctl/pkg/metrics"
	)

	func main() {
		// Update cluster metrics
		metrics.NodesTotal.WithLabelValues("master-candidate", "online").Set(3)
		metrics.NodesTotal.WithLabelValues("regular", "online").Set(5)
		metrics.InstancesTotal.WithLabelValues("up").Set(42)

		// Time an operation
		timer := metrics.NewTimer()
		replaceDisks()
		timer.ObserveDuration(metrics.DiskReplaceDuration)

		// Expose metrics endpoint
		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

	func replaceDisks() {
		// disk replace logic
		time.Sleep(100 * time.Millisecond)
	}

# Integration Points

This package integrates with:

  - pkg/master: Updates cluster and Raft metrics
  - pkg/processor: Tracks job status, job duration, failed opcodes, and
    hook duration and failures
  - pkg/allocator: Reports IAllocator call duration and failures
  - cmd/fleetctl: Serves the /metrics, /health, /ready and /live endpoints
  - Prometheus: Scrapes /metrics endpoint

pkg/lock, pkg/rpc, pkg/blockdev and pkg/hooks record no metrics.

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (instance names, timestamps)
  - Document label values in metric description
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any fleetctl package
  - Thread-safe concurrent updates
  - No initialization required by callers

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on hot path

Memory Usage:
  - Per metric: ~1KB baseline
  - Per label combination: ~100 bytes
  - Histogram buckets: ~50 bytes each
  - Total: ~1-5MB for a typical cluster

Scrape Performance:
  - Metrics gathering: ~1-5ms for full scrape
  - HTTP response: ~10ms for typical metric set
  - Recommendation: Scrape interval >= 15s
  - Concurrent scrapes: Safe (read-only)

Cardinality Management:
  - Low cardinality: role, status, level, mode (< 10 values)
  - Medium cardinality: procedure, opcode (< 100 values)
  - Avoid: instance names, minor numbers as unbounded labels
  - Best practice: aggregate high-cardinality dimensions in logs

# Troubleshooting

Common Issues:

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Solution: Verify metric variable is exported

High Cardinality:
  - Symptom: Prometheus memory usage grows
  - Cause: Using IDs or unbounded values as labels
  - Check: Label cardinality (count unique combinations)
  - Solution: Remove high-cardinality labels, aggregate differently

Histogram Bucket Mismatch:
  - Symptom: No data in desired percentiles
  - Cause: Buckets don't cover observed value range
  - Check: Histogram sum / count for average
  - Solution: Customize buckets for value range

Stale Metrics:
  - Symptom: Metrics not updating
  - Cause: Code not calling metric update methods
  - Check: Add logging around metric updates
  - Solution: Instrument code paths correctly

# Monitoring

Prometheus Queries (PromQL):

Node Health:
  - Total nodes: sum(fleetctl_nodes_total)
  - Online master candidates: fleetctl_nodes_total{role="master-candidate",status="online"}
  - Offline nodes: fleetctl_nodes_total{status="offline"}

Job Health:
  - Running jobs: fleetctl_jobs_total{status="running"}
  - Error jobs: fleetctl_jobs_total{status="error"}
  - Opcode failure rate: rate(fleetctl_opcodes_failed_total[5m])

RPC Performance:
  - Request rate: rate(fleetctl_rpc_requests_total[1m])
  - Error rate: rate(fleetctl_rpc_requests_total{status=~"5.."}[1m])
  - p95 latency: histogram_quantile(0.95, fleetctl_rpc_request_duration_seconds_bucket)
  - p99 latency: histogram_quantile(0.99, fleetctl_rpc_request_duration_seconds_bucket)

Raft Health:
  - Has leader: max(fleetctl_raft_is_leader) > 0
  - Leader changes: changes(fleetctl_raft_is_leader[10m])
  - Log lag: fleetctl_raft_log_index - fleetctl_raft_applied_index
  - Peer count: fleetctl_raft_peers_total

Lock Contention:
  - p95 lock wait: histogram_quantile(0.95, fleetctl_lock_wait_duration_seconds_bucket)
  - Locks held by level: fleetctl_locks_held

# Alerting Rules

Recommended Prometheus alerts:

High Opcode Failure Rate:
  - Alert: rate(fleetctl_opcodes_failed_total[5m]) > 0.1
  - Description: More than 0.1 opcodes failing per second
  - Action: Check processor logs, node health, hook output

No Raft Leader:
  - Alert: max(fleetctl_raft_is_leader) == 0
  - Description: Cluster has no Raft leader
  - Action: Check master connectivity, quorum status

Frequent Leader Changes:
  - Alert: changes(fleetctl_raft_is_leader[10m]) > 3
  - Description: Leader changed more than 3 times in 10 minutes
  - Action: Check network latency, master load

High RPC Latency:
  - Alert: histogram_quantile(0.95, fleetctl_rpc_request_duration_seconds_bucket) > 1
  - Description: p95 RPC latency > 1 second
  - Action: Check node backend load, network latency

DRBD Resync Stalled:
  - Alert: fleetctl_drbd_sync_progress_ratio < 1 for an extended window
  - Description: A DRBD minor has not finished resync
  - Action: Check node connectivity, disk I/O load

# Grafana Dashboards

Recommended dashboard panels:

Cluster Overview:
  - Gauge: Total nodes by role and status
  - Gauge: Total instances by state
  - Time series: Jobs by status (running, queued, error)
  - Time series: Opcode failure rate

RPC Performance:
  - Time series: Request rate by procedure
  - Time series: p95 and p99 latency
  - Time series: Error rate (5xx responses)

Raft Health:
  - Single stat: Leader status (yes/no)
  - Time series: Log index and applied index
  - Single stat: Peer count
  - Time series: Leader changes

Block Device Health:
  - Heatmap: DRBD sync progress by minor
  - Time series: Disk replace duration
  - Time series: Migration duration

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
