/*
Package health derives node liveness for the master, per spec.md §3: "a
node's liveness for an operation is derived: offline ⇒ RPC skipped;
result synthesized as offline-failure." Rather than a node self-reporting
its own status, a Monitor running on the master periodically round-trips
a heartbeat RPC to every node and flips Node.Offline once consecutive
failures cross a configured threshold.

# Checker

A Checker runs one liveness probe and reports a Result. The cluster has
exactly one Checker implementation, HeartbeatChecker, which calls
"node_info" over the same mTLS rpc.Client job opcodes use — a heartbeat
failure means a job targeting that node would fail the same way.

# Status and hysteresis

Status tracks consecutive successes/failures per node and only flips
Healthy after Config.Retries consecutive failures (or one success),
matching the hysteresis pkg/lu.startinstance and friends expect before
actually treating a node as offline: a single dropped heartbeat should
not take a node out of the allocation pool.

# Monitor

Monitor owns one Status per node and drives the whole loop: list nodes,
heartbeat each on Config.Interval, update its Status, and call back into
the master to persist an Offline transition through Raft. It follows the
same Start/Stop-over-a-stop-channel shape as pkg/processor's worker pool.
*/
package health
