/*
Package master implements the cluster master-candidate node with Raft
consensus.

A fleetctl cluster has 1-7 master candidates forming a Raft quorum. One of
them holds Raft leadership at any time and is the cluster's master: the
only node that may admit new writes to the config store, issue node/CLI
certificates, and submit jobs to pkg/processor for execution.

# Architecture

	┌──────────────────── MASTER CANDIDATE ───────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │           pkg/rpc HTTPS server              │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │                 Master                        │          │
	│  │  - Proposes Raft commands for state changes   │          │
	│  │  - Issues node/CLI certificates (CA)          │          │
	│  │  - Generates and validates join tokens        │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │          Raft Consensus Layer                 │          │
	│  │  - Leader election                            │          │
	│  │  - Log replication across master candidates   │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │            ClusterFSM                         │          │
	│  │  - Apply(): process committed commands        │          │
	│  │  - Snapshot()/Restore(): log compaction        │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │          pkg/config BoltDB store               │          │
	│  │  - cluster, nodes, instances, jobs, ca        │          │
	│  └────────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────────┘

# Core Components

Master:
  - Proposes Raft commands for state changes (SaveCluster, CreateNode, ...)
  - Serves reads directly from the local config.Store
  - Owns the cluster certificate authority and join-token manager

ClusterFSM:
  - Raft finite state machine, applies committed commands to config.Store
  - Snapshot/Restore for fast recovery and new-member catch-up

TokenManager:
  - Generates and validates time-limited join tokens for nodes and master
    candidates

Command:
  - State-change operation, serialized as JSON in the Raft log

# Raft Consensus

Cluster sizes follow the usual odd-quorum sizing: 3 masters tolerate one
failure, 5 tolerate two. Write operations require majority quorum and
succeed only on the leader: Apply on a follower fails, and nothing
forwards it to the leader. Reads are served from each master's local store.
Timeouts are tuned in raftConfig for LAN-scale failover, well under the
defaults tuned for hashicorp/raft's WAN use case.

# Leadership

Only the Raft leader may accept Apply() calls that mutate cluster state
and generate join tokens. The processor workers that drain the job queue
are started by cmd/fleetctl at startup without checking IsLeader(). When
a processor starts it re-enqueues every job persisted in the queued or
running state, so a job whose master failed mid-execution runs again from
its first opcode.

# See Also

  - pkg/config for state persistence
  - pkg/processor for job execution
  - pkg/rpc for the node-facing transport
  - pkg/security for the certificate authority and secrets
*/
package master
