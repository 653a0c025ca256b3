/*
Package types defines the core data structures shared across fleetctl.

This package contains the domain model that every other package operates on:
clusters, nodes, instances, disks, DRBD minor state, and jobs/opcodes.
These types are serialized to BoltDB buckets by
pkg/config, replicated through pkg/master's Raft log, carried over pkg/rpc,
and consumed by the Logical Units in pkg/lu.

# Architecture

The types package is the foundation of fleetctl's data model:

	┌──────────────────── DOMAIN MODEL ─────────────────────────┐
	│                                                             │
	│  Cluster                                                   │
	│   ├─ MasterNode, EnabledHypervisors, default params      │
	│   └─ NextDRBDPort, NextVNCPort  (monotonic allocators)     │
	│                                                             │
	│  Instance                                                  │
	│   ├─ Disks []*Disk            (recursive device tree)      │
	│   ├─ NICs  []*NIC                                          │
	│   └─ AdminState, PrimaryNode, SecondaryNodes               │
	│                                                             │
	│  Disk (sum type, tag = DevType)                            │
	│   ├─ LV        { VG, Name }                                │
	│   ├─ DRBD8     { LogicalID, Children: [data, meta] }       │
	│   └─ File      { Path }                                    │
	│                                                             │
	│  Job                                                       │
	│   └─ Opcodes []*Opcode        (ordered, typed, locked)      │
	└─────────────────────────────────────────────────────────────┘

All types are designed to be:
  - Serializable as JSON (the on-disk BoltDB format and the RPC wire format)
  - Self-documenting (clear field names, no hidden invariants beyond what's
    written down on the struct)
  - Faithful to the None-vs-zero distinction called out in the spec's open
    questions (see Disk.Size and DRBDMinorState.SyncPercent, both pointers)

# Core Types

Cluster topology:
  - Cluster: cluster identity, enabled hypervisors, default parameter sets
  - Node: a manager-candidate or worker host, with role/status/resources
  - NodeRole, NodeStatus: the role and liveness enums a Node carries

Instance and disks:
  - Instance: a VM instance, its disk template, primary/secondary nodes
  - Disk: the recursive LV/DRBD8/File/Absent device descriptor tree
  - DiskTemplate, DevType: the enums constraining Instance/Disk shape

Jobs:
  - Job: an ordered sequence of Opcodes submitted as one unit of work
  - Opcode: one typed administrative operation (CreateInstance, etc.)
  - JobStatus: queued/waiting/running/success/error/cancel(ed|ing)

Events:
  - Event is defined in pkg/events, not in this package
*/
package types
