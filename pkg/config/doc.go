/*
Package config provides BoltDB-backed persistence for the cluster config
store described in  ("Global master-state").

Store is applied exclusively by the Raft FSM in pkg/master — every write
happens under Raft's single-writer log, so readers only ever see consistent,
already-committed snapshots taken via the normal Get and List calls. BoltStore
implements Store directly on bbolt, following 
pkg/storage.BoltStore: one file per data directory, one bucket per entity
kind, JSON-serialized values, ACID transactions with fsync on write.

Buckets: cluster (singleton record), nodes, instances, jobs, ca.
*/
package config
