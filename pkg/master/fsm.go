package master

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/hashicorp/raft"
)

// ClusterFSM implements the Raft finite state machine backing the single
// writer required of the cluster config store: every mutation to
// cluster/node/instance/job state goes through Raft consensus and is
// applied here, in log order, to the local config.Store.
type ClusterFSM struct {
	mu    sync.RWMutex
	store config.Store
}

// NewClusterFSM creates a new FSM instance.
func NewClusterFSM(store config.Store) *ClusterFSM {
	return &ClusterFSM{store: store}
}

// Command represents a state change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Command ops.
const (
	OpSaveCluster     = "save_cluster"
	OpCreateNode      = "create_node"
	OpUpdateNode      = "update_node"
	OpDeleteNode      = "delete_node"
	OpCreateInstance  = "create_instance"
	OpUpdateInstance  = "update_instance"
	OpDeleteInstance  = "delete_instance"
	OpCreateJob       = "create_job"
	OpUpdateJob       = "update_job"
)

// Apply applies a Raft log entry to the FSM. Called by Raft when a log
// entry is committed.
func (f *ClusterFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpSaveCluster:
		var cluster types.Cluster
		if err := json.Unmarshal(cmd.Data, &cluster); err != nil {
			return err
		}
		return f.store.SaveCluster(&cluster)

	case OpCreateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.CreateNode(&node)

	case OpUpdateNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.UpdateNode(&node)

	case OpDeleteNode:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	case OpCreateInstance:
		var inst types.Instance
		if err := json.Unmarshal(cmd.Data, &inst); err != nil {
			return err
		}
		if err := inst.Validate(); err != nil {
			return err
		}
		return f.store.CreateInstance(&inst)

	case OpUpdateInstance:
		var inst types.Instance
		if err := json.Unmarshal(cmd.Data, &inst); err != nil {
			return err
		}
		if err := inst.Validate(); err != nil {
			return err
		}
		return f.store.UpdateInstance(&inst)

	case OpDeleteInstance:
		var name string
		if err := json.Unmarshal(cmd.Data, &name); err != nil {
			return err
		}
		return f.store.DeleteInstance(name)

	case OpCreateJob:
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.CreateJob(&job)

	case OpUpdateJob:
		var job types.Job
		if err := json.Unmarshal(cmd.Data, &job); err != nil {
			return err
		}
		return f.store.UpdateJob(&job)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM for Raft log
// compaction.
func (f *ClusterFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cluster, err := f.store.GetCluster()
	if err != nil {
		cluster = nil // cluster may not be bootstrapped yet
	}

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	instances, err := f.store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	jobs, err := f.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return &clusterSnapshot{
		Cluster:   cluster,
		Nodes:     nodes,
		Instances: instances,
		Jobs:      jobs,
	}, nil
}

// Restore restores the FSM from a snapshot, called when a node restarts or
// joins the Raft group.
func (f *ClusterFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap clusterSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if snap.Cluster != nil {
		if err := f.store.SaveCluster(snap.Cluster); err != nil {
			return fmt.Errorf("failed to restore cluster: %w", err)
		}
	}
	for _, node := range snap.Nodes {
		if err := f.store.CreateNode(node); err != nil {
			return fmt.Errorf("failed to restore node: %w", err)
		}
	}
	for _, inst := range snap.Instances {
		if err := f.store.CreateInstance(inst); err != nil {
			return fmt.Errorf("failed to restore instance: %w", err)
		}
	}
	for _, job := range snap.Jobs {
		if err := f.store.CreateJob(job); err != nil {
			return fmt.Errorf("failed to restore job: %w", err)
		}
	}

	return nil
}

// clusterSnapshot is a point-in-time snapshot of cluster state.
type clusterSnapshot struct {
	Cluster   *types.Cluster
	Nodes     []*types.Node
	Instances []*types.Instance
	Jobs      []*types.Job
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *clusterSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases the snapshot resources.
func (s *clusterSnapshot) Release() {}
