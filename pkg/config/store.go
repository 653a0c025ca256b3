package config

import (
	"github.com/cuemby/fleetctl/pkg/types"
)

// Store defines the interface for authoritative cluster-state storage.
// It is implemented by BoltStore and applied exclusively through the Raft
// FSM in pkg/master, giving the single-writer/copy-on-write-snapshot model
// described in .
type Store interface {
	// Cluster (singleton record: identity, parameter defaults, allocators)
	SaveCluster(cluster *types.Cluster) error
	GetCluster() (*types.Cluster, error)

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Instances
	CreateInstance(inst *types.Instance) error
	GetInstance(name string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	UpdateInstance(inst *types.Instance) error
	DeleteInstance(name string) error

	// Jobs (in-memory contract only ; persisted here for
	// durability across master failover, but pkg/processor is the sole
	// authority over in-flight execution state)
	CreateJob(job *types.Job) error
	GetJob(id int64) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error

	// Certificate Authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Utility
	Close() error
}
