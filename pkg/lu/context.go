package lu

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetctl/pkg/allocator"
	"github.com/cuemby/fleetctl/pkg/lock"
	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/master"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
)

// DefaultNodePort is the node daemon's RPC listen port. the design never
// pins a number; 1811 is Ganeti's historical convention, adopted here as
// an Open Question decision (see DESIGN.md).
const DefaultNodePort = 1811

const (
	lockAcquireTimeout = 30 * time.Second
	nodeCallTimeout    = 5 * time.Minute
)

// Context bundles everything a LogicalUnit needs to read/mutate cluster
// state and reach node daemons: Master is the single Raft-backed writer,
// Locks is the hierarchical lock manager, RPC reaches node procedures
// built in pkg/node, and Exec seeds the unique-ID generator.
type Context struct {
	Master    *master.Master
	Locks     *lock.Manager
	RPC       *rpc.Client
	Allocator *allocator.Bridge
	Exec      types.ExecutionContext
	Job       *lock.Job

	ctx context.Context
}

// NewContext constructs a Context for one job's LU execution.
func NewContext(ctx context.Context, m *master.Master, locks *lock.Manager, client *rpc.Client, alloc *allocator.Bridge, execCtx types.ExecutionContext) *Context {
	return &Context{
		Master:    m,
		Locks:     locks,
		RPC:       client,
		Allocator: alloc,
		Exec:      execCtx,
		ctx:       ctx,
	}
}

// ClusterView builds an allocator.ClusterView from current node/instance
// state, the read pkg/lu takes under locks it already holds before
// calling Context.Allocator.
func (c *Context) ClusterView() (allocator.ClusterView, error) {
	cluster, err := c.Master.GetCluster()
	if err != nil {
		return allocator.ClusterView{}, err
	}
	nodes, err := c.Master.ListNodes()
	if err != nil {
		return allocator.ClusterView{}, err
	}
	instances, err := c.Master.ListInstances()
	if err != nil {
		return allocator.ClusterView{}, err
	}
	view := allocator.ClusterView{Nodes: nodes, Instances: instances}
	if cluster != nil {
		view.ClusterName = cluster.Name
		view.ClusterTags = cluster.Tags
		if len(cluster.EnabledHypervisors) > 0 {
			view.HypervisorType = cluster.EnabledHypervisors[0]
		}
	}
	return view, nil
}

// Done exposes the underlying cancellation signal so LUs can honor
// cooperative cancellation at lock-acquire/RPC/hook/sleep points.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Target resolves a node ID into an rpc.Target, synthesizing an offline
// result rather than erroring when the node itself is marked offline, per
//  "offline ⇒ RPC skipped; result synthesized as
// offline-failure".
func (c *Context) Target(nodeID string) (rpc.Target, error) {
	node, err := c.Master.GetNode(nodeID)
	if err != nil {
		return rpc.Target{}, luerrors.RPCf(nodeID, "resolve node: %w", err)
	}
	if node.Offline {
		return rpc.Target{NodeID: node.ID, Offline: true}, nil
	}
	return rpc.Target{
		NodeID: node.ID,
		Addr:   fmt.Sprintf("%s:%d", node.PrimaryIP.String(), DefaultNodePort),
	}, nil
}

// Call resolves nodeID and invokes procedure on it, collapsing target
// resolution and the RPC call itself into one step for LU Exec bodies.
func (c *Context) Call(nodeID, procedure string, args ...interface{}) rpc.Result {
	target, err := c.Target(nodeID)
	if err != nil {
		return rpc.Result{Status: rpc.StatusFailed, Message: err.Error()}
	}
	return c.RPC.Call(target, procedure, args)
}

// CallAll resolves every nodeID and fans the call out in parallel.
func (c *Context) CallAll(nodeIDs []string, procedure string, args ...interface{}) map[string]rpc.Result {
	targets := make([]rpc.Target, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		t, err := c.Target(id)
		if err != nil {
			t = rpc.Target{NodeID: id, Offline: true}
		}
		targets = append(targets, t)
	}
	return c.RPC.CallMulti(targets, procedure, args)
}

// nextDRBDPort allocates one port from the cluster's monotonic DRBD port
// counter, persisting the advance through Raft immediately so a
// concurrent allocation never reuses it.
func (c *Context) nextDRBDPort() int {
	cluster, err := c.Master.GetCluster()
	if err != nil || cluster == nil {
		return 0
	}
	port := cluster.NextDRBDPort
	cluster.NextDRBDPort++
	_ = c.Master.SaveCluster(cluster)
	return port
}

// requireOK turns a non-OK rpc.Result into a classified error.
func requireOK(op, nodeID string, res rpc.Result) error {
	switch res.Status {
	case rpc.StatusOK:
		return nil
	case rpc.StatusOffline:
		return luerrors.RPCf(op, "node %s is offline", nodeID)
	default:
		return luerrors.RPCf(op, "node %s: %s", nodeID, res.Message)
	}
}
