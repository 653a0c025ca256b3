package lu

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/luerrors"
)

// removeNode implements OP_REMOVE_NODE: "exclusive target" at the node
// level, per the lock-contract table.
type removeNode struct {
	Base
	nodeID string
}

func newRemoveNode(fields map[string]interface{}) (LogicalUnit, error) {
	nodeID, err := fieldString(fields, "node_id")
	if err != nil {
		return nil, err
	}
	return &removeNode{nodeID: nodeID}, nil
}

func (lu *removeNode) Locks(ctx *Context) (LockRequest, error) {
	return LockRequest{
		BGLMode:  ModeShared,
		Nodes:    []string{lu.nodeID},
		NodeMode: ModeExclusive,
	}, nil
}

func (lu *removeNode) CheckPrereq(ctx *Context) error {
	node, err := ctx.Master.GetNode(lu.nodeID)
	if err != nil || node == nil {
		return luerrors.Prereqf("OP_REMOVE_NODE", "node %s not found", lu.nodeID)
	}
	instances, err := ctx.Master.ListInstances()
	if err != nil {
		return luerrors.Prereqf("OP_REMOVE_NODE", "list instances: %w", err)
	}
	for _, inst := range instances {
		if inst.PrimaryNode == lu.nodeID {
			return luerrors.Prereqf("OP_REMOVE_NODE", "node %s still hosts instance %s as primary", lu.nodeID, inst.Name)
		}
		for _, sec := range inst.SecondaryNodes {
			if sec == lu.nodeID {
				return luerrors.Prereqf("OP_REMOVE_NODE", "node %s still hosts instance %s as secondary", lu.nodeID, inst.Name)
			}
		}
	}
	if node.MasterCapable && node.Role == "master" {
		return luerrors.Prereqf("OP_REMOVE_NODE", "cannot remove the current master node")
	}
	return nil
}

func (lu *removeNode) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	feedback("removing node %s", lu.nodeID)
	res := ctx.Call(lu.nodeID, "node_leave_cluster")
	if err := requireOK("OP_REMOVE_NODE", lu.nodeID, res); err != nil {
		feedback("node_leave_cluster on %s: %v (continuing)", lu.nodeID, err)
	}
	if err := ctx.Master.DeleteNode(lu.nodeID); err != nil {
		return nil, luerrors.Execf("OP_REMOVE_NODE", "delete node: %w", err)
	}
	ctx.Locks.Nodes().Remove(ctx.ctx, lu.nodeID, lockAcquireTimeout)
	return fmt.Sprintf("node %s removed", lu.nodeID), nil
}

func (lu *removeNode) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	return &HookEnv{Env: map[string]string{"NODE_NAME": lu.nodeID}}, nil
}

func (lu *removeNode) HookPath() string { return "node-remove" }
