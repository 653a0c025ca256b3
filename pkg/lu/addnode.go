package lu

import (
	"fmt"
	"net"
	"time"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/types"
)

// addNode implements OP_ADD_NODE: "exclusive new node + shared all"
// on the node level, since it must hold the new node's own lock
// exclusively while checking for conflicts against every existing node.
type addNode struct {
	Base
	nodeID        string
	name          string
	primaryIP     string
	secondaryIP   string
	masterCapable bool
	vmCapable     bool
}

func newAddNode(fields map[string]interface{}) (LogicalUnit, error) {
	nodeID, err := fieldString(fields, "node_id")
	if err != nil {
		return nil, err
	}
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	primaryIP, err := fieldString(fields, "primary_ip")
	if err != nil {
		return nil, err
	}
	secondaryIP, _ := fields["secondary_ip"].(string)
	return &addNode{
		nodeID:        nodeID,
		name:          name,
		primaryIP:     primaryIP,
		secondaryIP:   secondaryIP,
		masterCapable: fieldBool(fields, "master_capable"),
		vmCapable:     fieldBool(fields, "vm_capable"),
	}, nil
}

// Locks acquires every existing node shared, covering the "+ shared all"
// half of the table's "exclusive new node + shared all" contract; the
// new node's own name does not exist in the lockset until Exec
// registers it, so its exclusivity is enforced by CreateNode's
// uniqueness check rather than a pre-acquired lock.
func (lu *addNode) Locks(ctx *Context) (LockRequest, error) {
	return LockRequest{
		BGLMode:  ModeShared,
		AllNodes: true,
		NodeMode: ModeShared,
	}, nil
}

func (lu *addNode) CheckPrereq(ctx *Context) error {
	if net.ParseIP(lu.primaryIP) == nil {
		return luerrors.Prereqf("OP_ADD_NODE", "invalid primary IP %q", lu.primaryIP)
	}
	if existing, err := ctx.Master.GetNode(lu.nodeID); err == nil && existing != nil {
		return luerrors.Prereqf("OP_ADD_NODE", "node %s already registered", lu.nodeID)
	}
	nodes, err := ctx.Master.ListNodes()
	if err != nil {
		return luerrors.Prereqf("OP_ADD_NODE", "list nodes: %w", err)
	}
	for _, n := range nodes {
		if n.PrimaryIP.Equal(net.ParseIP(lu.primaryIP)) {
			return luerrors.Prereqf("OP_ADD_NODE", "primary IP %s already in use by node %s", lu.primaryIP, n.ID)
		}
	}
	return nil
}

func (lu *addNode) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	feedback("registering node %s (%s)", lu.nodeID, lu.primaryIP)
	node := &types.Node{
		ID:            lu.nodeID,
		Name:          lu.name,
		PrimaryIP:     net.ParseIP(lu.primaryIP),
		Role:          types.NodeRoleRegular,
		MasterCapable: lu.masterCapable,
		VMCapable:     lu.vmCapable,
		Status:        types.NodeStatusUnknown,
		CreatedAt:     time.Now(),
	}
	if lu.secondaryIP != "" {
		node.SecondaryIP = net.ParseIP(lu.secondaryIP)
	}
	if err := ctx.Master.CreateNode(node); err != nil {
		return nil, luerrors.Execf("OP_ADD_NODE", "create node: %w", err)
	}
	ctx.Locks.Nodes().Add(lu.nodeID)
	return fmt.Sprintf("node %s added", lu.nodeID), nil
}

func (lu *addNode) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	return &HookEnv{
		Env:       map[string]string{"NODE_NAME": lu.name, "NODE_PIP": lu.primaryIP},
		PostNodes: []string{lu.nodeID},
	}, nil
}

func (lu *addNode) HookPath() string { return "node-add" }
