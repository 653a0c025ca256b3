package lu

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/types"
)

// startInstance implements OP_START_INSTANCE: "exclusive instance +
// shared primary", per the lock-contract table.
type startInstance struct {
	Base
	name string
}

func newStartInstance(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	return &startInstance{name: name}, nil
}

func (lu *startInstance) Locks(ctx *Context) (LockRequest, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	nodes := []string{}
	if err == nil && inst != nil {
		nodes = []string{inst.PrimaryNode}
	}
	return LockRequest{
		BGLMode:   ModeShared,
		Instances: []string{lu.name},
		InstMode:  ModeExclusive,
		Nodes:     nodes,
		NodeMode:  ModeShared,
	}, nil
}

func (lu *startInstance) CheckPrereq(ctx *Context) error {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return luerrors.Prereqf("OP_START_INSTANCE", "instance %s not found", lu.name)
	}
	node, err := ctx.Master.GetNode(inst.PrimaryNode)
	if err != nil || node == nil || node.Offline {
		return luerrors.Prereqf("OP_START_INSTANCE", "primary node %s is unavailable", inst.PrimaryNode)
	}
	return nil
}

func (lu *startInstance) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, luerrors.Execf("OP_START_INSTANCE", "instance vanished: %w", err)
	}
	feedback("starting instance %s on %s", lu.name, inst.PrimaryNode)
	res := ctx.Call(inst.PrimaryNode, "instance_start", inst)
	if err := requireOK("OP_START_INSTANCE", inst.PrimaryNode, res); err != nil {
		return nil, luerrors.Hypervisorf("OP_START_INSTANCE", "%w", err)
	}
	inst.AdminState = types.AdminStateUp
	if err := ctx.Master.UpdateInstance(inst); err != nil {
		return nil, luerrors.Execf("OP_START_INSTANCE", "persist admin_state: %w", err)
	}
	return fmt.Sprintf("instance %s started", lu.name), nil
}

func (lu *startInstance) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, nil
	}
	return &HookEnv{
		Env:       map[string]string{"INSTANCE_NAME": lu.name},
		PreNodes:  []string{inst.PrimaryNode},
		PostNodes: []string{inst.PrimaryNode},
	}, nil
}

func (lu *startInstance) HookPath() string { return "instance-start" }
