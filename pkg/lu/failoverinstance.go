package lu

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/types"
)

// failoverInstance implements OP_FAILOVER_INSTANCE: a cold relocation —
// shut down on primary, swap primary/secondary, start on the (former)
// secondary — used when live migration is unavailable or the primary is
// unreachable. Lock contract: "exclusive instance + shared
// {primary, secondary}".
type failoverInstance struct {
	Base
	name string
}

func newFailoverInstance(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	return &failoverInstance{name: name}, nil
}

func (lu *failoverInstance) Locks(ctx *Context) (LockRequest, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	nodes := []string{}
	if err == nil && inst != nil {
		nodes = append([]string{inst.PrimaryNode}, inst.SecondaryNodes...)
	}
	return LockRequest{
		BGLMode:   ModeShared,
		Instances: []string{lu.name},
		InstMode:  ModeExclusive,
		Nodes:     nodes,
		NodeMode:  ModeShared,
	}, nil
}

func (lu *failoverInstance) CheckPrereq(ctx *Context) error {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return luerrors.Prereqf("OP_FAILOVER_INSTANCE", "instance %s not found", lu.name)
	}
	if inst.DiskTemplate != types.DiskTemplateDRBD8 {
		return luerrors.Prereqf("OP_FAILOVER_INSTANCE", "failover requires a drbd8 instance, got %s", inst.DiskTemplate)
	}
	if len(inst.SecondaryNodes) != 1 {
		return luerrors.Prereqf("OP_FAILOVER_INSTANCE", "instance %s has no single secondary to fail over to", lu.name)
	}
	target := inst.SecondaryNodes[0]
	node, err := ctx.Master.GetNode(target)
	if err != nil || node == nil || node.Offline {
		return luerrors.Prereqf("OP_FAILOVER_INSTANCE", "secondary node %s is unavailable", target)
	}
	return nil
}

func (lu *failoverInstance) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, luerrors.Execf("OP_FAILOVER_INSTANCE", "instance vanished: %w", err)
	}
	oldPrimary := inst.PrimaryNode
	newPrimary := inst.SecondaryNodes[0]

	feedback("shutting down %s on %s", lu.name, oldPrimary)
	res := ctx.Call(oldPrimary, "instance_shutdown", inst)
	if err := requireOK("OP_FAILOVER_INSTANCE", oldPrimary, res); err != nil {
		feedback("shutdown on %s failed: %v (proceeding, node may be unreachable)", oldPrimary, err)
	}

	feedback("promoting %s to primary", newPrimary)
	inst.PrimaryNode = newPrimary
	inst.SecondaryNodes = []string{oldPrimary}
	inst.AdminState = types.AdminStateUp

	feedback("starting %s on %s", lu.name, newPrimary)
	startRes := ctx.Call(newPrimary, "instance_start", inst)
	if err := requireOK("OP_FAILOVER_INSTANCE", newPrimary, startRes); err != nil {
		return nil, luerrors.Hypervisorf("OP_FAILOVER_INSTANCE", "start on new primary: %w", err)
	}

	if err := ctx.Master.UpdateInstance(inst); err != nil {
		return nil, luerrors.Execf("OP_FAILOVER_INSTANCE", "persist new primary: %w", err)
	}
	return fmt.Sprintf("instance %s failed over to %s", lu.name, newPrimary), nil
}

func (lu *failoverInstance) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, nil
	}
	return &HookEnv{
		Env:       map[string]string{"INSTANCE_NAME": lu.name},
		PreNodes:  append([]string{inst.PrimaryNode}, inst.SecondaryNodes...),
		PostNodes: append([]string{inst.PrimaryNode}, inst.SecondaryNodes...),
	}, nil
}

func (lu *failoverInstance) HookPath() string { return "instance-failover" }
