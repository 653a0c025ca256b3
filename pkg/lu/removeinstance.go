package lu

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/types"
)

// removeInstance implements OP_REMOVE_INSTANCE, the natural counterpart
// to CreateInstance: it stops the instance, detaches and removes its
// block devices, and releases its locks.
type removeInstance struct {
	Base
	name string
}

func newRemoveInstance(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	return &removeInstance{name: name}, nil
}

func (lu *removeInstance) Locks(ctx *Context) (LockRequest, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	nodes := []string{}
	if err == nil && inst != nil {
		nodes = append(nodes, inst.PrimaryNode)
		nodes = append(nodes, inst.SecondaryNodes...)
	}
	return LockRequest{
		BGLMode:   ModeShared,
		Instances: []string{lu.name},
		InstMode:  ModeExclusive,
		Nodes:     nodes,
		NodeMode:  ModeShared,
	}, nil
}

func (lu *removeInstance) CheckPrereq(ctx *Context) error {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return luerrors.Prereqf("OP_REMOVE_INSTANCE", "instance %s not found", lu.name)
	}
	if inst.AdminState == types.AdminStateUp {
		return luerrors.Prereqf("OP_REMOVE_INSTANCE", "instance %s must be shut down first", lu.name)
	}
	return nil
}

func (lu *removeInstance) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, luerrors.Execf("OP_REMOVE_INSTANCE", "instance vanished: %w", err)
	}

	for idx, disk := range inst.Disks {
		feedback("removing disk %d of %d", idx+1, len(inst.Disks))
		res := ctx.Call(inst.PrimaryNode, "blockdev_remove", disk)
		if err := requireOK("OP_REMOVE_INSTANCE", inst.PrimaryNode, res); err != nil {
			feedback("disk %d removal on %s failed: %v (continuing)", idx, inst.PrimaryNode, err)
		}
	}

	if err := ctx.Master.DeleteInstance(lu.name); err != nil {
		return nil, luerrors.Execf("OP_REMOVE_INSTANCE", "delete instance: %w", err)
	}
	ctx.Locks.Instances().Remove(ctx.ctx, lu.name, lockAcquireTimeout)
	return fmt.Sprintf("instance %s removed", lu.name), nil
}

func (lu *removeInstance) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, nil
	}
	return &HookEnv{
		Env:      map[string]string{"INSTANCE_NAME": lu.name},
		PreNodes: []string{inst.PrimaryNode},
	}, nil
}

func (lu *removeInstance) HookPath() string { return "instance-remove" }
