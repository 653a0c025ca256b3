package lu

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/types"
)

// shutdownInstance implements OP_SHUTDOWN_INSTANCE, sharing its lock
// contract with startInstance per the table's combined
// "StartInstance / ShutdownInstance" row.
type shutdownInstance struct {
	Base
	name string
}

func newShutdownInstance(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	return &shutdownInstance{name: name}, nil
}

func (lu *shutdownInstance) Locks(ctx *Context) (LockRequest, error) {
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

func (lu *shutdownInstance) CheckPrereq(ctx *Context) error {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return luerrors.Prereqf("OP_SHUTDOWN_INSTANCE", "instance %s not found", lu.name)
	}
	return nil
}

func (lu *shutdownInstance) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, luerrors.Execf("OP_SHUTDOWN_INSTANCE", "instance vanished: %w", err)
	}
	feedback("shutting down instance %s on %s", lu.name, inst.PrimaryNode)
	res := ctx.Call(inst.PrimaryNode, "instance_shutdown", inst)
	if err := requireOK("OP_SHUTDOWN_INSTANCE", inst.PrimaryNode, res); err != nil {
		return nil, luerrors.Hypervisorf("OP_SHUTDOWN_INSTANCE", "%w", err)
	}
	inst.AdminState = types.AdminStateDown
	if err := ctx.Master.UpdateInstance(inst); err != nil {
		return nil, luerrors.Execf("OP_SHUTDOWN_INSTANCE", "persist admin_state: %w", err)
	}
	return fmt.Sprintf("instance %s shut down", lu.name), nil
}

func (lu *shutdownInstance) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
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

func (lu *shutdownInstance) HookPath() string { return "instance-stop" }
