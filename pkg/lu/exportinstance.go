package lu

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/luerrors"
)

// exportInstance implements OP_EXPORT_INSTANCE, driving the node-side
// export archive pkg/node/export.go builds: the natural counterpart to
// ImportInstance.
type exportInstance struct {
	Base
	name      string
	exportDir string
}

func newExportInstance(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	exportDir, err := fieldString(fields, "export_dir")
	if err != nil {
		return nil, err
	}
	return &exportInstance{name: name, exportDir: exportDir}, nil
}

func (lu *exportInstance) Locks(ctx *Context) (LockRequest, error) {
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

func (lu *exportInstance) CheckPrereq(ctx *Context) error {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return luerrors.Prereqf("OP_EXPORT_INSTANCE", "instance %s not found", lu.name)
	}
	return nil
}

func (lu *exportInstance) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, luerrors.Execf("OP_EXPORT_INSTANCE", "instance vanished: %w", err)
	}
	feedback("exporting instance %s from %s to %s", lu.name, inst.PrimaryNode, lu.exportDir)
	res := ctx.Call(inst.PrimaryNode, "blockdev_export", inst, lu.exportDir)
	if err := requireOK("OP_EXPORT_INSTANCE", inst.PrimaryNode, res); err != nil {
		return nil, luerrors.BlockDevicef("OP_EXPORT_INSTANCE", "export: %w", err)
	}
	return fmt.Sprintf("instance %s exported to %s", lu.name, lu.exportDir), nil
}

func (lu *exportInstance) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, nil
	}
	return &HookEnv{
		Env:      map[string]string{"INSTANCE_NAME": lu.name, "EXPORT_DIR": lu.exportDir},
		PreNodes: []string{inst.PrimaryNode},
	}, nil
}

func (lu *exportInstance) HookPath() string { return "instance-export" }
