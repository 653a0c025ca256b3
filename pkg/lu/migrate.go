package lu

import (
	"fmt"
	"time"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
)

const (
	migrateSyncPollInterval = 2 * time.Second
	migrateSyncMaxWait      = 60 * time.Second
)

// migrateInstance implements OP_MIGRATE_INSTANCE: the seven-step DRBD8
// live-migration sequence. Lock contract: "exclusive instance + shared
// {primary, secondary}".
type migrateInstance struct {
	Base
	name    string
	cleanup bool
}

func newMigrateInstance(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	return &migrateInstance{name: name, cleanup: fieldBool(fields, "cleanup")}, nil
}

func (lu *migrateInstance) Locks(ctx *Context) (LockRequest, error) {
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

func (lu *migrateInstance) CheckPrereq(ctx *Context) error {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return luerrors.Prereqf("OP_MIGRATE_INSTANCE", "instance %s not found", lu.name)
	}
	if inst.DiskTemplate != types.DiskTemplateDRBD8 {
		return luerrors.Prereqf("OP_MIGRATE_INSTANCE", "migration requires a drbd8 instance, got %s", inst.DiskTemplate)
	}
	if len(inst.SecondaryNodes) != 1 {
		return luerrors.Prereqf("OP_MIGRATE_INSTANCE", "instance %s has no single migration target", lu.name)
	}
	for _, nodeID := range []string{inst.PrimaryNode, inst.SecondaryNodes[0]} {
		node, err := ctx.Master.GetNode(nodeID)
		if err != nil || node == nil || node.Offline {
			return luerrors.Prereqf("OP_MIGRATE_INSTANCE", "node %s is unavailable", nodeID)
		}
	}
	return nil
}

// Exec runs the dance steps in order, reverting to single-master on the
// source if step 5 (the hypervisor live-migrate call) fails.
func (lu *migrateInstance) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, luerrors.Execf("OP_MIGRATE_INSTANCE", "instance vanished: %w", err)
	}

	source := inst.PrimaryNode
	target := inst.SecondaryNodes[0]

	if lu.cleanup {
		source, target, err = lu.resolveCleanup(ctx, inst, source, target)
		if err != nil {
			return nil, luerrors.Execf("OP_MIGRATE_INSTANCE", "cleanup resolution: %w", err)
		}
	}

	// step 1: identify disks on both nodes (idempotent)
	feedback("step 1/7: identifying disks on %s and %s", source, target)
	for _, node := range []string{source, target} {
		res := ctx.Call(node, "blockdev_find", inst.Disks)
		if err := requireOK("OP_MIGRATE_INSTANCE", node, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_MIGRATE_INSTANCE", "identify disks on %s: %w", node, err)
		}
	}

	// step 2: ensure target is secondary (normally already the case)
	feedback("step 2/7: ensuring %s is secondary", target)
	if res := ctx.Call(target, "blockdev_close", inst.Disks); requireOK("OP_MIGRATE_INSTANCE", target, res) != nil {
		feedback("close on %s reported an error (tolerated: may already be secondary)", target)
	}

	// step 3: both nodes to standalone
	feedback("step 3/7: disconnecting both ends")
	for _, node := range []string{source, target} {
		res := ctx.Call(node, "drbd_disconnect_net", inst.Disks)
		if err := requireOK("OP_MIGRATE_INSTANCE", node, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_MIGRATE_INSTANCE", "disconnect on %s: %w", node, err)
		}
	}

	// step 4: reconnect dual-primary, wait for sync
	feedback("step 4/7: reconnecting dual-primary")
	secondaryIPs := lu.secondaryIPMap(ctx, source, target)
	for _, node := range []string{source, target} {
		res := ctx.Call(node, "drbd_attach_net", inst.Disks, secondaryIPs, true /* dual-primary */)
		if err := requireOK("OP_MIGRATE_INSTANCE", node, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_MIGRATE_INSTANCE", "dual-primary attach on %s: %w", node, err)
		}
	}
	if err := lu.waitConnected(ctx, source, inst); err != nil {
		return nil, luerrors.BlockDevicef("OP_MIGRATE_INSTANCE", "waiting for dual-primary sync: %w", err)
	}

	// step 5: hypervisor live-migrate; revert in-band on failure
	feedback("step 5/7: invoking hypervisor live migration %s -> %s", source, target)
	node, nerr := ctx.Master.GetNode(target)
	if nerr != nil || node == nil {
		return nil, luerrors.Execf("OP_MIGRATE_INSTANCE", "resolve target node: %w", nerr)
	}
	migRes := ctx.Call(source, "instance_migrate", inst, node.PrimaryIP.String())
	if err := requireOK("OP_MIGRATE_INSTANCE", source, migRes); err != nil {
		feedback("live migration failed, reverting to single-master on %s", source)
		lu.revert(ctx, source, target, inst)
		return nil, luerrors.Hypervisorf("OP_MIGRATE_INSTANCE", "live migrate: %w", err)
	}

	// step 6: source back to secondary, single-master, wait sync
	feedback("step 6/7: demoting %s to secondary", source)
	if res := ctx.Call(source, "blockdev_close", inst.Disks); requireOK("OP_MIGRATE_INSTANCE", source, res) != nil {
		feedback("close on %s reported an error after successful migrate", source)
	}
	for _, n := range []string{source, target} {
		res := ctx.Call(n, "drbd_attach_net", inst.Disks, secondaryIPs, false /* single-master */)
		if err := requireOK("OP_MIGRATE_INSTANCE", n, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_MIGRATE_INSTANCE", "single-master attach on %s: %w", n, err)
		}
	}
	if err := lu.waitConnected(ctx, target, inst); err != nil {
		return nil, luerrors.BlockDevicef("OP_MIGRATE_INSTANCE", "waiting for post-migrate sync: %w", err)
	}

	// step 7: flip config
	feedback("step 7/7: updating primary_node to %s", target)
	inst.PrimaryNode = target
	inst.SecondaryNodes = []string{source}
	if err := ctx.Master.UpdateInstance(inst); err != nil {
		return nil, luerrors.Execf("OP_MIGRATE_INSTANCE", "persist new primary: %w", err)
	}
	return fmt.Sprintf("instance %s migrated to %s", lu.name, target), nil
}

// revert re-secondaries target, goes standalone, reconnects
// single-master, and waits for sync, so disks end usable on source even
// when the hypervisor migrate call itself aborted.
func (lu *migrateInstance) revert(ctx *Context, source, target string, inst *types.Instance) {
	ctx.Call(target, "blockdev_close", inst.Disks)
	for _, n := range []string{source, target} {
		ctx.Call(n, "drbd_disconnect_net", inst.Disks)
	}
	secondaryIPs := lu.secondaryIPMap(ctx, source, target)
	for _, n := range []string{source, target} {
		ctx.Call(n, "drbd_attach_net", inst.Disks, secondaryIPs, false /* single-master */)
	}
	_ = lu.waitConnected(ctx, source, inst)
}

// resolveCleanup handles a cleanup=true re-run after a prior migration
// attempt failed midway: it queries both nodes to discover which one
// actually runs the instance and treats that one as the current source.
func (lu *migrateInstance) resolveCleanup(ctx *Context, inst *types.Instance, primary, secondary string) (source, target string, err error) {
	for _, candidate := range []string{primary, secondary} {
		res := ctx.Call(candidate, "instance_info", inst.Name)
		if res.Status == rpc.StatusOK {
			if candidate == primary {
				return primary, secondary, nil
			}
			return secondary, primary, nil
		}
	}
	return primary, secondary, fmt.Errorf("neither %s nor %s reports the instance running", primary, secondary)
}

// secondaryIPMap builds the node_name -> secondary_ip map the DRBD
// orchestration procedures expect.
func (lu *migrateInstance) secondaryIPMap(ctx *Context, nodeIDs ...string) map[string]string {
	out := make(map[string]string, len(nodeIDs))
	for _, id := range nodeIDs {
		node, err := ctx.Master.GetNode(id)
		if err != nil || node == nil || node.SecondaryIP == nil {
			continue
		}
		out[id] = node.SecondaryIP.String()
	}
	return out
}

// waitConnected polls drbd_wait_sync on node until every disk reports
// connected and non-degraded, or migrateSyncMaxWait elapses.
func (lu *migrateInstance) waitConnected(ctx *Context, nodeID string, inst *types.Instance) error {
	deadline := time.Now().Add(migrateSyncMaxWait)
	for {
		res := ctx.Call(nodeID, "drbd_wait_sync", inst.Disks)
		if res.Status == rpc.StatusOK {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for sync on %s: %s", nodeID, res.Message)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled waiting for sync on %s", nodeID)
		case <-time.After(migrateSyncPollInterval):
		}
	}
}

func (lu *migrateInstance) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
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

func (lu *migrateInstance) HookPath() string { return "instance-migrate" }
