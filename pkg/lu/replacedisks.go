package lu

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
)

const replaceDisksSyncPoll = 60 * time.Second

// replaceDisks implements OP_REPLACE_DISKS: the six-step same-secondary
// replace algorithm, plus the analogous seven-step secondary-replacement
// variant when newSecondary names a different node. Lock contract:
// "exclusive instance + shared {primary, secondary, new_secondary?}".
type replaceDisks struct {
	Base
	name         string
	newSecondary string // empty for the same-secondary (in-place) variant
}

func newReplaceDisks(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	newSecondary, _ := fields["new_secondary"].(string)
	return &replaceDisks{name: name, newSecondary: newSecondary}, nil
}

func (lu *replaceDisks) Locks(ctx *Context) (LockRequest, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	nodes := []string{}
	if err == nil && inst != nil {
		nodes = append([]string{inst.PrimaryNode}, inst.SecondaryNodes...)
	}
	if lu.newSecondary != "" {
		nodes = append(nodes, lu.newSecondary)
	}
	return LockRequest{
		BGLMode:   ModeShared,
		Instances: []string{lu.name},
		InstMode:  ModeExclusive,
		Nodes:     nodes,
		NodeMode:  ModeShared,
	}, nil
}

func (lu *replaceDisks) CheckPrereq(ctx *Context) error {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return luerrors.Prereqf("OP_REPLACE_DISKS", "instance %s not found", lu.name)
	}
	if inst.DiskTemplate != types.DiskTemplateDRBD8 {
		return luerrors.Prereqf("OP_REPLACE_DISKS", "disk replacement requires a drbd8 instance, got %s", inst.DiskTemplate)
	}
	if len(inst.SecondaryNodes) != 1 {
		return luerrors.Prereqf("OP_REPLACE_DISKS", "instance %s must have exactly one secondary", lu.name)
	}
	if lu.newSecondary != "" {
		node, err := ctx.Master.GetNode(lu.newSecondary)
		if err != nil || node == nil || node.Offline {
			return luerrors.Prereqf("OP_REPLACE_DISKS", "new secondary %s is unavailable", lu.newSecondary)
		}
	}
	return nil
}

func (lu *replaceDisks) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, luerrors.Execf("OP_REPLACE_DISKS", "instance vanished: %w", err)
	}
	if lu.newSecondary != "" {
		return lu.execNewSecondary(ctx, feedback, inst)
	}
	return lu.execSameSecondary(ctx, feedback, inst)
}

// execSameSecondary is the six-step algorithm: replace tgt's local
// storage while oth (the peer) stays put.
func (lu *replaceDisks) execSameSecondary(ctx *Context, feedback FeedbackFunc, inst *types.Instance) (interface{}, error) {
	tgt := inst.PrimaryNode
	oth := inst.SecondaryNodes[0]

	feedback("step 1/6: checking device existence on %s and %s", tgt, oth)
	for _, node := range []string{tgt, oth} {
		res := ctx.Call(node, "blockdev_find", inst.Disks)
		if err := requireOK("OP_REPLACE_DISKS", node, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "device check on %s: %w", node, err)
		}
	}

	feedback("step 2/6: checking peer consistency on %s", oth)
	consistRes := ctx.Call(oth, "blockdev_getmirrorstatus", inst.Disks)
	if err := requireOK("OP_REPLACE_DISKS", oth, consistRes); err != nil {
		return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "peer consistency check on %s: %w", oth, err)
	}

	feedback("step 3/6: allocating new storage on %s", tgt)
	newDisks := make([]*types.Disk, len(inst.Disks))
	for idx, disk := range inst.Disks {
		nd := cloneDiskWithFreshChildNames(disk, lu.name, idx, ctx)
		newDisks[idx] = nd
		res := ctx.Call(tgt, "blockdev_create", nd, nd.SizeMiB(), []string{oth})
		if err := requireOK("OP_REPLACE_DISKS", tgt, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "allocate new storage disk %d: %w", idx, err)
		}
	}

	// Swap in: tag the old LVs with a "_replaced-<ts>" suffix so a crash
	// between here and step 6 leaves the operator a storage artifact
	// that's clearly the replaced half, not silently-shutdown-but-live
	// original storage; then detach (shutdown) the old DRBD device on
	// tgt and assemble the fresh one built in step 3. The node
	// dispatcher rebuilds whole device trees rather than splicing
	// children (see pkg/node's blockdev_addchildren/removechildren
	// refusal), so the classic "rename old, rename new, attach" dance is
	// realized here as tag-old / shutdown-old / assemble-new instead.
	feedback("step 4/6: swapping in new storage")
	replacedTag := fmt.Sprintf("_replaced-%d", time.Now().Unix())
	oldDisks := make([]*types.Disk, len(inst.Disks))
	for idx, disk := range inst.Disks {
		oldDisks[idx] = disk
		if err := lu.tagReplaced(ctx, tgt, disk, replacedTag); err != nil {
			feedback("warning: could not tag old storage for disk %d as replaced: %v", idx, err)
		}
		res := ctx.Call(tgt, "blockdev_shutdown", disk)
		if err := requireOK("OP_REPLACE_DISKS", tgt, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "detach old disk %d: %w", idx, err)
		}
		res = ctx.Call(tgt, "blockdev_assemble", newDisks[idx])
		if err := requireOK("OP_REPLACE_DISKS", tgt, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "attach new disk %d: %w", idx, err)
		}
		inst.Disks[idx] = newDisks[idx]
	}

	feedback("step 5/6: waiting for resync")
	if err := lu.waitResync(ctx, tgt, inst); err != nil {
		return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "waiting for resync: %w", err)
	}

	feedback("step 6/6: removing old storage on %s", tgt)
	for idx, old := range oldDisks {
		res := ctx.Call(tgt, "blockdev_remove", old)
		if res.Status != rpc.StatusOK {
			feedback("warning: failed to remove old storage for disk %d: %s", idx, res.Message)
		}
	}

	if err := ctx.Master.UpdateInstance(inst); err != nil {
		return nil, luerrors.Execf("OP_REPLACE_DISKS", "persist replaced disks: %w", err)
	}
	return fmt.Sprintf("instance %s disks replaced on %s", lu.name, tgt), nil
}

// execNewSecondary is the seven-step variant: build the new DRBD pair on
// newSecondary, repoint the primary's network half at it, wait for
// sync, then drop the old secondary's storage entirely.
func (lu *replaceDisks) execNewSecondary(ctx *Context, feedback FeedbackFunc, inst *types.Instance) (interface{}, error) {
	primary := inst.PrimaryNode
	oldSecondary := inst.SecondaryNodes[0]
	newSecondary := lu.newSecondary

	feedback("step 1/7: creating new DRBD storage on %s", newSecondary)
	newDisks := make([]*types.Disk, len(inst.Disks))
	for idx, disk := range inst.Disks {
		nd := cloneDiskWithFreshChildNames(disk, lu.name, idx, ctx)
		newDisks[idx] = nd
		res := ctx.Call(newSecondary, "blockdev_create", nd, nd.SizeMiB(), []string{primary})
		if err := requireOK("OP_REPLACE_DISKS", newSecondary, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "create on new secondary disk %d: %w", idx, err)
		}
	}

	feedback("step 2/7: detaching primary from the network")
	res := ctx.Call(primary, "drbd_disconnect_net", inst.Disks)
	if err := requireOK("OP_REPLACE_DISKS", primary, res); err != nil {
		return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "disconnect primary: %w", err)
	}

	feedback("step 3/7: repointing config at %s", newSecondary)
	for idx, nd := range newDisks {
		inst.Disks[idx].DRBD8.RemoteHost = newSecondary
		inst.Disks[idx].DRBD8.RemotePort = ctx.nextDRBDPort()
		inst.Disks[idx].DRBD8.Secret = generateDRBDSecret()
		inst.Disks[idx].Children = nd.Children
	}
	inst.SecondaryNodes = []string{newSecondary}

	feedback("step 4/7: reattaching the network")
	secondaryIPs := lu.secondaryIPMapFor(ctx, primary, newSecondary)
	for _, node := range []string{primary, newSecondary} {
		res := ctx.Call(node, "drbd_attach_net", inst.Disks, secondaryIPs, false)
		if err := requireOK("OP_REPLACE_DISKS", node, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "reattach network on %s: %w", node, err)
		}
	}

	feedback("step 5/7: waiting for resync")
	if err := lu.waitResync(ctx, primary, inst); err != nil {
		return nil, luerrors.BlockDevicef("OP_REPLACE_DISKS", "waiting for resync: %w", err)
	}

	feedback("step 6/7: removing old storage on %s", oldSecondary)
	for idx, disk := range inst.Disks {
		res := ctx.Call(oldSecondary, "blockdev_remove", disk)
		if res.Status != rpc.StatusOK {
			feedback("warning: failed to remove old secondary storage for disk %d: %s", idx, res.Message)
		}
	}

	feedback("step 7/7: persisting new secondary")
	if err := ctx.Master.UpdateInstance(inst); err != nil {
		return nil, luerrors.Execf("OP_REPLACE_DISKS", "persist new secondary: %w", err)
	}
	return fmt.Sprintf("instance %s secondary replaced: %s -> %s", lu.name, oldSecondary, newSecondary), nil
}

// tagReplaced renames disk's LV children in place on nodeID, appending tag
// to each name. disk.Children is mutated to match, so callers that already
// hold disk (e.g. oldDisks) see the renamed names when they later remove
// the old storage.
func (lu *replaceDisks) tagReplaced(ctx *Context, nodeID string, disk *types.Disk, tag string) error {
	for ci, child := range disk.Children {
		if child.LV == nil {
			continue
		}
		renameArg := &types.Disk{
			DevType: types.DevTypeLV,
			IVName:  fmt.Sprintf("%s/replace-tag/%d", disk.IVName, ci),
			LV:      child.LV,
		}
		newName := child.LV.Name + tag
		res := ctx.Call(nodeID, "blockdev_rename", renameArg, child.LV.VG+"/"+newName)
		if err := requireOK("OP_REPLACE_DISKS", nodeID, res); err != nil {
			return fmt.Errorf("rename child %d: %w", ci, err)
		}
		child.LV.Name = newName
	}
	return nil
}

func (lu *replaceDisks) secondaryIPMapFor(ctx *Context, nodeIDs ...string) map[string]string {
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

// waitResync polls combined sync status on node until every disk is
// connected and not resyncing.
func (lu *replaceDisks) waitResync(ctx *Context, nodeID string, inst *types.Instance) error {
	for {
		res := ctx.Call(nodeID, "drbd_wait_sync", inst.Disks)
		if res.Status == rpc.StatusOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled waiting for resync on %s", nodeID)
		case <-time.After(replaceDisksSyncPoll):
		}
	}
}

// cloneDiskWithFreshChildNames builds the replacement disk descriptor
//  step 3 asks for: a fresh data/meta LV pair, same size and
// iv_name, side-by-side with the old ones until the swap-in step. The
// DRBD8 logical_id itself (hosts, ports, minor, secret) is copied
// unchanged — same-secondary replace keeps the same /dev/drbd<minor>
// across the swap; callers that do need a new peer (execNewSecondary)
// overwrite RemoteHost on the instance's own disk record afterward.
func cloneDiskWithFreshChildNames(disk *types.Disk, instanceName string, idx int, ctx *Context) *types.Disk {
	size := disk.SizeMiB()
	vg := "vg0"
	if disk.Children != nil && len(disk.Children) > 0 && disk.Children[0].LV != nil {
		vg = disk.Children[0].LV.VG
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	lid := *disk.DRBD8
	nd := &types.Disk{
		DevType: types.DevTypeDRBD8,
		Size:    &size,
		Mode:    disk.Mode,
		IVName:  disk.IVName,
		DRBD8:   &lid,
		Children: []*types.Disk{
			{DevType: types.DevTypeLV, LV: &types.LVLogicalID{VG: vg, Name: fmt.Sprintf("%s.disk%d_data_%s", instanceName, idx, suffix)}},
			{DevType: types.DevTypeLV, LV: &types.LVLogicalID{VG: vg, Name: fmt.Sprintf("%s.disk%d_meta_%s", instanceName, idx, suffix)}},
		},
	}
	return nd
}

func (lu *replaceDisks) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	inst, err := ctx.Master.GetInstance(lu.name)
	if err != nil || inst == nil {
		return nil, nil
	}
	nodes := append([]string{inst.PrimaryNode}, inst.SecondaryNodes...)
	return &HookEnv{
		Env:       map[string]string{"INSTANCE_NAME": lu.name},
		PreNodes:  nodes,
		PostNodes: nodes,
	}, nil
}

func (lu *replaceDisks) HookPath() string { return "instance-replace-disks" }
