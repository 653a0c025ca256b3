package lu

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/allocator"
	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/google/uuid"
)

// createInstance implements OP_CREATE_INSTANCE: "exclusive new name" at
// the instance level, "shared primary + shared secondary" at the node
// level, per the lock-contract table. Node locks cover only the nodes
// named in the opcode: when primaryNode is empty, the allocator chooses
// placement during CheckPrereq, after the locks were taken, and the node
// it picks is not locked.
type createInstance struct {
	Base
	name         string
	primaryNode  string
	secondary    []string
	os           string
	diskTemplate types.DiskTemplate
	diskSizesMiB []int64
	memoryMiB    int
	vcpus        int
	vg           string
}

func newCreateInstance(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	osName, err := fieldString(fields, "os")
	if err != nil {
		return nil, err
	}
	template, _ := fields["disk_template"].(string)
	if template == "" {
		template = string(types.DiskTemplatePlain)
	}
	primaryNode, _ := fields["primary_node"].(string)

	var sizes []int64
	if raw, ok := fields["disk_sizes_mib"].([]interface{}); ok {
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				sizes = append(sizes, int64(f))
			}
		}
	}

	return &createInstance{
		name:         name,
		primaryNode:  primaryNode,
		secondary:    fieldStringSlice(fields, "secondary_nodes"),
		os:           osName,
		diskTemplate: types.DiskTemplate(template),
		diskSizesMiB: sizes,
		memoryMiB:    fieldInt(fields, "memory_mib"),
		vcpus:        fieldInt(fields, "vcpus"),
		vg:           vgName(fields),
	}, nil
}

func vgName(fields map[string]interface{}) string {
	if v, ok := fields["vg"].(string); ok {
		return v
	}
	return "vg0"
}

func (lu *createInstance) Locks(ctx *Context) (LockRequest, error) {
	nodes := []string{}
	if lu.primaryNode != "" {
		nodes = append(nodes, lu.primaryNode)
	}
	nodes = append(nodes, lu.secondary...)
	return LockRequest{
		BGLMode:   ModeShared,
		Instances: []string{lu.name},
		InstMode:  ModeExclusive,
		Nodes:     nodes,
		NodeMode:  ModeShared,
	}, nil
}

func (lu *createInstance) CheckPrereq(ctx *Context) error {
	if existing, err := ctx.Master.GetInstance(lu.name); err == nil && existing != nil {
		return luerrors.Prereqf("OP_CREATE_INSTANCE", "instance %s already exists", lu.name)
	}
	switch lu.diskTemplate {
	case types.DiskTemplateDRBD8:
		if len(lu.secondary) != 1 {
			return luerrors.Prereqf("OP_CREATE_INSTANCE", "drbd8 requires exactly one secondary node, got %d", len(lu.secondary))
		}
	case types.DiskTemplatePlain:
		if len(lu.secondary) != 0 {
			return luerrors.Prereqf("OP_CREATE_INSTANCE", "plain template forbids secondary nodes")
		}
	}

	if lu.primaryNode == "" {
		placed, err := lu.allocate(ctx)
		if err != nil {
			return luerrors.Prereqf("OP_CREATE_INSTANCE", "allocation failed: %w", err)
		}
		lu.primaryNode = placed[0]
		if lu.diskTemplate == types.DiskTemplateDRBD8 && len(placed) > 1 {
			lu.secondary = placed[1:2]
		}
	}

	if _, err := ctx.Master.GetNode(lu.primaryNode); err != nil {
		return luerrors.Prereqf("OP_CREATE_INSTANCE", "primary node %s not found", lu.primaryNode)
	}
	for _, sec := range lu.secondary {
		if _, err := ctx.Master.GetNode(sec); err != nil {
			return luerrors.Prereqf("OP_CREATE_INSTANCE", "secondary node %s not found", sec)
		}
	}
	return nil
}

func (lu *createInstance) allocate(ctx *Context) ([]string, error) {
	if ctx.Allocator == nil {
		return nil, fmt.Errorf("no primary_node given and no allocator configured")
	}
	view, err := ctx.ClusterView()
	if err != nil {
		return nil, err
	}
	required := 1
	if lu.diskTemplate == types.DiskTemplateDRBD8 {
		required = 2
	}
	var diskTotal int64
	for _, s := range lu.diskSizesMiB {
		diskTotal += s
	}
	res, err := ctx.Allocator.Allocate(view, allocator.AllocateRequest{
		Name:           lu.name,
		DiskTemplate:   lu.diskTemplate,
		OS:             lu.os,
		VCPUs:          lu.vcpus,
		Memory:         int64(lu.memoryMiB),
		Disks:          lu.diskSizesMiB,
		DiskSpaceTotal: diskTotal,
		RequiredNodes:  required,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Nodes) != required {
		return nil, fmt.Errorf("allocator returned %d nodes, want %d", len(res.Nodes), required)
	}
	return res.Nodes, nil
}

func (lu *createInstance) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	feedback("creating instance %s on %s", lu.name, lu.primaryNode)

	disks := make([]*types.Disk, 0, len(lu.diskSizesMiB))
	for idx, size := range lu.diskSizesMiB {
		sz := size
		disk := &types.Disk{
			IVName: fmt.Sprintf("disk/%d", idx),
			Size:   &sz,
			Mode:   types.DiskModeRW,
		}
		switch lu.diskTemplate {
		case types.DiskTemplateDRBD8:
			port := ctx.nextDRBDPort()
			disk.DevType = types.DevTypeDRBD8
			disk.DRBD8 = &types.DRBD8LogicalID{
				LocalHost:  lu.primaryNode,
				LocalPort:  port,
				RemoteHost: lu.secondary[0],
				RemotePort: port,
				LocalMinor: port,
				Secret:     generateDRBDSecret(),
			}
			disk.Children = []*types.Disk{
				{DevType: types.DevTypeLV, LV: &types.LVLogicalID{VG: lu.vg, Name: fmt.Sprintf("%s.disk%d_data", lu.name, idx)}},
				{DevType: types.DevTypeLV, LV: &types.LVLogicalID{VG: lu.vg, Name: fmt.Sprintf("%s.disk%d_meta", lu.name, idx)}},
			}
		default:
			disk.DevType = types.DevTypeLV
			disk.LV = &types.LVLogicalID{VG: lu.vg, Name: fmt.Sprintf("%s.disk%d", lu.name, idx)}
		}
		disks = append(disks, disk)

		res := ctx.Call(lu.primaryNode, "blockdev_create", disk, size, lu.secondary)
		if err := requireOK("OP_CREATE_INSTANCE", lu.primaryNode, res); err != nil {
			return nil, luerrors.BlockDevicef("OP_CREATE_INSTANCE", "create disk %d: %w", idx, err)
		}
	}

	inst := &types.Instance{
		Name:           lu.name,
		PrimaryNode:    lu.primaryNode,
		SecondaryNodes: lu.secondary,
		OS:             lu.os,
		DiskTemplate:   lu.diskTemplate,
		Disks:          disks,
		AdminState:     types.AdminStateDown,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := inst.Validate(); err != nil {
		return nil, luerrors.Execf("OP_CREATE_INSTANCE", "validate: %w", err)
	}
	if err := ctx.Master.CreateInstance(inst); err != nil {
		return nil, luerrors.Execf("OP_CREATE_INSTANCE", "persist instance: %w", err)
	}
	ctx.Locks.Instances().Add(lu.name)
	return fmt.Sprintf("instance %s created", lu.name), nil
}

// generateDRBDSecret produces the shared-secret half of a DRBD8
// logical_id: a fresh, unpredictable value handed to both peers via
// "-a HMAC -x SECRET" on net-attach.
func generateDRBDSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (lu *createInstance) BuildHooksEnv(ctx *Context) (*HookEnv, error) {
	return &HookEnv{
		Env:       map[string]string{"INSTANCE_NAME": lu.name, "INSTANCE_OS": lu.os},
		PreNodes:  []string{lu.primaryNode},
		PostNodes: append([]string{lu.primaryNode}, lu.secondary...),
	}, nil
}

func (lu *createInstance) HookPath() string { return "instance-add" }
