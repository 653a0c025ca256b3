package lu

import (
	"fmt"
	"net"
	"time"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/types"
)

// initCluster implements OP_INIT_CLUSTER, the cluster-reshaping opcode
// that  "hold[s] BGL exclusive and thereby serialize[s]
// against everything" — the only LU in this package that asks for
// cluster-level exclusive.
type initCluster struct {
	Base
	name               string
	masterNode         string
	masterIP           string
	masterNetdev       string
	enabledHypervisors []string
}

func newInitCluster(fields map[string]interface{}) (LogicalUnit, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	masterNode, err := fieldString(fields, "master_node")
	if err != nil {
		return nil, err
	}
	masterIP, err := fieldString(fields, "master_ip")
	if err != nil {
		return nil, err
	}
	masterNetdev, _ := fields["master_netdev"].(string)
	return &initCluster{
		name:               name,
		masterNode:         masterNode,
		masterIP:           masterIP,
		masterNetdev:       masterNetdev,
		enabledHypervisors: fieldStringSlice(fields, "enabled_hypervisors"),
	}, nil
}

func (lu *initCluster) Locks(ctx *Context) (LockRequest, error) {
	return LockRequest{BGLMode: ModeExclusive}, nil
}

func (lu *initCluster) CheckPrereq(ctx *Context) error {
	if existing, err := ctx.Master.GetCluster(); err == nil && existing != nil && existing.Name != "" {
		return luerrors.Prereqf("OP_INIT_CLUSTER", "cluster %q already initialized", existing.Name)
	}
	if net.ParseIP(lu.masterIP) == nil {
		return luerrors.Prereqf("OP_INIT_CLUSTER", "invalid master IP %q", lu.masterIP)
	}
	if len(lu.enabledHypervisors) == 0 {
		return luerrors.Prereqf("OP_INIT_CLUSTER", "at least one hypervisor must be enabled")
	}
	return nil
}

func (lu *initCluster) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	feedback("initializing cluster %s", lu.name)
	cluster := &types.Cluster{
		Name:               lu.name,
		MasterNode:         lu.masterNode,
		MasterIP:           net.ParseIP(lu.masterIP),
		MasterNetdev:       lu.masterNetdev,
		CreatedAt:          time.Now(),
		EnabledHypervisors: lu.enabledHypervisors,
		DefaultHVParams:    map[string]string{},
		DefaultBEParams:    map[string]string{},
		DefaultNICParams:   map[string]string{},
		NextDRBDPort:       11000,
		NextVNCPort:        5900,
	}
	if err := ctx.Master.SaveCluster(cluster); err != nil {
		return nil, luerrors.Execf("OP_INIT_CLUSTER", "save cluster: %w", err)
	}
	return fmt.Sprintf("cluster %s initialized", lu.name), nil
}
