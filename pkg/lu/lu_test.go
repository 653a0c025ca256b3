package lu

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/master"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/require"
)

// freePort asks the OS for an ephemeral TCP port and releases it
// immediately, so the raft transport's advertised address actually
// matches what it binds to (unlike handing it port 0 directly).
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// newTestMaster bootstraps a single-node master against a temp data dir,
// waiting for it to elect itself leader so CreateNode/CreateInstance/
// SaveCluster can commit through Raft.
func newTestMaster(t *testing.T) *master.Master {
	t.Helper()
	dir := t.TempDir()
	m, err := master.NewMaster(&master.Config{
		NodeID:   "test-master",
		BindAddr: fmt.Sprintf("127.0.0.1:%d", freePort(t)),
		DataDir:  dir,
	})
	require.NoError(t, err)
	require.NoError(t, m.Bootstrap())

	require.Eventually(t, m.IsLeader, 2*time.Second, 10*time.Millisecond, "master never elected itself leader")
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func seedNode(t *testing.T, m *master.Master, id, ip string) {
	t.Helper()
	require.NoError(t, m.CreateNode(&types.Node{
		ID:        id,
		PrimaryIP: net.ParseIP(ip),
		Role:      types.NodeRoleRegular,
	}))
}

func TestRegistryConstructsEveryOpcode(t *testing.T) {
	cases := []struct {
		op     types.OpcodeType
		fields map[string]interface{}
	}{
		{types.OpInitCluster, map[string]interface{}{"name": "c1", "master_node": "n1", "master_ip": "10.0.0.1"}},
		{types.OpVerifyCluster, map[string]interface{}{}},
		{types.OpAddNode, map[string]interface{}{"node_id": "n2", "name": "n2.example.com", "primary_ip": "10.0.0.2"}},
		{types.OpRemoveNode, map[string]interface{}{"node_id": "n2"}},
		{types.OpCreateInstance, map[string]interface{}{"name": "i1.example.com", "os": "noop"}},
		{types.OpRemoveInstance, map[string]interface{}{"name": "i1.example.com"}},
		{types.OpStartInstance, map[string]interface{}{"name": "i1.example.com"}},
		{types.OpShutdownInstance, map[string]interface{}{"name": "i1.example.com"}},
		{types.OpFailoverInstance, map[string]interface{}{"name": "i1.example.com"}},
		{types.OpMigrateInstance, map[string]interface{}{"name": "i1.example.com"}},
		{types.OpReplaceDisks, map[string]interface{}{"name": "i1.example.com"}},
		{types.OpExportInstance, map[string]interface{}{"name": "i1.example.com", "export_dir": "/tmp"}},
		{types.OpImportInstance, map[string]interface{}{"name": "i1.example.com", "export_dir": "/tmp"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			lu, err := New(&types.Opcode{Type: tc.op, Fields: tc.fields})
			require.NoError(t, err)
			require.NotNil(t, lu)
		})
	}
}

func TestRegistryUnknownOpcode(t *testing.T) {
	_, err := New(&types.Opcode{Type: types.OpcodeType("OP_DOES_NOT_EXIST")})
	require.Error(t, err)
}

func TestCreateInstanceRejectsDRBD8WithoutSingleSecondary(t *testing.T) {
	m := newTestMaster(t)
	ctx := NewContext(context.Background(), m, nil, nil, nil, types.ExecutionContext{})

	luInst, err := newCreateInstance(map[string]interface{}{
		"name":          "i1.example.com",
		"os":            "noop",
		"disk_template": string(types.DiskTemplateDRBD8),
		"primary_node":  "n1",
	})
	require.NoError(t, err)

	err = luInst.CheckPrereq(ctx)
	require.Error(t, err, "drbd8 with zero secondaries must fail prereq")
}

func TestCreateInstanceRejectsPlainWithSecondary(t *testing.T) {
	m := newTestMaster(t)
	ctx := NewContext(context.Background(), m, nil, nil, nil, types.ExecutionContext{})

	luInst, err := newCreateInstance(map[string]interface{}{
		"name":            "i1.example.com",
		"os":              "noop",
		"disk_template":   string(types.DiskTemplatePlain),
		"primary_node":    "n1",
		"secondary_nodes": []interface{}{"n2"},
	})
	require.NoError(t, err)

	err = luInst.CheckPrereq(ctx)
	require.Error(t, err, "plain template forbids secondary nodes")
}

func TestCreateInstanceRejectsDuplicateName(t *testing.T) {
	m := newTestMaster(t)
	require.NoError(t, m.CreateInstance(&types.Instance{Name: "i1.example.com", PrimaryNode: "n1"}))
	ctx := NewContext(context.Background(), m, nil, nil, nil, types.ExecutionContext{})

	luInst, err := newCreateInstance(map[string]interface{}{
		"name":         "i1.example.com",
		"os":           "noop",
		"primary_node": "n1",
	})
	require.NoError(t, err)
	require.Error(t, luInst.CheckPrereq(ctx))
}

func TestReplaceDisksRequiresDRBD8(t *testing.T) {
	m := newTestMaster(t)
	require.NoError(t, m.CreateInstance(&types.Instance{
		Name:         "i1.example.com",
		PrimaryNode:  "n1",
		DiskTemplate: types.DiskTemplatePlain,
	}))
	ctx := NewContext(context.Background(), m, nil, nil, nil, types.ExecutionContext{})

	luInst, err := newReplaceDisks(map[string]interface{}{"name": "i1.example.com"})
	require.NoError(t, err)
	require.Error(t, luInst.CheckPrereq(ctx), "replace-disks on a plain-template instance must fail prereq")
}

func TestReplaceDisksLocksIncludeNewSecondary(t *testing.T) {
	m := newTestMaster(t)
	seedNode(t, m, "n1", "10.0.0.1")
	seedNode(t, m, "n2", "10.0.0.2")
	seedNode(t, m, "n3", "10.0.0.3")
	require.NoError(t, m.CreateInstance(&types.Instance{
		Name:           "i1.example.com",
		PrimaryNode:    "n1",
		SecondaryNodes: []string{"n2"},
		DiskTemplate:   types.DiskTemplateDRBD8,
	}))
	ctx := NewContext(context.Background(), m, nil, nil, nil, types.ExecutionContext{})

	luInst, err := newReplaceDisks(map[string]interface{}{"name": "i1.example.com", "new_secondary": "n3"})
	require.NoError(t, err)

	req, err := luInst.Locks(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"n1", "n2", "n3"}, req.Nodes)
	require.Equal(t, []string{"i1.example.com"}, req.Instances)
	require.Equal(t, ModeExclusive, req.InstMode)
}

func TestMigrateInstanceRequiresSingleSecondary(t *testing.T) {
	m := newTestMaster(t)
	require.NoError(t, m.CreateInstance(&types.Instance{
		Name:         "i1.example.com",
		PrimaryNode:  "n1",
		DiskTemplate: types.DiskTemplatePlain,
	}))
	ctx := NewContext(context.Background(), m, nil, nil, nil, types.ExecutionContext{})

	luInst, err := newMigrateInstance(map[string]interface{}{"name": "i1.example.com"})
	require.NoError(t, err)
	require.Error(t, luInst.CheckPrereq(ctx))
}

func TestCreateInstanceDiskTreeDRBDPairing(t *testing.T) {
	// : every DRBD8 disk has exactly two children, both
	// LVs, and names both peer hosts. Exercised at the descriptor level,
	// independent of the node RPC round trip; the meta size range is not
	// checked here.
	disk := &types.Disk{
		DevType: types.DevTypeDRBD8,
		DRBD8:   &types.DRBD8LogicalID{LocalHost: "n1", RemoteHost: "n2", LocalPort: 20, RemotePort: 20, LocalMinor: 20},
		Children: []*types.Disk{
			{DevType: types.DevTypeLV, LV: &types.LVLogicalID{VG: "vg0", Name: "i1.disk0_data"}},
			{DevType: types.DevTypeLV, LV: &types.LVLogicalID{VG: "vg0", Name: "i1.disk0_meta"}},
		},
	}
	require.Len(t, disk.Children, 2)
	for _, c := range disk.Children {
		require.Equal(t, types.DevTypeLV, c.DevType)
	}
	require.NotEmpty(t, disk.DRBD8.LocalHost)
	require.NotEmpty(t, disk.DRBD8.RemoteHost)
}
