package allocator

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "allocator.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func sampleView() ClusterView {
	return ClusterView{
		ClusterName:    "test-cluster",
		HypervisorType: "kvm",
		Nodes: []*types.Node{
			{
				Name:      "node1.example.com",
				Role:      types.NodeRoleRegular,
				VMCapable: true,
				Status:    types.NodeStatusReady,
				PrimaryIP: net.ParseIP("10.0.0.1"),
				Resources: &types.NodeResources{
					CPUCores:    8,
					MemoryBytes: 16 * 1024 * 1024 * 1024,
					DiskBytes:   500 * 1024 * 1024 * 1024,
				},
			},
			{
				Name:      "node2.example.com",
				Role:      types.NodeRoleRegular,
				VMCapable: true,
				Status:    types.NodeStatusReady,
				PrimaryIP: net.ParseIP("10.0.0.2"),
				Resources: &types.NodeResources{
					CPUCores:    8,
					MemoryBytes: 16 * 1024 * 1024 * 1024,
					DiskBytes:   500 * 1024 * 1024 * 1024,
				},
			},
			{
				Name:      "node3.drained.example.com",
				Role:      types.NodeRoleDrained,
				VMCapable: true,
				Status:    types.NodeStatusReady,
				PrimaryIP: net.ParseIP("10.0.0.3"),
			},
		},
	}
}

func TestAllocateSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	script := writeScript(t, `#!/bin/sh
echo '{"success": true, "info": "ok", "nodes": ["node1.example.com"]}'
`)
	bridge := NewBridge(script, 5*time.Second)

	result, err := bridge.Allocate(sampleView(), AllocateRequest{
		Name:          "i1.example.com",
		DiskTemplate:  types.DiskTemplatePlain,
		OS:            "debian-bookworm",
		VCPUs:         2,
		Memory:        2048,
		RequiredNodes: 1,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"node1.example.com"}, result.Nodes)
}

func TestAllocateWrongNodeCount(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	script := writeScript(t, `#!/bin/sh
echo '{"success": true, "info": "ok", "nodes": ["node1.example.com", "node2.example.com"]}'
`)
	bridge := NewBridge(script, 5*time.Second)

	_, err := bridge.Allocate(sampleView(), AllocateRequest{
		Name:          "i1.example.com",
		DiskTemplate:  types.DiskTemplatePlain,
		RequiredNodes: 1,
	})

	require.Error(t, err)
}

func TestAllocateDeclined(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	script := writeScript(t, `#!/bin/sh
echo '{"success": false, "info": "no node has enough free memory", "nodes": []}'
`)
	bridge := NewBridge(script, 5*time.Second)

	_, err := bridge.Allocate(sampleView(), AllocateRequest{
		Name:          "i1.example.com",
		RequiredNodes: 1,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no node has enough free memory")
}

func TestAllocateScriptTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	script := writeScript(t, `#!/bin/sh
sleep 5
echo '{"success": true, "info": "ok", "nodes": []}'
`)
	bridge := NewBridge(script, 50*time.Millisecond)

	_, err := bridge.Allocate(sampleView(), AllocateRequest{
		Name:          "i1.example.com",
		RequiredNodes: 1,
	})

	require.Error(t, err)
}

func TestSchedulableNodesExcludesDrained(t *testing.T) {
	view := sampleView()
	ready := schedulableNodes(view.Nodes)
	require.Len(t, ready, 2)
	for _, n := range ready {
		assert.NotEqual(t, types.NodeRoleDrained, n.Role)
	}
}

func TestBuildDocumentShape(t *testing.T) {
	bridge := NewBridge("/bin/true", time.Second)
	doc := bridge.buildDocument(sampleView(), AllocateRequest{Type: "allocate", Name: "i1", RequiredNodes: 1})

	require.Equal(t, documentVersion, doc.Version)
	require.Equal(t, "test-cluster", doc.ClusterName)
	require.Len(t, doc.Nodes, 2, fmt.Sprintf("expected drained node excluded, got %d nodes", len(doc.Nodes)))
	_, ok := doc.Nodes["node1.example.com"]
	assert.True(t, ok)
}
