package node

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cuemby/fleetctl/pkg/hypervisor"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHypervisor struct{}

func (fakeHypervisor) Start(context.Context, *types.Instance) error    { return nil }
func (fakeHypervisor) Shutdown(context.Context, *types.Instance) error { return nil }
func (fakeHypervisor) Destroy(context.Context, *types.Instance) error  { return nil }
func (fakeHypervisor) Reboot(context.Context, *types.Instance) error   { return nil }
func (fakeHypervisor) Migrate(context.Context, *types.Instance, string) error {
	return nil
}
func (fakeHypervisor) Info(context.Context, string) (*hypervisor.InstanceInfo, error) {
	return &hypervisor.InstanceInfo{State: "shutdown"}, nil
}
func (fakeHypervisor) List(context.Context) ([]string, error) { return nil, nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	dataDir := t.TempDir()
	return NewDispatcher(Config{
		NodeID:   "node1",
		DataDir:  dataDir,
		QueueDir: filepath.Join(dataDir, "queue"),
		HV:       fakeHypervisor{},
	})
}

func mustArgs(t *testing.T, vals ...interface{}) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		out[i] = b
	}
	return out
}

func TestUploadFileRejectsNonWhitelistedPath(t *testing.T) {
	d := newTestDispatcher(t)
	args := mustArgs(t, "/tmp/not-allowed", []byte("data"))
	success, payload := d.uploadFile(args)
	assert.False(t, success)
	assert.Contains(t, payload.(string), "not in the allowed")
}

func TestUploadFileAcceptsWhitelistedPath(t *testing.T) {
	d := newTestDispatcher(t)
	for path := range uploadWhitelist {
		args := mustArgs(t, path, []byte("data"))
		success, _ := d.uploadFile(args)
		assert.True(t, success, "expected %s to be accepted", path)
		_ = d
	}
}

func TestJobqueuePathEscapeRejected(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.queuePath("../../etc/passwd")
	assert.Error(t, err)
}

func TestJobqueuePathWithinQueueDirAccepted(t *testing.T) {
	d := newTestDispatcher(t)
	p, err := d.queuePath("job-000001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.queueDir, "job-000001"), p)
}

func TestJobqueueUpdateAndRename(t *testing.T) {
	d := newTestDispatcher(t)
	updArgs := mustArgs(t, "job-1", []byte(`{"status":"queued"}`))
	success, _ := d.jobqueueUpdate(updArgs)
	require.True(t, success)

	renArgs := mustArgs(t, "job-1", "job-1-renamed")
	success, _ = d.jobqueueRename(renArgs)
	require.True(t, success)
}

func TestBridgesExistReportsMissing(t *testing.T) {
	d := newTestDispatcher(t)
	args := mustArgs(t, []string{"definitely-not-a-real-bridge-0"})
	success, payload := d.bridgesExist(args)
	require.True(t, success)
	missing := payload.([]string)
	assert.Contains(t, missing, "definitely-not-a-real-bridge-0")
}

func TestNodeInfoReportsNodeID(t *testing.T) {
	d := newTestDispatcher(t)
	success, payload := d.nodeInfo(nil)
	require.True(t, success)
	m := payload.(map[string]interface{})
	assert.Equal(t, "node1", m["node_id"])
}

func TestWriteSsconfFilesRejectsPathSeparators(t *testing.T) {
	d := newTestDispatcher(t)
	args := mustArgs(t, map[string]string{"bad/name": "value"})
	success, _ := d.writeSsconfFiles(args)
	assert.False(t, success)
}
