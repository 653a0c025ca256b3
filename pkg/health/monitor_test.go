package health

import (
	"crypto/x509"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/security"
	"github.com/cuemby/fleetctl/pkg/types"
)

func newMonitorTestClient(t *testing.T) *rpc.Client {
	t.Helper()
	store, err := config.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ca := security.NewCertAuthority(store, "test")
	require.NoError(t, ca.Initialize())
	clientCert, err := ca.IssueClientCertificate("master")
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(ca.GetRootCACert())
	require.NoError(t, err)

	return rpc.NewClient(*clientCert, caCert, 200*time.Millisecond)
}

// fakeNodeStore is an in-memory stand-in for the master's ListNodes/
// UpdateNode hooks, letting the monitor test drive offline transitions
// without a real Raft-backed master.
type fakeNodeStore struct {
	mu    sync.Mutex
	nodes map[string]*types.Node
}

func newFakeNodeStore(nodes ...*types.Node) *fakeNodeStore {
	s := &fakeNodeStore{nodes: make(map[string]*types.Node)}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

func (s *fakeNodeStore) list() ([]*types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeNodeStore) update(n *types.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	return nil
}

func (s *fakeNodeStore) get(id string) *types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

// TestMonitorMarksUnreachableNodeOfflineAfterRetries drives runOnce
// directly (rather than Start's ticker) against a node address nothing
// listens on, so every heartbeat fails deterministically.
func TestMonitorMarksUnreachableNodeOfflineAfterRetries(t *testing.T) {
	client := newMonitorTestClient(t)
	store := newFakeNodeStore(&types.Node{ID: "n1", PrimaryIP: net.ParseIP("127.0.0.1")})

	cfg := Config{Interval: time.Hour, Timeout: 50 * time.Millisecond, Retries: 2}
	m := NewMonitor(client, 1, cfg, store.list, store.update)

	m.runOnce()
	assert.False(t, store.get("n1").Offline, "one failure must not yet flip offline with Retries=2")

	m.runOnce()
	assert.True(t, store.get("n1").Offline, "second consecutive failure must flip the node offline")
}

func TestMonitorSkipsNodeWithoutPrimaryIP(t *testing.T) {
	client := newMonitorTestClient(t)
	store := newFakeNodeStore(&types.Node{ID: "n1"})

	m := NewMonitor(client, 1, DefaultConfig(), store.list, store.update)
	require.NotPanics(t, m.runOnce)
	assert.False(t, store.get("n1").Offline)
}

func TestMonitorHonorsStartPeriod(t *testing.T) {
	client := newMonitorTestClient(t)
	store := newFakeNodeStore(&types.Node{ID: "n1", PrimaryIP: net.ParseIP("127.0.0.1")})

	cfg := Config{Interval: time.Hour, Timeout: 50 * time.Millisecond, Retries: 1, StartPeriod: time.Hour}
	m := NewMonitor(client, 1, cfg, store.list, store.update)

	m.runOnce()
	assert.False(t, store.get("n1").Offline, "a node still in its start period must not be marked offline")
}
