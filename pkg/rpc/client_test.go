package rpc

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/security"
)

// parseCACertForTest parses the DER-encoded root CA certificate
// security.CertAuthority.GetRootCACert returns.
func parseCACertForTest(der []byte) (*x509.Certificate, error) {
	return x509.ParseCertificate(der)
}

// newTestPKI builds and initializes one CA and returns it twice; each test
// issues its own server and client certificates from it. Grounded on
// pkg/security's own test fixtures (ca_test.go).
func newTestPKI(t *testing.T) (*security.CertAuthority, *security.CertAuthority) {
	t.Helper()
	store, err := config.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ca := security.NewCertAuthority(store, "test")
	require.NoError(t, ca.Initialize())
	return ca, ca
}

func TestClientCallRoundTrip(t *testing.T) {
	ca, _ := newTestPKI(t)

	serverCert, err := ca.IssueNodeCertificate("node1", "node", []string{"localhost"}, nil)
	require.NoError(t, err)
	clientCert, err := ca.IssueClientCertificate("master")
	require.NoError(t, err)

	caCertDER := ca.GetRootCACert()
	caCert, err := parseCACertForTest(caCertDER)
	require.NoError(t, err)

	srv := NewServer("127.0.0.1:18443", *serverCert, caCert)
	srv.Register("echo", func(args []json.RawMessage) (bool, interface{}) {
		var s string
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &s)
		}
		return true, s
	})
	srv.Register("boom", func(args []json.RawMessage) (bool, interface{}) {
		return false, "boom happened"
	})

	go srv.Start()
	time.Sleep(100 * time.Millisecond)
	defer srv.Shutdown(context.Background())

	client := NewClient(*clientCert, caCert, 5*time.Second)
	target := Target{NodeID: "node1", Addr: "127.0.0.1:18443"}

	res := client.Call(target, "echo", []interface{}{"hello"})
	assert.Equal(t, StatusOK, res.Status)

	var got string
	require.NoError(t, json.Unmarshal(res.Payload, &got))
	assert.Equal(t, "hello", got)

	res2 := client.Call(target, "boom", nil)
	assert.Equal(t, StatusFailed, res2.Status)
	assert.Equal(t, "boom happened", res2.Message)
}

func TestClientCallOfflineShortCircuits(t *testing.T) {
	ca, _ := newTestPKI(t)
	clientCert, err := ca.IssueClientCertificate("master")
	require.NoError(t, err)
	caCert, err := parseCACertForTest(ca.GetRootCACert())
	require.NoError(t, err)

	client := NewClient(*clientCert, caCert, time.Second)
	res := client.Call(Target{NodeID: "down", Offline: true}, "anything", nil)
	assert.Equal(t, StatusOffline, res.Status)
}

func TestCallMultiFansOutToAllTargets(t *testing.T) {
	ca, _ := newTestPKI(t)
	clientCert, err := ca.IssueClientCertificate("master")
	require.NoError(t, err)
	caCert, err := parseCACertForTest(ca.GetRootCACert())
	require.NoError(t, err)

	client := NewClient(*clientCert, caCert, time.Second)
	targets := []Target{
		{NodeID: "a", Offline: true},
		{NodeID: "b", Offline: true},
	}
	results := client.CallMulti(targets, "noop", nil)
	assert.Len(t, results, 2)
	assert.Equal(t, StatusOffline, results["a"].Status)
	assert.Equal(t, StatusOffline, results["b"].Status)
}
