package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/security"
)

// newHeartbeatPKI builds a CA plus a node server certificate and a
// master client certificate, grounded on pkg/rpc/client_test.go's own
// PKI fixture.
func newHeartbeatPKI(t *testing.T) (ca *security.CertAuthority, serverCert *tls.Certificate, clientCert *tls.Certificate, caCert *x509.Certificate) {
	t.Helper()
	store, err := config.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ca = security.NewCertAuthority(store, "test")
	require.NoError(t, ca.Initialize())

	sc, err := ca.IssueNodeCertificate("node1", "node", []string{"localhost"}, nil)
	require.NoError(t, err)
	cc, err := ca.IssueClientCertificate("master")
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(ca.GetRootCACert())
	require.NoError(t, err)

	return ca, sc, cc, cert
}

func TestHeartbeatCheckerHealthyNode(t *testing.T) {
	_, serverCert, clientCert, caCert := newHeartbeatPKI(t)

	srv := rpc.NewServer("127.0.0.1:18543", *serverCert, caCert)
	srv.Register("node_info", func(args []json.RawMessage) (bool, interface{}) {
		return true, map[string]interface{}{"hostname": "node1"}
	})
	go srv.Start()
	time.Sleep(100 * time.Millisecond)
	defer srv.Shutdown(context.Background())

	client := rpc.NewClient(*clientCert, caCert, 2*time.Second)
	checker := NewHeartbeatChecker(client, rpc.Target{NodeID: "node1", Addr: "127.0.0.1:18543"})

	result := checker.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeHeartbeat, checker.Type())
}

func TestHeartbeatCheckerUnreachableNode(t *testing.T) {
	_, _, clientCert, caCert := newHeartbeatPKI(t)
	client := rpc.NewClient(*clientCert, caCert, 500*time.Millisecond)

	checker := NewHeartbeatChecker(client, rpc.Target{NodeID: "ghost", Addr: "127.0.0.1:1"})
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHeartbeatCheckerOfflineTargetShortCircuits(t *testing.T) {
	_, _, clientCert, caCert := newHeartbeatPKI(t)
	client := rpc.NewClient(*clientCert, caCert, time.Second)

	checker := NewHeartbeatChecker(client, rpc.Target{NodeID: "down", Offline: true})
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
}
