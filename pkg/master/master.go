package master

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/security"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Master is a master-candidate node: it runs the Raft group backing the
// cluster config store, the certificate authority issuing node/CLI certs,
// and the event broker that fans out cluster state changes.
type Master struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft         *raft.Raft
	transport    *raft.NetworkTransport
	fsm          *ClusterFSM
	store        config.Store
	ca           *security.CertAuthority
	tokenManager *TokenManager
	eventBroker  *events.Broker
}

// Config holds the parameters needed to create a Master.
type Config struct {
	NodeID      string
	BindAddr    string
	DataDir     string
	ClusterName string
}

// NewMaster opens the local config store and wires the certificate
// authority, join-token manager and event broker around it. Raft itself
// isn't started until Bootstrap or Join is called.
func NewMaster(cfg *Config) (*Master, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := config.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewClusterFSM(store)
	tokenManager := NewTokenManager()

	clusterKey := security.DeriveKeyFromClusterID(cfg.NodeID)
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		return nil, fmt.Errorf("failed to set cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(store, cfg.ClusterName)
	eventBroker := events.NewBroker()
	eventBroker.Start()

	return &Master{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		fsm:          fsm,
		store:        store,
		ca:           ca,
		tokenManager: tokenManager,
		eventBroker:  eventBroker,
	}, nil
}

func raftConfig(nodeID string) *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)

	// The hashicorp/raft defaults are tuned for WAN deployments. Clusters
	// here run on a LAN/edge, so heartbeat and election timeouts are cut
	// to bring master failover under the spec's target window.
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (m *Master) newTransport() (*raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}
	return raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
}

func (m *Master) startRaft() error {
	transport, err := m.newTransport()
	if err != nil {
		return err
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig(m.nodeID), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}

	m.raft = r
	m.transport = transport
	return nil
}

// Bootstrap initializes a new single-node Raft cluster and, if not already
// present, a fresh certificate authority for the cluster.
func (m *Master) Bootstrap() error {
	if err := m.startRaft(); err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: m.transport.LocalAddr()},
		},
	}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	if err := m.initializeCA(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}

	return nil
}

// Join starts this master's Raft transport and expects the cluster leader
// to add it as a voter out of band (via the RPC AddVoter procedure),
// then loads the CA already established by the bootstrap node.
func (m *Master) Join() error {
	if err := m.startRaft(); err != nil {
		return err
	}
	if err := m.ca.LoadFromStore(); err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}
	return nil
}

// AddVoter adds a new master node to the Raft cluster. Must be called on
// the current leader.
func (m *Master) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	return m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// RemoveServer removes a master node from the Raft cluster.
func (m *Master) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	return m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

// GetClusterServers returns the current Raft group membership.
func (m *Master) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this master currently holds Raft leadership.
func (m *Master) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader.
func (m *Master) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// RaftStats reports Raft state for the metrics collector and the CLI's
// cluster-status view.
func (m *Master) RaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
	if cf := m.raft.GetConfiguration(); cf.Error() == nil {
		stats["peers"] = uint64(len(cf.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// EventBroker returns the cluster event broker.
func (m *Master) EventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers.
func (m *Master) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command to the Raft log and waits for it to commit.
func (m *Master) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (m *Master) applyOp(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// SaveCluster replicates the cluster singleton record through Raft.
func (m *Master) SaveCluster(cluster *types.Cluster) error {
	return m.applyOp(OpSaveCluster, cluster)
}

// CreateNode replicates a new node record through Raft.
func (m *Master) CreateNode(node *types.Node) error { return m.applyOp(OpCreateNode, node) }

// UpdateNode replicates a node update through Raft.
func (m *Master) UpdateNode(node *types.Node) error { return m.applyOp(OpUpdateNode, node) }

// DeleteNode replicates node removal through Raft.
func (m *Master) DeleteNode(id string) error { return m.applyOp(OpDeleteNode, id) }

// CreateInstance replicates a new instance record through Raft.
func (m *Master) CreateInstance(inst *types.Instance) error {
	return m.applyOp(OpCreateInstance, inst)
}

// UpdateInstance replicates an instance update through Raft.
func (m *Master) UpdateInstance(inst *types.Instance) error {
	return m.applyOp(OpUpdateInstance, inst)
}

// DeleteInstance replicates instance removal through Raft.
func (m *Master) DeleteInstance(name string) error { return m.applyOp(OpDeleteInstance, name) }

// CreateJob replicates a new job record through Raft.
func (m *Master) CreateJob(job *types.Job) error { return m.applyOp(OpCreateJob, job) }

// UpdateJob replicates a job status update through Raft.
func (m *Master) UpdateJob(job *types.Job) error { return m.applyOp(OpUpdateJob, job) }

// Reads bypass Raft entirely: they're served from the local, already
// committed config store.

func (m *Master) GetNode(id string) (*types.Node, error)       { return m.store.GetNode(id) }
func (m *Master) ListNodes() ([]*types.Node, error)             { return m.store.ListNodes() }
func (m *Master) GetInstance(name string) (*types.Instance, error) {
	return m.store.GetInstance(name)
}
func (m *Master) ListInstances() ([]*types.Instance, error) { return m.store.ListInstances() }
func (m *Master) GetJob(id int64) (*types.Job, error)        { return m.store.GetJob(id) }
func (m *Master) ListJobs() ([]*types.Job, error)            { return m.store.ListJobs() }
func (m *Master) GetCluster() (*types.Cluster, error)        { return m.store.GetCluster() }

// NodeID returns this master's Raft server ID.
func (m *Master) NodeID() string { return m.nodeID }

// GenerateJoinToken issues a new token that a node or master candidate can
// present when requesting its certificate and cluster membership.
func (m *Master) GenerateJoinToken(role string, ttl time.Duration) (*JoinToken, error) {
	return m.tokenManager.GenerateToken(role, ttl)
}

// ValidateJoinToken validates a join token and returns the role it was
// issued for.
func (m *Master) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// IssueCertificate issues a client certificate for a node or CLI identity.
// No DNS names or IP addresses are embedded: these are client certs used
// to authenticate to the master, not server certs.
func (m *Master) IssueCertificate(nodeID, role string) (*tls.Certificate, error) {
	if !m.ca.IsInitialized() {
		return nil, fmt.Errorf("CA not initialized")
	}
	return m.ca.IssueNodeCertificate(nodeID, role, nil, nil)
}

// CertToPEM encodes a certificate and its key in PEM form for delivery to
// a requesting node.
func (m *Master) CertToPEM(cert *tls.Certificate) (certPEM, keyPEM []byte, err error) {
	if len(cert.Certificate) == 0 {
		return nil, nil, fmt.Errorf("certificate has no leaf")
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})

	key, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported private key type %T", cert.PrivateKey)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}

// GetCACertPEM returns the root CA certificate in PEM form.
func (m *Master) GetCACertPEM() []byte {
	return m.ca.GetRootCACert()
}

func (m *Master) initializeCA() error {
	if m.ca.IsInitialized() {
		return nil
	}
	if err := m.ca.LoadFromStore(); err == nil {
		return nil
	}

	if err := m.ca.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}
	if err := m.ca.SaveToStore(); err != nil {
		return fmt.Errorf("failed to save CA: %w", err)
	}

	certDir, err := security.GetCertDir("master", m.nodeID)
	if err != nil {
		return fmt.Errorf("failed to get cert directory: %w", err)
	}
	if security.CertExists(certDir) {
		return nil
	}

	host, _, err := net.SplitHostPort(m.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to parse bind address: %w", err)
	}
	var ipAddresses []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ipAddresses = []net.IP{ip}
	}
	dnsNames := []string{fmt.Sprintf("master-%s", m.nodeID), "localhost"}

	cert, err := m.ca.IssueNodeCertificate(m.nodeID, "master", dnsNames, ipAddresses)
	if err != nil {
		return fmt.Errorf("failed to issue master certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	return security.SaveCACertToFile(m.ca.GetRootCACert(), certDir)
}

// Shutdown stops the event broker, shuts down Raft and closes the store.
func (m *Master) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}
