package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// Monitor drives the master→node heartbeat loop: on every tick it
// heartbeats each known node, updates that node's Status, and persists
// an Offline transition through updateNode when Status.Healthy flips.
// Follows the same Start/Stop-over-a-stop-channel shape as
// pkg/processor's worker pool.
type Monitor struct {
	client     *rpc.Client
	nodePort   int
	cfg        Config
	listNodes  func() ([]*types.Node, error)
	updateNode func(*types.Node) error
	logger     zerolog.Logger

	mu     sync.Mutex
	status map[string]*Status

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor builds a Monitor. nodePort is the node daemon's RPC listen
// port (pkg/lu.DefaultNodePort in the master binary); listNodes and
// updateNode are the master's read/write hooks so this package never
// needs to import pkg/master.
func NewMonitor(client *rpc.Client, nodePort int, cfg Config, listNodes func() ([]*types.Node, error), updateNode func(*types.Node) error) *Monitor {
	return &Monitor{
		client:     client,
		nodePort:   nodePort,
		cfg:        cfg,
		listNodes:  listNodes,
		updateNode: updateNode,
		logger:     log.WithComponent("health.monitor"),
		status:     make(map[string]*Status),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the heartbeat loop in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop signals the loop to exit and waits for it.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runOnce()
		case <-m.stopCh:
			return
		}
	}
}

// runOnce heartbeats every known node once.
func (m *Monitor) runOnce() {
	nodes, err := m.listNodes()
	if err != nil {
		m.logger.Warn().Err(err).Msg("heartbeat: list nodes failed")
		return
	}
	for _, node := range nodes {
		m.checkNode(node)
	}
}

func (m *Monitor) statusFor(nodeID string) *Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[nodeID]
	if !ok {
		st = NewStatus()
		m.status[nodeID] = st
	}
	return st
}

// checkNode heartbeats one node and, if its derived liveness changed
// since the last tick, persists the new Offline value.
func (m *Monitor) checkNode(node *types.Node) {
	if node.PrimaryIP == nil {
		return
	}
	st := m.statusFor(node.ID)
	if st.InStartPeriod(m.cfg) {
		return
	}

	target := rpc.Target{NodeID: node.ID, Addr: fmt.Sprintf("%s:%d", node.PrimaryIP.String(), m.nodePort)}
	checker := NewHeartbeatChecker(m.client, target)

	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	result := checker.Check(ctx)
	cancel()

	wasHealthy := st.Healthy
	st.Update(result, m.cfg)
	if wasHealthy == st.Healthy {
		return
	}

	updated := *node
	updated.Offline = !st.Healthy
	if err := m.updateNode(&updated); err != nil {
		m.logger.Error().Err(err).Str("node_id", node.ID).Msg("heartbeat: failed to persist liveness transition")
		return
	}
	if st.Healthy {
		m.logger.Info().Str("node_id", node.ID).Msg("node heartbeat recovered, marking online")
	} else {
		m.logger.Warn().Str("node_id", node.ID).Int("consecutive_failures", st.ConsecutiveFailures).Str("reason", result.Message).Msg("node heartbeat failed, marking offline")
	}
}
