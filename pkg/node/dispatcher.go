// Package node is the node-side RPC backend: a Dispatcher registering the
// named node procedures onto a pkg/rpc.Server. One struct holds the
// node's mutable local state — a cache of attached block devices —
// behind a set of methods the transport
// dispatches into.
// Where the prior implementation wired one gRPC service method per operation, this
// package wires one map entry per named procedure, since 
// requires "every RPC procedure maps to one function" rather than a
// fixed service interface.
package node

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/fleetctl/pkg/blockdev"
	"github.com/cuemby/fleetctl/pkg/hooks"
	"github.com/cuemby/fleetctl/pkg/hypervisor"
	"github.com/cuemby/fleetctl/pkg/rpc"
)

// uploadWhitelist is the constant set of pathnames upload_file is allowed
// to target, : cluster config, ssconf, known_hosts,
// /etc/hosts, VNC password.
var uploadWhitelist = map[string]bool{
	"/var/lib/fleetctl/config.json":    true,
	"/var/lib/fleetctl/ssconf":         true,
	"/etc/ssh/ssh_known_hosts":         true,
	"/etc/hosts":                       true,
	"/var/lib/fleetctl/vnc.password":   true,
}

// Dispatcher holds the per-node state backing the node RPC procedure
// family and registers handlers for all of them onto an *rpc.Server.
type Dispatcher struct {
	nodeID    string
	dataDir   string
	queueDir  string // jobqueue_* operations are confined under this path
	pvs       []blockdev.PhysicalVolume
	hv        hypervisor.Hypervisor
	hookRun   *hooks.Runner

	mu       sync.RWMutex
	attached map[string]blockdev.Device // disk IVName -> live device, reused across calls
	nextMinor int
}

// Config configures a Dispatcher.
type Config struct {
	NodeID   string
	DataDir  string
	QueueDir string
	PVs      []blockdev.PhysicalVolume
	HV       hypervisor.Hypervisor
}

// NewDispatcher creates a node-backend Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		nodeID:   cfg.NodeID,
		dataDir:  cfg.DataDir,
		queueDir: cfg.QueueDir,
		pvs:      cfg.PVs,
		hv:       cfg.HV,
		hookRun:  hooks.NewRunner(cfg.DataDir),
		attached: make(map[string]blockdev.Device),
	}
}

// RegisterAll registers every node RPC procedure family onto srv.
func (d *Dispatcher) RegisterAll(srv *rpc.Server) {
	d.registerBlockdev(srv)
	d.registerDRBD(srv)
	d.registerInstance(srv)
	d.registerNode(srv)
	d.registerStorage(srv)
	d.registerHooks(srv)
}

// decodeArg unmarshals the idx'th argument of args into v.
func decodeArg(args []json.RawMessage, idx int, v interface{}) error {
	if idx >= len(args) {
		return fmt.Errorf("missing argument %d", idx)
	}
	return json.Unmarshal(args[idx], v)
}

// ok/fail are small result-shape helpers matching the Handler contract.
func ok(payload interface{}) (bool, interface{})      { return true, payload }
func fail(err error) (bool, interface{})               { return false, err.Error() }
func failf(format string, a ...interface{}) (bool, interface{}) {
	return false, fmt.Sprintf(format, a...)
}
