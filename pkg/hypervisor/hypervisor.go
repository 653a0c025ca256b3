// Package hypervisor defines the capability contract for driving
// instance power state, plus one concrete driver: a single driver
// struct wrapping a privileged external control plane behind a small
// method set the rest of the system programs against.
package hypervisor

import (
	"context"
	"time"

	"github.com/cuemby/fleetctl/pkg/types"
)

// InstanceInfo reports a running instance's observed state, the payload
// for instance_info / all_instances_info.
type InstanceInfo struct {
	Name      string
	State     string // "running", "shutdown", "paused"
	CPUTime   time.Duration
	MemoryKiB int64
	VCPUs     int
}

// Hypervisor is the capability contract a node backend drives an
// instance's power state through. Each method is synchronous; callers
// (pkg/lu's instance LUs via pkg/node's RPC handlers) apply their own
// retry/poll loops.
type Hypervisor interface {
	// Start boots inst from its current disk state.
	Start(ctx context.Context, inst *types.Instance) error
	// Shutdown requests a graceful power-off (ACPI); the caller polls
	// Info and escalates to Destroy after roughly two minutes without a
	// clean shutdown.
	Shutdown(ctx context.Context, inst *types.Instance) error
	// Destroy forcibly powers off inst without guest cooperation.
	Destroy(ctx context.Context, inst *types.Instance) error
	// Reboot requests a guest-cooperative restart.
	Reboot(ctx context.Context, inst *types.Instance) error
	// Migrate live-migrates a running instance to targetAddr, the
	// hypervisor-level step of the instance migration sequence.
	Migrate(ctx context.Context, inst *types.Instance, targetAddr string) error
	// Info reports the current state of a running instance, or an error
	// if it is not running here.
	Info(ctx context.Context, name string) (*InstanceInfo, error)
	// List enumerates every instance this hypervisor currently knows
	// about, running or not.
	List(ctx context.Context) ([]string, error)
}
