package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/fleetctl/pkg/hypervisor"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
)

// shutdownPollInterval / shutdownMaxWait implement 
// "ACPI+poll up to ~2 min, then force-destroy" for instance_shutdown.
const (
	shutdownPollInterval = 2 * time.Second
	shutdownMaxWait      = 2 * time.Minute
)

func (d *Dispatcher) registerInstance(srv *rpc.Server) {
	srv.Register("instance_start", func(args []json.RawMessage) (bool, interface{}) {
		var inst types.Instance
		if err := decodeArg(args, 0, &inst); err != nil {
			return fail(err)
		}
		if err := d.hv.Start(context.Background(), &inst); err != nil {
			return fail(err)
		}
		return ok(nil)
	})

	srv.Register("instance_shutdown", func(args []json.RawMessage) (bool, interface{}) {
		var inst types.Instance
		if err := decodeArg(args, 0, &inst); err != nil {
			return fail(err)
		}
		ctx := context.Background()
		if err := d.hv.Shutdown(ctx, &inst); err != nil {
			return fail(err)
		}

		deadline := time.Now().Add(shutdownMaxWait)
		for time.Now().Before(deadline) {
			info, err := d.hv.Info(ctx, inst.Name)
			if err != nil || info.State == "shutdown" || info.State == "shut off" {
				return ok(nil)
			}
			time.Sleep(shutdownPollInterval)
		}

		if err := d.hv.Destroy(ctx, &inst); err != nil {
			return fail(fmt.Errorf("graceful shutdown timed out, force-destroy failed: %w", err))
		}
		return ok(nil)
	})

	srv.Register("instance_reboot", func(args []json.RawMessage) (bool, interface{}) {
		var inst types.Instance
		if err := decodeArg(args, 0, &inst); err != nil {
			return fail(err)
		}
		if err := d.hv.Reboot(context.Background(), &inst); err != nil {
			return fail(err)
		}
		return ok(nil)
	})

	srv.Register("instance_migrate", func(args []json.RawMessage) (bool, interface{}) {
		var inst types.Instance
		var targetAddr string
		if err := decodeArg(args, 0, &inst); err != nil {
			return fail(err)
		}
		if err := decodeArg(args, 1, &targetAddr); err != nil {
			return fail(err)
		}
		if err := d.hv.Migrate(context.Background(), &inst, targetAddr); err != nil {
			return fail(err)
		}
		return ok(nil)
	})

	srv.Register("instance_info", func(args []json.RawMessage) (bool, interface{}) {
		var name string
		if err := decodeArg(args, 0, &name); err != nil {
			return fail(err)
		}
		info, err := d.hv.Info(context.Background(), name)
		if err != nil {
			return fail(err)
		}
		return ok(info)
	})

	srv.Register("instance_list", func(args []json.RawMessage) (bool, interface{}) {
		names, err := d.hv.List(context.Background())
		if err != nil {
			return fail(err)
		}
		return ok(names)
	})

	srv.Register("all_instances_info", func(args []json.RawMessage) (bool, interface{}) {
		ctx := context.Background()
		names, err := d.hv.List(ctx)
		if err != nil {
			return fail(err)
		}
		infos := make([]*hypervisor.InstanceInfo, 0, len(names))
		for _, name := range names {
			info, err := d.hv.Info(ctx, name)
			if err != nil {
				continue // instance disappeared between List and Info; skip, not fatal
			}
			infos = append(infos, info)
		}
		return ok(infos)
	})

	// instance_os_add and instance_run_rename delegate to the OS-install
	// script runner, which is out of scope here (interfaces only). The
	// dispatcher still owns the procedure names so the RPC surface is
	// complete; both refuse until an install-script runner is configured.
	srv.Register("instance_os_add", func(args []json.RawMessage) (bool, interface{}) {
		return failf("instance_os_add: OS-install script runner is not configured on this node")
	})
	srv.Register("instance_run_rename", func(args []json.RawMessage) (bool, interface{}) {
		return failf("instance_run_rename: OS-install script runner is not configured on this node")
	})
}
