package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cuemby/fleetctl/pkg/hooks"
	"github.com/cuemby/fleetctl/pkg/rpc"
)

const iallocatorTimeout = 30 * time.Second

// hooksRunnerArgs holds the hooks_runner arguments, passed positionally:
// the hook path, the phase, and the LU-supplied environment variables to
// export.
type hooksRunnerArgs struct {
	HookPath string
	Phase    string
	Env      map[string]string
}

func (d *Dispatcher) registerHooks(srv *rpc.Server) {
	srv.Register("hooks_runner", func(args []json.RawMessage) (bool, interface{}) {
		var a hooksRunnerArgs
		if err := decodeArg(args, 0, &a.HookPath); err != nil {
			return fail(err)
		}
		if err := decodeArg(args, 1, &a.Phase); err != nil {
			return fail(err)
		}
		if err := decodeArg(args, 2, &a.Env); err != nil {
			return fail(err)
		}
		results, err := d.hookRun.Run(context.Background(), a.HookPath, hooks.Phase(a.Phase), a.Env)
		if err != nil {
			return fail(err)
		}
		for _, r := range results {
			if r.Outcome == hooks.OutcomeFail && hooks.Phase(a.Phase) == hooks.PhasePre {
				return failf("hooks_runner: pre-hook %s failed: %v", r.Name, r.Err)
			}
		}
		return ok(results)
	})

	// iallocator_runner invokes the IAllocator script already chosen by
	// the master (pkg/allocator builds the input document; this just
	// executes it locally and returns raw stdout, since the script may
	// only be installed on specific nodes).
	srv.Register("iallocator_runner", func(args []json.RawMessage) (bool, interface{}) {
		var scriptPath string
		var input []byte
		if err := decodeArg(args, 0, &scriptPath); err != nil {
			return fail(err)
		}
		if err := decodeArg(args, 1, &input); err != nil {
			return fail(err)
		}

		tmp, err := os.CreateTemp("", "iallocator-*.json")
		if err != nil {
			return fail(err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(input); err != nil {
			tmp.Close()
			return fail(err)
		}
		tmp.Close()

		ctx, cancel := context.WithTimeout(context.Background(), iallocatorTimeout)
		defer cancel()
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, scriptPath, tmp.Name())
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return fail(fmt.Errorf("iallocator_runner: %w: %s", err, out.String()))
		}
		return ok(out.String())
	})
}
