package hypervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/types"
)

const defaultVirshTimeout = 30 * time.Second

// KVM drives libvirt-managed KVM guests through virsh, the same
// bounded-capture subprocess idiom pkg/blockdev uses for LVM/DRBD tooling.
type KVM struct {
	// URI is the libvirt connection URI, e.g. "qemu:///system".
	URI     string
	Timeout time.Duration
}

// NewKVM creates a KVM driver against the local libvirt daemon.
func NewKVM(uri string) *KVM {
	if uri == "" {
		uri = "qemu:///system"
	}
	return &KVM{URI: uri, Timeout: defaultVirshTimeout}
}

func (k *KVM) run(ctx context.Context, args ...string) (string, error) {
	timeout := k.Timeout
	if timeout <= 0 {
		timeout = defaultVirshTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := append([]string{"-c", k.URI}, args...)
	cmd := exec.CommandContext(cctx, "virsh", full...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("virsh %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

func (k *KVM) Start(ctx context.Context, inst *types.Instance) error {
	_, err := k.run(ctx, "start", inst.Name)
	return err
}

func (k *KVM) Shutdown(ctx context.Context, inst *types.Instance) error {
	_, err := k.run(ctx, "shutdown", inst.Name)
	return err
}

func (k *KVM) Destroy(ctx context.Context, inst *types.Instance) error {
	_, err := k.run(ctx, "destroy", inst.Name)
	return err
}

func (k *KVM) Reboot(ctx context.Context, inst *types.Instance) error {
	_, err := k.run(ctx, "reboot", inst.Name)
	return err
}

// Migrate live-migrates inst to targetAddr's libvirtd over TLS, the
// hypervisor-level step of the instance migration sequence.
func (k *KVM) Migrate(ctx context.Context, inst *types.Instance, targetAddr string) error {
	destURI := fmt.Sprintf("qemu+tls://%s/system", targetAddr)
	_, err := k.run(ctx, "migrate", "--live", "--persistent", inst.Name, destURI)
	return err
}

func (k *KVM) Info(ctx context.Context, name string) (*InstanceInfo, error) {
	out, err := k.run(ctx, "dominfo", name)
	if err != nil {
		return nil, err
	}
	return parseDominfo(name, out), nil
}

func parseDominfo(name, out string) *InstanceInfo {
	info := &InstanceInfo{Name: name}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "State":
			info.State = val
		case "CPU time":
			fields := strings.Fields(val)
			if len(fields) > 0 {
				if secs, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "s"), 64); err == nil {
					info.CPUTime = time.Duration(secs * float64(time.Second))
				}
			}
		case "CPU(s)":
			if n, err := strconv.Atoi(val); err == nil {
				info.VCPUs = n
			}
		case "Max memory":
			fields := strings.Fields(val)
			if len(fields) > 0 {
				if kib, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
					info.MemoryKiB = kib
				}
			}
		}
	}
	return info
}

func (k *KVM) List(ctx context.Context) ([]string, error) {
	out, err := k.run(ctx, "list", "--all", "--name")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
