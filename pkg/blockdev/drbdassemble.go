package blockdev

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/types"
)

// drbdShowConfig is the subset of `drbdsetup <minor> show` this package
// cares about for deciding whether the minor's live local/network
// attachment already matches the desired configuration.
type drbdShowConfig struct {
	hasLocal     bool
	hasNetwork   bool
	localAddr    string
	remoteAddr   string
}

// fastAssemble handles the Unconfigured-minor case: attach local disks,
// then the network if peer info is complete.
func (d *DRBD8) fastAssemble() error {
	if err := d.attachLocal(); err != nil {
		return fmt.Errorf("drbd fast-assemble %s: %w", d.id(), err)
	}
	if d.RemoteHost != "" && d.RemotePort != 0 {
		if err := d.attachNetwork(); err != nil {
			return fmt.Errorf("drbd fast-assemble %s: %w", d.id(), err)
		}
		if err := d.waitNetAttached(); err != nil {
			return fmt.Errorf("drbd fast-assemble %s: %w", d.id(), err)
		}
	}
	return nil
}

// slowAssemble handles a minor that is already at least partially
// configured: classify local/network match against the desired config
// and reconcile.
func (d *DRBD8) slowAssemble(state *types.DRBDMinorState) error {
	cfg, err := d.showConfig()
	if err != nil {
		return fmt.Errorf("drbd slow-assemble %s: %w", d.id(), err)
	}

	wantNet := d.RemoteHost != "" && d.RemotePort != 0
	localOK := cfg.hasLocal
	netOK := cfg.hasNetwork && d.networkMatches(cfg)

	switch {
	case localOK && (!wantNet || netOK):
		return nil

	case localOK && wantNet && !cfg.hasNetwork:
		if err := d.attachNetwork(); err != nil {
			return fmt.Errorf("drbd slow-assemble %s: attach network: %w", d.id(), err)
		}
		return d.reverifyNetwork()

	case !localOK && cfg.hasNetwork && netOK:
		if err := d.attachLocal(); err != nil {
			return fmt.Errorf("drbd slow-assemble %s: attach local: %w", d.id(), err)
		}
		return d.reverifyNetwork()

	case localOK && cfg.hasNetwork && !netOK:
		if err := d.DisconnectNet(); err != nil {
			return fmt.Errorf("drbd slow-assemble %s: disconnect stale network: %w", d.id(), err)
		}
		if wantNet {
			if err := d.attachNetwork(); err != nil {
				return fmt.Errorf("drbd slow-assemble %s: reattach network: %w", d.id(), err)
			}
			return d.waitNetAttached()
		}
		return nil

	default:
		return fmt.Errorf("drbd slow-assemble %s: unreconcilable state (local=%v net=%v)", d.id(), localOK, cfg.hasNetwork)
	}
}

func (d *DRBD8) networkMatches(cfg drbdShowConfig) bool {
	wantLocal := fmt.Sprintf("%s:%d", d.LocalHost, d.LocalPort)
	wantRemote := fmt.Sprintf("%s:%d", d.RemoteHost, d.RemotePort)
	return cfg.localAddr == wantLocal && cfg.remoteAddr == wantRemote
}

func (d *DRBD8) reverifyNetwork() error {
	cfg, err := d.showConfig()
	if err != nil {
		return err
	}
	if !cfg.hasNetwork || !d.networkMatches(cfg) {
		return fmt.Errorf("disagreement between desired and actual network config after reconciliation")
	}
	return nil
}

// attachLocal runs the fast-assemble local-disk attach command.
func (d *DRBD8) attachLocal() error {
	if !d.Data.Attached() && !d.Data.Attach() {
		return fmt.Errorf("attach local: data lv not attached")
	}
	if !d.Meta.Attached() && !d.Meta.Attach() {
		return fmt.Errorf("attach local: meta lv not attached")
	}
	args := []string{
		d.id(), "disk",
		d.Data.DevPath(), d.Meta.DevPath(), "0",
		"-e", "detach",
		"--create-device",
		"-d", fmt.Sprintf("%dm", d.SizeMiB),
	}
	if _, err := run("drbdsetup", args...); err != nil {
		return fmt.Errorf("attach local: %w", err)
	}
	return nil
}

// attachNetwork runs the fast-assemble net attach command.
func (d *DRBD8) attachNetwork() error {
	protocol := d.Protocol
	if protocol == "" {
		protocol = "C"
	}
	args := []string{
		d.id(), "net",
		fmt.Sprintf("%s:%d", d.LocalHost, d.LocalPort),
		fmt.Sprintf("%s:%d", d.RemoteHost, d.RemotePort),
		protocol,
		"-A", "discard-zero-changes",
		"-B", "consensus",
		"--create-device",
	}
	if d.DualPrimary {
		args = append(args, "-m")
	}
	if d.Secret != "" {
		args = append(args, "-a", "HMAC", "-x", d.Secret)
	}
	if _, err := run("drbdsetup", args...); err != nil {
		return fmt.Errorf("attach network: %w", err)
	}
	return nil
}

// waitNetAttached polls `drbdsetup show` for up to 10s until local_addr
// and remote_addr equal the expected values.
func (d *DRBD8) waitNetAttached() error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		cfg, err := d.showConfig()
		if err == nil && cfg.hasNetwork && d.networkMatches(cfg) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("network attach did not converge within 10s")
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// showConfig runs and parses `drbdsetup <minor> show`.
func (d *DRBD8) showConfig() (drbdShowConfig, error) {
	out, err := run("drbdsetup", d.id(), "show")
	if err != nil {
		return drbdShowConfig{}, fmt.Errorf("show %s: %w", d.id(), err)
	}
	return parseDRBDShow(out), nil
}

// parseDRBDShow extracts the local/network presence and addresses from
// drbdsetup show's text output. It is intentionally tolerant: absence of
// a recognized field simply leaves the corresponding flag false, rather
// than erroring, since drbdsetup's show format varies across versions.
func parseDRBDShow(out string) drbdShowConfig {
	var cfg drbdShowConfig
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "disk"):
			cfg.hasLocal = true
		case strings.HasPrefix(line, "address"):
			cfg.hasNetwork = true
			if addr := extractAddr(line); addr != "" {
				cfg.localAddr = addr
			}
		case strings.HasPrefix(line, "_is_remote") || strings.Contains(line, "peer_addr"):
			cfg.hasNetwork = true
			if addr := extractAddr(line); addr != "" {
				cfg.remoteAddr = addr
			}
		}
	}
	return cfg
}

// extractAddr pulls an "ipv4 HOST:PORT" token out of a drbdsetup show
// line.
func extractAddr(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if (f == "ipv4" || f == "ipv6") && i+1 < len(fields) {
			return strings.TrimSuffix(fields[i+1], ";")
		}
	}
	return ""
}
