package blockdev

import (
	"fmt"
	"strconv"

	"github.com/cuemby/fleetctl/pkg/types"
)

// DRBD8 is a DRBD 8.x replicated Device. It wraps exactly two children:
// a data LogicalVolume and a meta LogicalVolume.
type DRBD8 struct {
	Minor int

	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int
	Protocol   string // "A", "B", or "C"
	Secret     string
	DualPrimary bool

	SizeMiB int64

	Data *LogicalVolume
	Meta *LogicalVolume

	attached bool
	devPath  string
}

func (d *DRBD8) id() string { return fmt.Sprintf("drbd%d", d.Minor) }

// Create initializes DRBD metadata on the meta child only. The DRBD
// device itself is brought up by Assemble, not Create.
func (d *DRBD8) Create() error {
	if d.Meta == nil || d.Data == nil {
		return fmt.Errorf("drbd create %s: missing data or meta child", d.id())
	}
	if err := d.Data.Create(); err != nil {
		return fmt.Errorf("drbd create %s: data lv: %w", d.id(), err)
	}
	if err := d.Meta.Create(); err != nil {
		return fmt.Errorf("drbd create %s: meta lv: %w", d.id(), err)
	}
	if !d.Meta.Attach() {
		return fmt.Errorf("drbd create %s: meta lv did not attach after create", d.id())
	}
	if err := checkMetaDeviceSanity(d.Meta.DevPath()); err != nil {
		return fmt.Errorf("drbd create %s: %w", d.id(), err)
	}
	if _, err := run("drbdsetup", d.id(), "--create-md", "v08"); err != nil {
		return fmt.Errorf("drbd create %s: create-md: %w", d.id(), err)
	}
	return nil
}

// Assemble brings the minor up via the fast or slow path (drbdassemble.go).
func (d *DRBD8) Assemble() error {
	state, err := minorState(d.Minor)
	if err != nil {
		return fmt.Errorf("drbd assemble %s: %w", d.id(), err)
	}
	if state == nil || state.Conn == types.DRBDConnUnconfigured {
		return d.fastAssemble()
	}
	return d.slowAssemble(state)
}

// Open issues drbdsetup primary, with -o ("must be outdated") only
// meaningful right after a fresh Create where the metadata is
// known-good but no peer has confirmed yet.
func (d *DRBD8) Open(force bool) error {
	args := []string{d.id(), "primary"}
	if force {
		args = append(args, "-o")
	}
	if _, err := run("drbdsetup", args...); err != nil {
		return fmt.Errorf("drbd open %s: %w", d.id(), err)
	}
	return nil
}

// Close demotes to secondary; fails if the device is in use.
func (d *DRBD8) Close() error {
	if _, err := run("drbdsetup", d.id(), "secondary"); err != nil {
		return fmt.Errorf("drbd close %s: %w", d.id(), err)
	}
	return nil
}

// Shutdown tears the minor down, freeing it. Children remain assembled.
func (d *DRBD8) Shutdown() error {
	if _, err := run("drbdsetup", d.id(), "down"); err != nil {
		return fmt.Errorf("drbd shutdown %s: %w", d.id(), err)
	}
	return nil
}

// Remove is an alias for Shutdown; the metadata lives on the meta LV
// child, whose own Remove releases it.
func (d *DRBD8) Remove() error { return d.Shutdown() }

// Rename is not supported; minors are reassigned instead of renamed.
func (d *DRBD8) Rename(newID string) error {
	return fmt.Errorf("drbd rename %s: not supported, reassign the minor instead", d.id())
}

// Grow extends the data LV child, then issues drbdsetup resize.
func (d *DRBD8) Grow(amountMiB int64) error {
	if d.Data == nil {
		return fmt.Errorf("drbd grow %s: no data child", d.id())
	}
	if err := d.Data.Grow(amountMiB); err != nil {
		return fmt.Errorf("drbd grow %s: %w", d.id(), err)
	}
	if _, err := run("drbdsetup", d.id(), "resize"); err != nil {
		return fmt.Errorf("drbd grow %s: resize: %w", d.id(), err)
	}
	d.SizeMiB += amountMiB
	return nil
}

// GetSyncStatus reads this minor's state from /proc/drbd. LDisk is true
// when the local disk state is Diskless or Inconsistent.
func (d *DRBD8) GetSyncStatus() (SyncStatus, error) {
	state, err := minorState(d.Minor)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("drbd sync status %s: %w", d.id(), err)
	}
	if state == nil {
		return SyncStatus{SyncPercent: -1, ETASeconds: -1, Degraded: true, LDisk: true}, nil
	}
	status := SyncStatus{SyncPercent: -1, ETASeconds: -1}
	if state.SyncPercent != nil {
		status.SyncPercent = *state.SyncPercent
	}
	if state.SyncETA != nil {
		status.ETASeconds = state.SyncETA.Seconds()
	}
	status.Degraded = state.Degraded()
	status.LDisk = state.LocalDisk == types.DRBDDiskDiskless || state.LocalDisk == types.DRBDDiskInconsistent
	return status, nil
}

// CombinedSyncStatus recurses into the data/meta children, though in
// practice their own status is always `none` — DRBD8's own
// GetSyncStatus is the meaningful signal at this node.
func (d *DRBD8) CombinedSyncStatus() (SyncStatus, error) {
	self, err := d.GetSyncStatus()
	if err != nil {
		return SyncStatus{}, err
	}
	acc := self
	for _, child := range []*LogicalVolume{d.Data, d.Meta} {
		if child == nil {
			continue
		}
		cs, err := child.CombinedSyncStatus()
		if err != nil {
			return SyncStatus{}, err
		}
		acc = combine(acc, cs)
	}
	return acc, nil
}

func (d *DRBD8) Attached() bool  { return d.attached }
func (d *DRBD8) DevPath() string { return d.devPath }

// Attach locates /dev/drbd<minor> if the minor is configured.
func (d *DRBD8) Attach() bool {
	state, err := minorState(d.Minor)
	if err != nil || state == nil {
		return false
	}
	d.devPath = "/dev/drbd" + strconv.Itoa(d.Minor)
	d.attached = true
	return true
}

// checkMetaDeviceSanity enforces : a prospective DRBD meta
// device must report a size in [128 MiB, 1 GiB] via blockdev --getsize64.
func checkMetaDeviceSanity(devPath string) error {
	out, err := run("blockdev", "--getsize64", devPath)
	if err != nil {
		return fmt.Errorf("meta device sanity check %s: %w", devPath, err)
	}
	bytesSize, err := parseInt64(out)
	if err != nil {
		return fmt.Errorf("meta device sanity check %s: unparsable size %q: %w", devPath, out, err)
	}
	const mib = 1024 * 1024
	sizeMiB := bytesSize / mib
	if sizeMiB < 128 || sizeMiB > 1024 {
		return fmt.Errorf("meta device %s size %dMiB out of range [128, 1024]", devPath, sizeMiB)
	}
	return nil
}

func parseInt64(s string) (int64, error) {
	var trimmed string
	for _, r := range s {
		if r >= '0' && r <= '9' {
			trimmed += string(r)
		} else if trimmed != "" {
			break
		}
	}
	return strconv.ParseInt(trimmed, 10, 64)
}
