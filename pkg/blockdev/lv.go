package blockdev

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/fleetctl/pkg/log"
)

// PhysicalVolume is one candidate striping target for LogicalVolume
// Create/Grow.
type PhysicalVolume struct {
	Name     string
	FreeMiB  int64
}

// LogicalVolume is an LVM-backed Device.
type LogicalVolume struct {
	VG      string
	Name    string
	SizeMiB int64

	attached bool
	devPath  string
	majorMin string

	// PVs is the pool of physical volumes Create/Grow may stripe
	// across, sorted by free space descending before each attempt.
	PVs []PhysicalVolume
}

func NewLogicalVolume(vg, name string, sizeMiB int64, pvs []PhysicalVolume) *LogicalVolume {
	return &LogicalVolume{VG: vg, Name: name, SizeMiB: sizeMiB, PVs: pvs}
}

func (l *LogicalVolume) id() string { return l.VG + "/" + l.Name }

// Create runs lvcreate, striping across l.PVs sorted by free space,
// falling back from N stripes down to 1 on failure. Refuses if total VG
// free space is less than the requested size.
func (l *LogicalVolume) Create() error {
	var total int64
	for _, pv := range l.PVs {
		total += pv.FreeMiB
	}
	if total < l.SizeMiB {
		return fmt.Errorf("lv create %s: volume group free space %dMiB < requested %dMiB", l.id(), total, l.SizeMiB)
	}

	sorted := append([]PhysicalVolume(nil), l.PVs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FreeMiB > sorted[j].FreeMiB })

	var lastErr error
	for stripes := len(sorted); stripes >= 1; stripes-- {
		args := []string{"-L", fmt.Sprintf("%dm", l.SizeMiB), "-n", l.Name}
		if stripes > 1 {
			args = append(args, "-i", strconv.Itoa(stripes))
		}
		args = append(args, l.VG)
		_, err := run("lvcreate", args...)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("lv create %s: all striping attempts failed: %w", l.id(), lastErr)
}

// Assemble activates the logical volume (lvchange -ay).
func (l *LogicalVolume) Assemble() error {
	if _, err := run("lvchange", "-ay", l.id()); err != nil {
		return fmt.Errorf("lv assemble %s: %w", l.id(), err)
	}
	return nil
}

// Open is a no-op for LV; it has no ro/rw distinction below the
// filesystem layer.
func (l *LogicalVolume) Open(force bool) error { return nil }

// Close is a no-op for LV.
func (l *LogicalVolume) Close() error { return nil }

// Shutdown is a no-op for LV; the underlying volume stays active.
func (l *LogicalVolume) Shutdown() error { return nil }

// Remove runs lvremove -f.
func (l *LogicalVolume) Remove() error {
	if _, err := run("lvremove", "-f", l.id()); err != nil {
		return fmt.Errorf("lv remove %s: %w", l.id(), err)
	}
	return nil
}

// Rename renames within the same VG; cross-VG rename is refused.
func (l *LogicalVolume) Rename(newID string) error {
	parts := strings.SplitN(newID, "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("lv rename %s: new id %q must be vg/name", l.id(), newID)
	}
	if parts[0] != l.VG {
		return fmt.Errorf("lv rename %s: cross-VG rename to %s refused", l.id(), parts[0])
	}
	if _, err := run("lvrename", l.VG, l.Name, parts[1]); err != nil {
		return fmt.Errorf("lv rename %s: %w", l.id(), err)
	}
	l.Name = parts[1]
	return nil
}

// allocPolicies is the order Grow tries LVM allocation policies in.
var allocPolicies = []string{"contiguous", "cling", "normal"}

// Grow rounds amountMiB up to a full stripe size and tries each
// allocation policy in order, stopping at the first success.
func (l *LogicalVolume) Grow(amountMiB int64) error {
	stripeSize := int64(4) // MiB, LVM's default extent granularity
	rounded := ((amountMiB + stripeSize - 1) / stripeSize) * stripeSize

	var lastErr error
	for _, policy := range allocPolicies {
		_, err := run("lvextend", "--alloc", policy, "-L", fmt.Sprintf("+%dm", rounded), l.id())
		if err == nil {
			l.SizeMiB += rounded
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("lv grow %s: all allocation policies failed: %w", l.id(), lastErr)
}

// GetSyncStatus: LVs never resync and are never degraded; LDisk is true
// only for "virtual" (sparse/thin, not backed by real storage) LVs,
// which this implementation does not create, so it is always false.
func (l *LogicalVolume) GetSyncStatus() (SyncStatus, error) { return none, nil }

func (l *LogicalVolume) CombinedSyncStatus() (SyncStatus, error) { return none, nil }

func (l *LogicalVolume) Attached() bool { return l.attached }
func (l *LogicalVolume) DevPath() string { return l.devPath }

// Attach locates the LV's device-mapper node.
func (l *LogicalVolume) Attach() bool {
	out, err := run("lvs", "--noheadings", "-o", "lv_path", l.id())
	if err != nil {
		log.WithComponent("blockdev").Debug().Str("lv", l.id()).Err(err).Msg("lv attach failed")
		return false
	}
	path := strings.TrimSpace(out)
	if path == "" {
		return false
	}
	l.devPath = path
	l.attached = true
	return true
}
