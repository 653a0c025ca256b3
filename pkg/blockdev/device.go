// Package blockdev implements the recursive block-device abstraction:
// logical volumes, DRBD8 replicated devices, plain files, and the
// Absent placeholder, each carrying the five-state lifecycle
// (absent -> existing -> active-ro -> active-rw, and back). A typed
// driver wrapping subprocess calls behind a small interface; the
// LVM/DRBD tool invocations follow the same bounded-capture os/exec
// idiom throughout (see run in exec.go).
package blockdev

import (
	"github.com/cuemby/fleetctl/pkg/types"
)

// SyncStatus reports replication health for a device or device subtree.
type SyncStatus struct {
	// SyncPercent is -1 when no resync is in progress.
	SyncPercent float64
	// ETASeconds is -1 when unknown or no resync is in progress.
	ETASeconds float64
	// Degraded is true when the device is missing a working mirror.
	Degraded bool
	// LDisk is true when local backing storage is missing (LV
	// virtual-type, or DRBD Diskless/Inconsistent).
	LDisk bool
}

// none is the SyncStatus of a fully healthy, non-resyncing device.
var none = SyncStatus{SyncPercent: -1, ETASeconds: -1}

// Device is the common contract every block-device variant implements.
// Every operation must be idempotent when the device is already in the
// target state.
type Device interface {
	// Create materializes the backing storage for a brand-new device.
	Create() error
	// Assemble brings the device from existing to active-ro.
	Assemble() error
	// Open switches an assembled device to active-rw. force passes
	// DRBD8's "-o" just-created-no-peer-yet flag; meaningless for LV
	// and File.
	Open(force bool) error
	// Close reverses Open, failing if the device is in use.
	Close() error
	// Shutdown reverses Assemble. Children remain assembled.
	Shutdown() error
	// Remove destroys the backing storage.
	Remove() error
	// Rename changes the device's unique ID. LV only; DRBD8 and File
	// reject it.
	Rename(newID string) error
	// Grow extends the device by amount MiB.
	Grow(amountMiB int64) error
	// GetSyncStatus reports this device's own sync state.
	GetSyncStatus() (SyncStatus, error)
	// CombinedSyncStatus recurses into Children, taking min percent,
	// max ETA, any-degraded, any-ldisk over the whole subtree.
	CombinedSyncStatus() (SyncStatus, error)
	// Attached reports whether Attach() has located the live backing
	// device on this node.
	Attached() bool
	// DevPath is the attached device node path, valid only once
	// Attached() is true.
	DevPath() string
}

// combine folds a child's status into an accumulator per
// CombinedSyncStatus's recursive min-percent/max-eta/any rule.
func combine(acc, child SyncStatus) SyncStatus {
	out := acc
	if child.SyncPercent >= 0 && (out.SyncPercent < 0 || child.SyncPercent < out.SyncPercent) {
		out.SyncPercent = child.SyncPercent
	}
	if child.ETASeconds > out.ETASeconds {
		out.ETASeconds = child.ETASeconds
	}
	out.Degraded = out.Degraded || child.Degraded
	out.LDisk = out.LDisk || child.LDisk
	return out
}

// diskUniqueID derives a stable device name from a descriptor, so repeated
// calls on the same descriptor produce the same identity. Nothing in this
// package calls it.
func diskUniqueID(d *types.Disk) string {
	switch d.DevType {
	case types.DevTypeLV:
		if d.LV != nil {
			return d.LV.VG + "/" + d.LV.Name
		}
	case types.DevTypeFile:
		if d.File != nil {
			return d.File.Path
		}
	case types.DevTypeDRBD8:
		if d.DRBD8 != nil {
			return d.IVName
		}
	}
	return d.IVName
}
