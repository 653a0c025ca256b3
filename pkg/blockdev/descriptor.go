package blockdev

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/types"
)

// FromDescriptor builds the Device tree described by d, without doing
// any I/O — callers must invoke Attach on the result (directly, or via
// AttachTree) before any other operation. This is a two-phase
// "attach to existing by identity" constructor.
func FromDescriptor(d *types.Disk, pvs []PhysicalVolume) (Device, error) {
	switch d.DevType {
	case types.DevTypeLV:
		if d.LV == nil {
			return nil, fmt.Errorf("from descriptor %s: lv disk missing logical id", d.IVName)
		}
		return NewLogicalVolume(d.LV.VG, d.LV.Name, d.SizeMiB(), pvs), nil

	case types.DevTypeFile:
		if d.File == nil {
			return nil, fmt.Errorf("from descriptor %s: file disk missing logical id", d.IVName)
		}
		return NewFileDevice(d.File.Path, d.SizeMiB()), nil

	case types.DevTypeDRBD8:
		if d.DRBD8 == nil {
			return nil, fmt.Errorf("from descriptor %s: drbd8 disk missing logical id", d.IVName)
		}
		if len(d.Children) != 2 {
			return nil, fmt.Errorf("from descriptor %s: drbd8 disk must have exactly 2 children (data, meta), got %d", d.IVName, len(d.Children))
		}
		dataDev, err := FromDescriptor(d.Children[0], pvs)
		if err != nil {
			return nil, err
		}
		metaDev, err := FromDescriptor(d.Children[1], pvs)
		if err != nil {
			return nil, err
		}
		data, ok := dataDev.(*LogicalVolume)
		if !ok {
			return nil, fmt.Errorf("from descriptor %s: drbd8 data child must be an LV", d.IVName)
		}
		meta, ok := metaDev.(*LogicalVolume)
		if !ok {
			return nil, fmt.Errorf("from descriptor %s: drbd8 meta child must be an LV", d.IVName)
		}
		lid := d.DRBD8
		return &DRBD8{
			Minor:      lid.LocalMinor,
			LocalHost:  lid.LocalHost,
			LocalPort:  lid.LocalPort,
			RemoteHost: lid.RemoteHost,
			RemotePort: lid.RemotePort,
			Secret:     lid.Secret,
			Protocol:   "C",
			SizeMiB:    d.SizeMiB(),
			Data:       data,
			Meta:       meta,
		}, nil

	case types.DevTypeAbsent:
		return &Absent{}, nil

	default:
		return nil, fmt.Errorf("from descriptor %s: unknown dev type %q", d.IVName, d.DevType)
	}
}

// attachable is implemented by every concrete Device in this package;
// Device itself only exposes the read side (Attached/DevPath) since
// Absent has no meaningful Attach step.
type attachable interface {
	Attach() bool
}

// AttachTree calls Attach on dev and, recursively, on its children (for
// DRBD8's data/meta pair), stopping at the first failure. The error says
// whether the device itself or DRBD8's data or meta child failed to
// attach; it does not name the device.
func AttachTree(dev Device) error {
	if a, ok := dev.(attachable); ok {
		if !a.Attach() {
			return fmt.Errorf("attach: device did not attach")
		}
	}
	if drbd, ok := dev.(*DRBD8); ok {
		if err := AttachTree(drbd.Data); err != nil {
			return fmt.Errorf("attach drbd8 data child: %w", err)
		}
		if err := AttachTree(drbd.Meta); err != nil {
			return fmt.Errorf("attach drbd8 meta child: %w", err)
		}
	}
	return nil
}
