package node

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/fleetctl/pkg/blockdev"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
)

// drbdDescriptor holds what each drbd_* procedure decodes: argument 0 is
// the list of DRBD8 disk descriptors, stored in Disks. No handler fills
// SecondaryIPs; the secondary-IP map callers pass is not read.
type drbdDescriptor struct {
	Disks          []types.Disk
	SecondaryIPs   map[string]string
}

func (d *Dispatcher) drbdDevices(descs []types.Disk) ([]*blockdev.DRBD8, error) {
	devs := make([]*blockdev.DRBD8, 0, len(descs))
	for i := range descs {
		if descs[i].DevType != types.DevTypeDRBD8 {
			return nil, fmt.Errorf("disk %s is not drbd8", descs[i].IVName)
		}
		dev, err := d.deviceFor(&descs[i])
		if err != nil {
			return nil, err
		}
		drbd, ok := dev.(*blockdev.DRBD8)
		if !ok {
			return nil, fmt.Errorf("disk %s did not resolve to a DRBD8 device", descs[i].IVName)
		}
		devs = append(devs, drbd)
	}
	return devs, nil
}

func (d *Dispatcher) registerDRBD(srv *rpc.Server) {
	srv.Register("drbd_disconnect_net", func(args []json.RawMessage) (bool, interface{}) {
		var desc drbdDescriptor
		if err := decodeArg(args, 0, &desc.Disks); err != nil {
			return fail(err)
		}
		devs, err := d.drbdDevices(desc.Disks)
		if err != nil {
			return fail(err)
		}
		for _, dev := range devs {
			if err := dev.DisconnectNet(); err != nil {
				return fail(err)
			}
		}
		return ok(nil)
	})

	srv.Register("drbd_attach_net", func(args []json.RawMessage) (bool, interface{}) {
		var desc drbdDescriptor
		if err := decodeArg(args, 0, &desc.Disks); err != nil {
			return fail(err)
		}
		var dualPrimary bool
		if len(args) > 2 {
			if err := decodeArg(args, 2, &dualPrimary); err != nil {
				return fail(err)
			}
		}
		devs, err := d.drbdDevices(desc.Disks)
		if err != nil {
			return fail(err)
		}
		for _, dev := range devs {
			dev.DualPrimary = dualPrimary
			if err := dev.Assemble(); err != nil {
				return fail(err)
			}
		}
		return ok(nil)
	})

	srv.Register("drbd_wait_sync", func(args []json.RawMessage) (bool, interface{}) {
		var desc drbdDescriptor
		if err := decodeArg(args, 0, &desc.Disks); err != nil {
			return fail(err)
		}
		devs, err := d.drbdDevices(desc.Disks)
		if err != nil {
			return fail(err)
		}
		statuses := make([]blockdev.SyncStatus, 0, len(devs))
		for _, dev := range devs {
			st, err := dev.GetSyncStatus()
			if err != nil {
				return fail(err)
			}
			statuses = append(statuses, st)
		}
		return ok(statuses)
	})
}
