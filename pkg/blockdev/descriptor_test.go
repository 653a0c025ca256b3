package blockdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetctl/pkg/types"
)

func sizePtr(v int64) *int64 { return &v }

func TestFromDescriptorPlainLV(t *testing.T) {
	d := &types.Disk{
		DevType: types.DevTypeLV,
		Size:    sizePtr(1024),
		LV:      &types.LVLogicalID{VG: "vg0", Name: "data0"},
	}
	dev, err := FromDescriptor(d, nil)
	require.NoError(t, err)

	lv, ok := dev.(*LogicalVolume)
	require.True(t, ok)
	assert.Equal(t, "vg0", lv.VG)
	assert.Equal(t, "data0", lv.Name)
	assert.Equal(t, int64(1024), lv.SizeMiB)
}

func TestFromDescriptorDRBD8RequiresTwoChildren(t *testing.T) {
	d := &types.Disk{
		DevType: types.DevTypeDRBD8,
		Size:    sizePtr(1024),
		DRBD8:   &types.DRBD8LogicalID{LocalMinor: 0},
	}
	_, err := FromDescriptor(d, nil)
	assert.Error(t, err)
}

func TestFromDescriptorDRBD8BuildsDataMetaPair(t *testing.T) {
	d := &types.Disk{
		DevType: types.DevTypeDRBD8,
		Size:    sizePtr(2048),
		DRBD8: &types.DRBD8LogicalID{
			LocalMinor: 3,
			LocalHost:  "10.0.0.1",
			LocalPort:  7789,
			RemoteHost: "10.0.0.2",
			RemotePort: 7789,
			Secret:     "s3cr3t",
		},
		Children: []*types.Disk{
			{DevType: types.DevTypeLV, Size: sizePtr(2048), LV: &types.LVLogicalID{VG: "vg0", Name: "data3"}},
			{DevType: types.DevTypeLV, Size: sizePtr(128), LV: &types.LVLogicalID{VG: "vg0", Name: "meta3"}},
		},
	}

	dev, err := FromDescriptor(d, nil)
	require.NoError(t, err)

	drbd, ok := dev.(*DRBD8)
	require.True(t, ok)
	assert.Equal(t, 3, drbd.Minor)
	assert.Equal(t, "data3", drbd.Data.Name)
	assert.Equal(t, "meta3", drbd.Meta.Name)
	assert.Equal(t, "s3cr3t", drbd.Secret)
}

func TestFromDescriptorAbsent(t *testing.T) {
	dev, err := FromDescriptor(&types.Disk{DevType: types.DevTypeAbsent}, nil)
	require.NoError(t, err)
	_, ok := dev.(*Absent)
	assert.True(t, ok)
}

func TestAttachTreeSkipsAbsent(t *testing.T) {
	err := AttachTree(&Absent{})
	assert.NoError(t, err)
}
