package blockdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogicalVolumeRenameRefusesCrossVG(t *testing.T) {
	lv := NewLogicalVolume("vg0", "data0", 1024, nil)
	err := lv.Rename("vg1/data0")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cross-VG")
}

func TestLogicalVolumeRenameRejectsMalformedID(t *testing.T) {
	lv := NewLogicalVolume("vg0", "data0", 1024, nil)
	err := lv.Rename("data0-no-slash")
	assert.Error(t, err)
}

func TestLogicalVolumeCreateRefusesInsufficientSpace(t *testing.T) {
	lv := NewLogicalVolume("vg0", "big", 10000, []PhysicalVolume{
		{Name: "pv0", FreeMiB: 100},
		{Name: "pv1", FreeMiB: 200},
	})
	err := lv.Create()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "free space")
}

func TestLogicalVolumeSyncStatusIsNone(t *testing.T) {
	lv := NewLogicalVolume("vg0", "data0", 1024, nil)
	status, err := lv.GetSyncStatus()
	assert.NoError(t, err)
	assert.Equal(t, none, status)
}
