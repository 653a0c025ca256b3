package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDeviceCreateRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk0.img")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	f := NewFileDevice(path, 10)
	err := f.Create()
	assert.Error(t, err)
}

func TestFileDeviceCreateTruncatesToSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk1.img")

	f := NewFileDevice(path, 4)
	require.NoError(t, f.Create())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4*1024*1024), info.Size())
}

func TestFileDeviceAssembleAssertsExistence(t *testing.T) {
	dir := t.TempDir()
	f := NewFileDevice(filepath.Join(dir, "missing.img"), 4)
	assert.Error(t, f.Assemble())

	path := filepath.Join(dir, "present.img")
	require.NoError(t, os.WriteFile(path, []byte{}, 0644))
	f2 := NewFileDevice(path, 4)
	assert.NoError(t, f2.Assemble())
}

func TestFileDeviceGrowExtends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grow.img")
	f := NewFileDevice(path, 4)
	require.NoError(t, f.Create())

	require.NoError(t, f.Grow(4))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8*1024*1024), info.Size())
	assert.Equal(t, int64(8), f.SizeMiB)
}

func TestFileDeviceRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.img")
	f := NewFileDevice(path, 1)
	require.NoError(t, f.Create())
	require.NoError(t, f.Remove())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Idempotent: removing an already-absent file is not an error.
	assert.NoError(t, f.Remove())
}

func TestFileDeviceRenameNotSupported(t *testing.T) {
	f := NewFileDevice("/tmp/x.img", 1)
	assert.Error(t, f.Rename("/tmp/y.img"))
}

func TestFileDeviceAttach(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attach.img")

	f := NewFileDevice(path, 1)
	assert.False(t, f.Attach())

	require.NoError(t, f.Create())
	assert.True(t, f.Attach())
	assert.Equal(t, path, f.DevPath())
}
