package blockdev

import (
	"fmt"
	"os"
)

// FileDevice is a plain-file-backed Device, used by DiskTemplateFile and
// DiskTemplateSharedFile instances.
type FileDevice struct {
	Path    string
	SizeMiB int64

	attached bool
}

func NewFileDevice(path string, sizeMiB int64) *FileDevice {
	return &FileDevice{Path: path, SizeMiB: sizeMiB}
}

// Create creates and truncates the file to the requested size; refuses
// if the file already exists.
func (f *FileDevice) Create() error {
	if _, err := os.Stat(f.Path); err == nil {
		return fmt.Errorf("file create %s: already exists", f.Path)
	}
	file, err := os.Create(f.Path)
	if err != nil {
		return fmt.Errorf("file create %s: %w", f.Path, err)
	}
	defer file.Close()
	if err := file.Truncate(f.SizeMiB * 1024 * 1024); err != nil {
		return fmt.Errorf("file create %s: truncate: %w", f.Path, err)
	}
	return nil
}

// Assemble asserts the file exists.
func (f *FileDevice) Assemble() error {
	if _, err := os.Stat(f.Path); err != nil {
		return fmt.Errorf("file assemble %s: %w", f.Path, err)
	}
	return nil
}

func (f *FileDevice) Open(force bool) error  { return nil }
func (f *FileDevice) Close() error           { return nil }
func (f *FileDevice) Shutdown() error        { return nil }

// Remove unlinks the file.
func (f *FileDevice) Remove() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file remove %s: %w", f.Path, err)
	}
	return nil
}

func (f *FileDevice) Rename(newID string) error {
	return fmt.Errorf("file rename %s: not supported", f.Path)
}

// Grow extends the file by amountMiB.
func (f *FileDevice) Grow(amountMiB int64) error {
	file, err := os.OpenFile(f.Path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("file grow %s: %w", f.Path, err)
	}
	defer file.Close()
	f.SizeMiB += amountMiB
	if err := file.Truncate(f.SizeMiB * 1024 * 1024); err != nil {
		return fmt.Errorf("file grow %s: %w", f.Path, err)
	}
	return nil
}

func (f *FileDevice) GetSyncStatus() (SyncStatus, error)      { return none, nil }
func (f *FileDevice) CombinedSyncStatus() (SyncStatus, error) { return none, nil }
func (f *FileDevice) Attached() bool                          { return f.attached }
func (f *FileDevice) DevPath() string                         { return f.Path }

// Attach asserts the backing file exists.
func (f *FileDevice) Attach() bool {
	if _, err := os.Stat(f.Path); err != nil {
		return false
	}
	f.attached = true
	return true
}
