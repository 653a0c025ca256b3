package blockdev

import "fmt"

// Absent is the placeholder Device for an unconfigured disk slot
// ( tagged-variant "absent" case). Create, Rename and Grow
// fail; Assemble, Open, Close, Shutdown and Remove succeed as no-ops. It
// exists purely so the device tree can hold a typed no-op leaf instead of
// a nil.
type Absent struct{}

func (a *Absent) Create() error               { return fmt.Errorf("absent device: create not supported") }
func (a *Absent) Assemble() error             { return nil }
func (a *Absent) Open(force bool) error       { return nil }
func (a *Absent) Close() error                { return nil }
func (a *Absent) Shutdown() error             { return nil }
func (a *Absent) Remove() error               { return nil }
func (a *Absent) Rename(newID string) error   { return fmt.Errorf("absent device: rename not supported") }
func (a *Absent) Grow(amountMiB int64) error  { return fmt.Errorf("absent device: grow not supported") }
func (a *Absent) GetSyncStatus() (SyncStatus, error)      { return none, nil }
func (a *Absent) CombinedSyncStatus() (SyncStatus, error) { return none, nil }
func (a *Absent) Attached() bool  { return true }
func (a *Absent) DevPath() string { return "" }
