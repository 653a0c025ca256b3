package lock

import (
	"context"
	"fmt"
	"time"
)

// Level is one of the three totally-ordered lock levels.
type Level int

const (
	LevelCluster Level = iota
	LevelInstance
	LevelNode
)

func (l Level) String() string {
	switch l {
	case LevelCluster:
		return "cluster"
	case LevelInstance:
		return "instance"
	case LevelNode:
		return "node"
	default:
		return "unknown"
	}
}

// bglName is the single lock name that exists at the cluster level, per
// : "Level cluster contains a single lock 'BGL'
// (big-ganeti-lock)."
const bglName = "BGL"

// Manager owns the three lock levels and the big-ganeti-lock invariant:
// holding any instance or node lock requires at least shared ownership
// of BGL.
type Manager struct {
	cluster  *Set
	instance *Set
	node     *Set
}

// NewManager creates an empty three-level lock manager with BGL
// pre-registered.
func NewManager() *Manager {
	m := &Manager{
		cluster:  NewSet(),
		instance: NewSet(),
		node:     NewSet(),
	}
	m.cluster.Add(bglName)
	return m
}

// Instances returns the instance-level lock set, so pkg/lu can register
// new instance names (AddInstance) or remove them (RemoveInstance) as
// instances are created and destroyed.
func (m *Manager) Instances() *Set { return m.instance }

// Nodes returns the node-level lock set.
func (m *Manager) Nodes() *Set { return m.node }

// Job is a per-job handle tracking which levels the job's single
// execution goroutine currently holds, enforcing 
// "acquiring locks while already holding any lock at the same or higher
// level is a programming error." Jobs execute their opcodes
// sequentially on one goroutine (), so a Job is not safe for
// concurrent use from multiple goroutines.
type Job struct {
	mgr *Manager

	bglMode  *Mode
	instances []string
	instMode  Mode
	nodes     []string
	nodeMode  Mode

	// highestLevel tracks the strictly-increasing level order invariant
	// (): acquiring node then instance is a
	// programming error even though acquiring instance then node is fine.
	highestLevel Level
	haveLevel    bool
}

// NewJob creates a job handle bound to m.
func (m *Manager) NewJob() *Job {
	return &Job{mgr: m}
}

// checkLevel enforces  strictly-increasing lock-level order:
// acquiring a level at or below one already held is a programming error,
// even across levels that don't share a name (e.g. node-then-instance).
func (j *Job) checkLevel(level Level) error {
	if j.haveLevel && level <= j.highestLevel {
		return fmt.Errorf("programming error: acquiring %s-level lock after already holding %s-level lock", level, j.highestLevel)
	}
	j.highestLevel = level
	j.haveLevel = true
	return nil
}

// AcquireBGL acquires the cluster-level big lock. Must be the first lock
// a job acquires.
func (j *Job) AcquireBGL(ctx context.Context, mode Mode, timeout time.Duration) error {
	if j.bglMode != nil {
		return fmt.Errorf("programming error: BGL already held")
	}
	if err := j.checkLevel(LevelCluster); err != nil {
		return err
	}
	if err := j.mgr.cluster.Acquire(ctx, bglName, mode, timeout); err != nil {
		return err
	}
	j.bglMode = &mode
	return nil
}

// AcquireInstances acquires the named instance locks, all in mode.
// Requires BGL already held at this or a compatible mode.
func (j *Job) AcquireInstances(ctx context.Context, names []string, mode Mode, timeout time.Duration) error {
	if j.bglMode == nil {
		return fmt.Errorf("programming error: instance lock acquired without BGL")
	}
	if len(j.instances) > 0 {
		return fmt.Errorf("programming error: instance locks already held")
	}
	if err := j.checkLevel(LevelInstance); err != nil {
		return err
	}
	if err := j.mgr.instance.AcquireMany(ctx, names, mode, timeout); err != nil {
		return err
	}
	j.instances = names
	j.instMode = mode
	return nil
}

// AcquireNodes acquires the named node locks, all in mode. Requires BGL
// already held.
func (j *Job) AcquireNodes(ctx context.Context, names []string, mode Mode, timeout time.Duration) error {
	if j.bglMode == nil {
		return fmt.Errorf("programming error: node lock acquired without BGL")
	}
	if len(j.nodes) > 0 {
		return fmt.Errorf("programming error: node locks already held")
	}
	if err := j.checkLevel(LevelNode); err != nil {
		return err
	}
	if err := j.mgr.node.AcquireMany(ctx, names, mode, timeout); err != nil {
		return err
	}
	j.nodes = names
	j.nodeMode = mode
	return nil
}

// AcquireAllNodes acquires every currently registered node, used by
// VerifyCluster's "shared all" contract.
func (j *Job) AcquireAllNodes(ctx context.Context, mode Mode, timeout time.Duration) error {
	if j.bglMode == nil {
		return fmt.Errorf("programming error: node lock acquired without BGL")
	}
	if err := j.checkLevel(LevelNode); err != nil {
		return err
	}
	names, err := j.mgr.node.AcquireAll(ctx, mode, timeout)
	if err != nil {
		return err
	}
	j.nodes = names
	j.nodeMode = mode
	return nil
}

// AcquireAllInstances acquires every currently registered instance.
func (j *Job) AcquireAllInstances(ctx context.Context, mode Mode, timeout time.Duration) error {
	if j.bglMode == nil {
		return fmt.Errorf("programming error: instance lock acquired without BGL")
	}
	if err := j.checkLevel(LevelInstance); err != nil {
		return err
	}
	names, err := j.mgr.instance.AcquireAll(ctx, mode, timeout)
	if err != nil {
		return err
	}
	j.instances = names
	j.instMode = mode
	return nil
}

// Release releases every lock this job holds, in reverse level order
// (node, then instance, then cluster), matching the processor's
// step 6 "release locks (reverse order)."
func (j *Job) Release() {
	if len(j.nodes) > 0 {
		j.mgr.node.ReleaseMany(j.nodes, j.nodeMode)
		j.nodes = nil
	}
	if len(j.instances) > 0 {
		j.mgr.instance.ReleaseMany(j.instances, j.instMode)
		j.instances = nil
	}
	if j.bglMode != nil {
		j.mgr.cluster.Release(bglName, *j.bglMode)
		j.bglMode = nil
	}
}
