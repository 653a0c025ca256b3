package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Set is a named collection of Locks belonging to one level (instance or
// node). Adding a name is safe at any time; removing one requires the
// caller already hold it exclusively, matching : "removing a
// lock requires holding it exclusively or holding nothing at that
// level."
type Set struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

// NewSet creates an empty lock set.
func NewSet() *Set {
	return &Set{locks: make(map[string]*Lock)}
}

// Add registers name in the set if not already present. A no-op if name
// already exists.
func (s *Set) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[name]; !ok {
		s.locks[name] = newLock(name)
	}
}

// Remove deletes name from the set, waiting (up to timeout, 0 = forever)
// to acquire it exclusively first so no concurrent holder is surprised.
func (s *Set) Remove(ctx context.Context, name string, timeout time.Duration) error {
	l := s.get(name)
	if l == nil {
		return nil
	}
	if err := l.Delete(ctx, timeout); err != nil {
		return fmt.Errorf("remove lock %s: %w", name, err)
	}

	s.mu.Lock()
	delete(s.locks, name)
	s.mu.Unlock()
	return nil
}

func (s *Set) get(name string) *Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[name]
}

func (s *Set) getOrCreate(name string) *Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = newLock(name)
		s.locks[name] = l
	}
	return l
}

// Names returns the set's current member names, sorted.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.locks))
	for n := range s.locks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Acquire acquires one named lock in mode. The name need not already
// exist in the set; acquiring auto-registers it, matching 
// lazy-creation convention for map-backed registries (e.g.
// pkg/events.Broker's subscriber map).
func (s *Set) Acquire(ctx context.Context, name string, mode Mode, timeout time.Duration) error {
	return s.getOrCreate(name).Acquire(ctx, mode, timeout)
}

// Release releases one named lock held in mode.
func (s *Set) Release(name string, mode Mode) {
	if l := s.get(name); l != nil {
		l.Release(mode)
	}
}

// AcquireMany acquires every name in names, in sorted order, all in mode.
// On any failure it releases everything already acquired and returns the
// error, so a timed-out acquire never leaves a partial hold behind.
func (s *Set) AcquireMany(ctx context.Context, names []string, mode Mode, timeout time.Duration) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	acquired := make([]string, 0, len(sorted))
	for _, name := range sorted {
		if err := s.Acquire(ctx, name, mode, timeout); err != nil {
			for _, done := range acquired {
				s.Release(done, mode)
			}
			return fmt.Errorf("acquire %s %s: %w", mode, name, err)
		}
		acquired = append(acquired, name)
	}
	return nil
}

// ReleaseMany releases every name in names, held in mode.
func (s *Set) ReleaseMany(names []string, mode Mode) {
	for _, name := range names {
		s.Release(name, mode)
	}
}

// AcquireAll acquires every name currently registered in the set, in
// sorted order, all in mode — the "shared all" / "exclusive all" pattern
// VerifyCluster and AddNode use over the instance and node levels.
func (s *Set) AcquireAll(ctx context.Context, mode Mode, timeout time.Duration) ([]string, error) {
	names := s.Names()
	if err := s.AcquireMany(ctx, names, mode, timeout); err != nil {
		return nil, err
	}
	return names, nil
}
