// Package memory provides an in-process recovery.Store for tests, the
// way the teacher ships both a real and an in-memory registry cache
// backend side by side.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowcore-dev/flowcore/recovery"
)

// Store holds every committed snapshot in process memory. The zero value
// is not usable; use New.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]map[int64]recovery.Snapshot
	committed map[string]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		snapshots: make(map[string]map[int64]recovery.Snapshot),
		committed: make(map[string]int64),
	}
}

// Commit implements recovery.Store.
func (s *Store) Commit(_ context.Context, snap recovery.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEpoch, ok := s.snapshots[snap.FlowID]
	if !ok {
		byEpoch = make(map[int64]recovery.Snapshot)
		s.snapshots[snap.FlowID] = byEpoch
	}
	byEpoch[snap.Epoch] = snap
	s.committed[snap.FlowID] = snap.Epoch
	return nil
}

// CommittedEpoch implements recovery.Store.
func (s *Store) CommittedEpoch(_ context.Context, flowID string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	epoch, ok := s.committed[flowID]
	return epoch, ok, nil
}

// Load implements recovery.Store.
func (s *Store) Load(_ context.Context, flowID string, epoch int64) (recovery.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byEpoch, ok := s.snapshots[flowID]
	if !ok {
		return recovery.Snapshot{}, fmt.Errorf("memory store: no snapshots for flow %q", flowID)
	}
	snap, ok := byEpoch[epoch]
	if !ok {
		return recovery.Snapshot{}, fmt.Errorf("memory store: flow %q has no snapshot at epoch %d", flowID, epoch)
	}
	return snap, nil
}
