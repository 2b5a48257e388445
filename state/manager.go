// Package state implements the per-key state manager and window manager
// (C7, §4.6): a map of (step_id, key) → StateCell created lazily on first
// item and destroyed on discard fate or partition reassignment, plus
// window assignment/merging/firing for the reduce_window family.
//
// The per-key table is generalized from the teacher's
// runtime/registry.MemoryCache TTL-map shape: FlowCore's cells never
// expire on a timer the way a schema cache entry does, so the
// background-refresh goroutine and TTL bookkeeping are dropped and only
// the guarded-map pattern survives.
package state

import (
	"sync"

	"github.com/flowcore-dev/flowcore/primitive"
)

// CellKey identifies a StateCell by the owning step and the item key.
type CellKey struct {
	StepID string
	Key    string
}

// Manager owns every live UnaryLogic instance for a worker, keyed by
// (step_id, key). It is safe for concurrent use, though the engine's
// single-threaded scheduler (§4.5, §5) only ever calls it from one
// goroutine per worker; the lock exists so recovery snapshotting (which
// may run on a separate goroutine awaiting epoch barrier acks) can read
// consistently.
type Manager struct {
	mu    sync.RWMutex
	cells map[CellKey]primitive.UnaryLogic
}

// NewManager creates an empty state manager.
func NewManager() *Manager {
	return &Manager{cells: make(map[CellKey]primitive.UnaryLogic)}
}

// GetOrCreate returns the live UnaryLogic for (stepID, key), lazily
// constructing one via build with no resume state if this is the first
// item seen for the key (§4.6 "Cells are created lazily on first item").
func (m *Manager) GetOrCreate(stepID, key string, build primitive.LogicBuilder) primitive.UnaryLogic {
	ck := CellKey{StepID: stepID, Key: key}
	m.mu.RLock()
	logic, ok := m.cells[ck]
	m.mu.RUnlock()
	if ok {
		return logic
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if logic, ok = m.cells[ck]; ok {
		return logic
	}
	logic = build(stepID, key, nil)
	m.cells[ck] = logic
	return logic
}

// Restore constructs a UnaryLogic for (stepID, key) from a previously
// captured snapshot, used when a worker resumes from a committed epoch
// (§4.7). It overwrites any existing live cell for the key.
func (m *Manager) Restore(stepID, key string, build primitive.LogicBuilder, snapshot any) primitive.UnaryLogic {
	m.mu.Lock()
	defer m.mu.Unlock()
	logic := build(stepID, key, snapshot)
	m.cells[CellKey{StepID: stepID, Key: key}] = logic
	return logic
}

// Discard removes the cell for (stepID, key), e.g. after a Discard fate
// or a partition reassignment.
func (m *Manager) Discard(stepID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cells, CellKey{StepID: stepID, Key: key})
}

// DiscardStep removes every live cell owned by stepID. The engine does
// not call it: it never reassigns partitions during a run.
func (m *Manager) DiscardStep(stepID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ck := range m.cells {
		if ck.StepID == stepID {
			delete(m.cells, ck)
		}
	}
}

// Snapshot captures snapshot bytes-equivalent opaque values for every
// live cell, keyed by CellKey, for the recovery coordinator to persist
// alongside source cursors at an epoch boundary (§4.6, §4.7). A nil
// value from a logic's Snapshot() is omitted, matching "None permitted
// to indicate no state" (§4.1).
func (m *Manager) Snapshot() map[CellKey]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[CellKey]any, len(m.cells))
	for ck, logic := range m.cells {
		if v := logic.Snapshot(); v != nil {
			out[ck] = v
		}
	}
	return out
}

// Len reports the number of live cells. The engine does not record it as
// a metric.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells)
}

// Keys returns the set of keys with a live cell under stepID, used by the
// engine's end-of-run flush to call OnEOF on every live cell.
func (m *Manager) Keys(stepID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for ck := range m.cells {
		if ck.StepID == stepID {
			keys = append(keys, ck.Key)
		}
	}
	return keys
}

// Logic returns the live logic for (stepID, key), or nil if no cell
// exists.
func (m *Manager) Logic(stepID, key string) primitive.UnaryLogic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cells[CellKey{StepID: stepID, Key: key}]
}
