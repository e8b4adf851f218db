// Package telemetry holds the latest observed state of every device and the
// per-device receivers that keep it current.
package telemetry

import (
	"sync"

	"github.com/swarmqa/endurance/pkg/core"
)

// Store holds the most recent DeviceState per device.
// Update and Snapshot are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	states map[core.DeviceID]core.DeviceState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		states: make(map[core.DeviceID]core.DeviceState),
	}
}

// Update replaces the stored state for id.
func (s *Store) Update(id core.DeviceID, state core.DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state
}

// Snapshot returns a copy of every device's state taken under one lock,
// so no update is ever partially visible.
func (s *Store) Snapshot() core.FleetSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(core.FleetSnapshot, len(s.states))
	for id, state := range s.states {
		snap[id] = state
	}
	return snap
}

// Latest returns the state of a single device.
func (s *Store) Latest(id core.DeviceID) (core.DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	return state, ok
}

// Len returns the number of devices with at least one sample.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
