// Package readiness holds the process-wide diagnostics report and the gate derived from it.
package readiness

import (
	"sync"

	"sidecar-supervisor/internal/domain"
)

// snapshot pairs a report with the gate computed from it. Both are
// replaced together so readers never see a mismatched pair.
type snapshot struct {
	gate   bool
	report *domain.DiagnosticsReport
}

// Store is the single-writer, many-reader readiness state.
type Store struct {
	mu    sync.RWMutex
	state snapshot
}

// NewStore returns a store in the "not run" state: no report, gate closed.
func NewStore() *Store {
	return &Store{}
}

// Get returns the gate and a private copy of the latest report (nil before the first run).
func (s *Store) Get() (bool, *domain.DiagnosticsReport) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state.report == nil {
		return state.gate, nil
	}
	report := state.report.Clone()
	return state.gate, &report
}

// IsReady is a cheap read of the gate.
func (s *Store) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.gate
}

// Set replaces the stored report and recomputes the gate from it.
func (s *Store) Set(report domain.DiagnosticsReport) bool {
	stored := report.Clone()
	next := snapshot{
		gate:   stored.Status == domain.DiagnosticsStatusOK,
		report: &stored,
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	return next.gate
}
