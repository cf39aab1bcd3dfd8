// Package memory provides an in-memory RunStore, suitable for tests and
// single-process use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// Store is an in-memory implementation of store.RunStore.
type Store struct {
	mu   sync.RWMutex
	runs map[string]migration.MigrationRun
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		runs: make(map[string]migration.MigrationRun),
	}
}

// CreateRun persists a new run record.
func (s *Store) CreateRun(ctx context.Context, run migration.MigrationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.UpdatedAt = run.CreatedAt
	s.runs[run.ID] = run

	return nil
}

// GetRun returns a run by ID.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (migration.MigrationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return migration.MigrationRun{}, migration.ErrRunNotFound
	}
	return run, nil
}

// GetActiveRun returns the non-terminal run for an identity, if any.
// Returns migration.ErrRunNotFound if no active run exists.
func (s *Store) GetActiveRun(ctx context.Context, identity migration.TableIdentity) (migration.MigrationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		if run.Identity == identity && run.Phase != migration.PhaseFinalized && run.Phase != migration.PhaseAborted {
			return run, nil
		}
	}
	return migration.MigrationRun{}, migration.ErrRunNotFound
}

// UpdatePhase records a phase transition.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) UpdatePhase(ctx context.Context, id string, phase migration.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return migration.ErrRunNotFound
	}

	run.Phase = phase
	run.UpdatedAt = time.Now()
	s.runs[id] = run

	return nil
}

// FlagOperatorAction marks the run as requiring manual intervention.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) FlagOperatorAction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return migration.ErrRunNotFound
	}

	run.OperatorAction = true
	run.UpdatedAt = time.Now()
	s.runs[id] = run

	return nil
}

// AppendGateResults records gate outcomes for a run.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) AppendGateResults(ctx context.Context, id string, results []migration.GateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return migration.ErrRunNotFound
	}

	run.GateResults = append(run.GateResults, results...)
	s.runs[id] = run

	return nil
}

// ListRuns returns all runs for an identity, oldest first.
func (s *Store) ListRuns(ctx context.Context, identity migration.TableIdentity) ([]migration.MigrationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []migration.MigrationRun
	for _, run := range s.runs {
		if run.Identity == identity {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}
