package store

import (
	"context"
	"sync"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// MockRunStore is a configurable mock implementation of RunStore for use in
// tests. It allows setting up expected return values, tracking method calls,
// and injecting errors for testing error paths.
type MockRunStore struct {
	mu sync.RWMutex

	// CreateRunFunc is called by CreateRun if set.
	CreateRunFunc func(ctx context.Context, run migration.MigrationRun) error

	// GetRunFunc is called by GetRun if set.
	GetRunFunc func(ctx context.Context, id string) (migration.MigrationRun, error)

	// GetActiveRunFunc is called by GetActiveRun if set.
	GetActiveRunFunc func(ctx context.Context, identity migration.TableIdentity) (migration.MigrationRun, error)

	// UpdatePhaseFunc is called by UpdatePhase if set.
	UpdatePhaseFunc func(ctx context.Context, id string, phase migration.Phase) error

	// FlagOperatorActionFunc is called by FlagOperatorAction if set.
	FlagOperatorActionFunc func(ctx context.Context, id string) error

	// AppendGateResultsFunc is called by AppendGateResults if set.
	AppendGateResultsFunc func(ctx context.Context, id string, results []migration.GateResult) error

	// ListRunsFunc is called by ListRuns if set.
	ListRunsFunc func(ctx context.Context, identity migration.TableIdentity) ([]migration.MigrationRun, error)

	// Call tracking
	CreateRunCalls          []migration.MigrationRun
	GetRunCalls             []string
	GetActiveRunCalls       []migration.TableIdentity
	UpdatePhaseCalls        []UpdatePhaseCall
	FlagOperatorActionCalls []string
	AppendGateResultsCalls  []AppendGateResultsCall
	ListRunsCalls           []migration.TableIdentity
}

// UpdatePhaseCall records the arguments of one UpdatePhase call.
type UpdatePhaseCall struct {
	ID    string
	Phase migration.Phase
}

// AppendGateResultsCall records the arguments of one AppendGateResults call.
type AppendGateResultsCall struct {
	ID      string
	Results []migration.GateResult
}

// CreateRun records the call and delegates to CreateRunFunc if set.
func (m *MockRunStore) CreateRun(ctx context.Context, run migration.MigrationRun) error {
	m.mu.Lock()
	m.CreateRunCalls = append(m.CreateRunCalls, run)
	m.mu.Unlock()

	if m.CreateRunFunc != nil {
		return m.CreateRunFunc(ctx, run)
	}
	return nil
}

// GetRun records the call and delegates to GetRunFunc if set.
func (m *MockRunStore) GetRun(ctx context.Context, id string) (migration.MigrationRun, error) {
	m.mu.Lock()
	m.GetRunCalls = append(m.GetRunCalls, id)
	m.mu.Unlock()

	if m.GetRunFunc != nil {
		return m.GetRunFunc(ctx, id)
	}
	return migration.MigrationRun{}, migration.ErrRunNotFound
}

// GetActiveRun records the call and delegates to GetActiveRunFunc if set.
func (m *MockRunStore) GetActiveRun(ctx context.Context, identity migration.TableIdentity) (migration.MigrationRun, error) {
	m.mu.Lock()
	m.GetActiveRunCalls = append(m.GetActiveRunCalls, identity)
	m.mu.Unlock()

	if m.GetActiveRunFunc != nil {
		return m.GetActiveRunFunc(ctx, identity)
	}
	return migration.MigrationRun{}, migration.ErrRunNotFound
}

// UpdatePhase records the call and delegates to UpdatePhaseFunc if set.
func (m *MockRunStore) UpdatePhase(ctx context.Context, id string, phase migration.Phase) error {
	m.mu.Lock()
	m.UpdatePhaseCalls = append(m.UpdatePhaseCalls, UpdatePhaseCall{ID: id, Phase: phase})
	m.mu.Unlock()

	if m.UpdatePhaseFunc != nil {
		return m.UpdatePhaseFunc(ctx, id, phase)
	}
	return nil
}

// FlagOperatorAction records the call and delegates to FlagOperatorActionFunc if set.
func (m *MockRunStore) FlagOperatorAction(ctx context.Context, id string) error {
	m.mu.Lock()
	m.FlagOperatorActionCalls = append(m.FlagOperatorActionCalls, id)
	m.mu.Unlock()

	if m.FlagOperatorActionFunc != nil {
		return m.FlagOperatorActionFunc(ctx, id)
	}
	return nil
}

// AppendGateResults records the call and delegates to AppendGateResultsFunc if set.
func (m *MockRunStore) AppendGateResults(ctx context.Context, id string, results []migration.GateResult) error {
	m.mu.Lock()
	m.AppendGateResultsCalls = append(m.AppendGateResultsCalls, AppendGateResultsCall{ID: id, Results: results})
	m.mu.Unlock()

	if m.AppendGateResultsFunc != nil {
		return m.AppendGateResultsFunc(ctx, id, results)
	}
	return nil
}

// ListRuns records the call and delegates to ListRunsFunc if set.
func (m *MockRunStore) ListRuns(ctx context.Context, identity migration.TableIdentity) ([]migration.MigrationRun, error) {
	m.mu.Lock()
	m.ListRunsCalls = append(m.ListRunsCalls, identity)
	m.mu.Unlock()

	if m.ListRunsFunc != nil {
		return m.ListRunsFunc(ctx, identity)
	}
	return nil, nil
}

var _ RunStore = (*MockRunStore)(nil)
