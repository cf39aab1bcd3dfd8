package db

import (
	"context"
	"strings"
	"sync"
)

// MockGateway is a configurable mock implementation of Gateway for use in
// tests. It allows setting up expected return values, tracking executed
// statements, and injecting errors for testing failure paths.
type MockGateway struct {
	mu sync.RWMutex

	// ExecuteFunc is called by Execute if set. When nil, Execute records
	// the statement and returns nil.
	ExecuteFunc func(ctx context.Context, stmt string) error

	// QueryIntFunc is called by QueryInt if set. When nil, QueryInt
	// records the statement and returns 0.
	QueryIntFunc func(ctx context.Context, stmt string) (int64, error)

	// QueryFunc is called by Query if set. When nil, Query records the
	// statement and returns nil without producing rows.
	QueryFunc func(ctx context.Context, stmt string, fn func(Scanner) error) error

	// Call tracking
	ExecuteCalls  []string
	QueryIntCalls []string
	QueryCalls    []string
}

// Execute records the statement and delegates to ExecuteFunc if set.
func (m *MockGateway) Execute(ctx context.Context, stmt string) error {
	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, stmt)
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, stmt)
	}
	return nil
}

// QueryInt records the statement and delegates to QueryIntFunc if set.
func (m *MockGateway) QueryInt(ctx context.Context, stmt string) (int64, error) {
	m.mu.Lock()
	m.QueryIntCalls = append(m.QueryIntCalls, stmt)
	m.mu.Unlock()

	if m.QueryIntFunc != nil {
		return m.QueryIntFunc(ctx, stmt)
	}
	return 0, nil
}

// Query records the statement and delegates to QueryFunc if set.
func (m *MockGateway) Query(ctx context.Context, stmt string, fn func(Scanner) error) error {
	m.mu.Lock()
	m.QueryCalls = append(m.QueryCalls, stmt)
	m.mu.Unlock()

	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, stmt, fn)
	}
	return nil
}

// Executed reports whether any executed statement contains the substring.
func (m *MockGateway) Executed(substr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.ExecuteCalls {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

var _ Gateway = (*MockGateway)(nil)
