package schema

import (
	"context"
	"sync"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// MockDiscovery is a configurable mock implementation of Discovery for use
// in tests.
type MockDiscovery struct {
	mu sync.RWMutex

	// DescribeFunc is called by Describe if set. When nil, Describe
	// returns Metadata.
	DescribeFunc func(ctx context.Context, table migration.TableIdentity) (TableMetadata, error)

	// Metadata is returned by Describe when DescribeFunc is nil.
	Metadata TableMetadata

	// DescribeCalls records the tables Describe was called with.
	DescribeCalls []migration.TableIdentity
}

// Describe records the call and delegates to DescribeFunc if set.
func (m *MockDiscovery) Describe(ctx context.Context, table migration.TableIdentity) (TableMetadata, error) {
	m.mu.Lock()
	m.DescribeCalls = append(m.DescribeCalls, table)
	m.mu.Unlock()

	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, table)
	}
	return m.Metadata, nil
}

var _ Discovery = (*MockDiscovery)(nil)
