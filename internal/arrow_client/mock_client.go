package arrow_client

import (
	"context"
	"sync"

	"github.com/23skdu/longbow-bmm/internal/results"
)

// MockFlightClient is an in-memory Publisher for testing
type MockFlightClient struct {
	mu        sync.RWMutex
	connected bool
	tables    map[string][]results.Record
}

func NewMockFlightClient() *MockFlightClient {
	return &MockFlightClient{
		tables: make(map[string][]results.Record),
	}
}

func (m *MockFlightClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockFlightClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// PutTable stores a copy of the table rows under name.
func (m *MockFlightClient) PutTable(ctx context.Context, name string, table *results.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.tables[name] = table.Rows()
	return nil
}

// Get returns the rows stored under name.
func (m *MockFlightClient) Get(name string) ([]results.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[name]
	return rows, ok
}

func (m *MockFlightClient) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}
