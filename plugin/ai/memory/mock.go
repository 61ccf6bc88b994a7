package memory

import (
	"context"
	"sync"

	"github.com/hrygo/groupmind/store"
)

// MockMirror records mirrored memories for tests.
type MockMirror struct {
	mu      sync.Mutex
	records []*store.LongTermMemory
	Err     error
}

// Add implements Mirror.
func (m *MockMirror) Add(ctx context.Context, record *store.LongTermMemory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, record)
	return m.Err
}

// Records returns a copy of everything mirrored so far.
func (m *MockMirror) Records() []*store.LongTermMemory {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*store.LongTermMemory, len(m.records))
	copy(out, m.records)
	return out
}
