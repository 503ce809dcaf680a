package kafka_producer

import (
	"context"
	"sync"
)

// MockPublisher records updates instead of sending them.
type MockPublisher struct {
	mu      sync.Mutex
	updates []StoreUpdate
	err     error
	closed  bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{updates: make([]StoreUpdate, 0)}
}

func (m *MockPublisher) PublishUpdate(ctx context.Context, update StoreUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.updates = append(m.updates, update)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetError makes every following publish fail with err. Pass nil to clear.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockPublisher) Updates() []StoreUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoreUpdate(nil), m.updates...)
}

func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = make([]StoreUpdate, 0)
	m.err = nil
	m.closed = false
}
