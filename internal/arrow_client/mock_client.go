package arrow_client

import (
	"context"
	"sync"
)

// MockPublisher records steps in memory. Used by tests and as a
// no-server fallback.
type MockPublisher struct {
	mu      sync.Mutex
	Steps   []StepTrace
	Flushes int
	Closed  bool
}

func NewMockPublisher() *MockPublisher { return &MockPublisher{} }

func (m *MockPublisher) PublishStep(_ context.Context, step, tokenID int, logits []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Steps = append(m.Steps, StepTrace{
		Step:    step,
		TokenID: tokenID,
		Logits:  append([]float32(nil), logits...),
	})
	return nil
}

func (m *MockPublisher) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flushes++
	return nil
}

func (m *MockPublisher) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
