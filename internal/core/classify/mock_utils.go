package classify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockLLMClient answers every prompt with Response, or with Respond when set.
type MockLLMClient struct {
	Response string
	Err      error
	Respond  func(prompt string) (string, error)
	Delay    time.Duration

	mu       sync.Mutex
	Prompts  []string
	inflight atomic.Int32
	MaxSeen  atomic.Int32
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		cur := m.MaxSeen.Load()
		if n <= cur || m.MaxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.Respond != nil {
		return m.Respond(prompt)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
