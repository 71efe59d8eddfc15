// Package model provides core.ModelBackend adapters for hosted inference
// providers plus a scripted mock for tests. The pipeline treats inference as
// an opaque call: prompt in, raw text out; parsing and retries live in the
// orchestrator.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkestra-ai/arkestra/core"
)

// MockBackend is a scripted in-memory backend for tests and examples. Each
// Invoke consumes the next scripted reply; Fail entries produce errors.
type MockBackend struct {
	mu      sync.Mutex
	replies []MockReply
	calls   []core.PromptRequest
	next    int
}

// MockReply is one scripted response.
type MockReply struct {
	Text string
	Err  error
}

// NewMockBackend creates a backend that replays the given replies in order.
// When the script runs out the last reply repeats.
func NewMockBackend(replies ...MockReply) *MockBackend {
	return &MockBackend{replies: replies}
}

// Invoke implements core.ModelBackend.
func (m *MockBackend) Invoke(ctx context.Context, req core.PromptRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.replies) == 0 {
		return "", fmt.Errorf("mock backend has no scripted replies")
	}
	idx := m.next
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	m.next++
	r := m.replies[idx]
	return r.Text, r.Err
}

// Calls returns every request seen so far.
func (m *MockBackend) Calls() []core.PromptRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.PromptRequest(nil), m.calls...)
}

// CallCount returns how many times Invoke was called.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
