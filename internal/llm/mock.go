package llm

import (
	"context"
	"sync"
	"time"
)

// MockClient is a scriptable Client for tests and offline runs. Responses
// are returned in order; when the script runs out it falls back to the
// Default reply or an empty string.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	Default   string

	// Delay is slept before every reply to simulate model latency.
	Delay time.Duration

	// Calls records every request for assertion.
	Calls []CompletionRequest
}

// NewMockClient creates a mock that replies with the given responses in
// order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// FailWith makes the next call return err.
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

// Provider identifies this client in logs and metrics.
func (m *MockClient) Provider() string { return "mock" }

// Complete replays the scripted responses.
func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}
	return m.Default, nil
}
