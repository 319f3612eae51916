package mock

import (
	"context"
	"sync"
)

// DefaultResponse is returned by MockGenerator when nothing else is configured.
const DefaultResponse = `{"klachten":[{"naam":"Late levering","frequentie":1,"samenvatting":"Klant klaagt over een te late levering."}]}`

// MockGenerator is a test double for ai.Generator.
//
// Behavior, in order of precedence: GenerateFunc if set, then the queued
// Responses (one per call, the last one repeating), then DefaultResponse.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	Responses    []string

	mu      sync.Mutex
	prompts []string
}

// NewMockGenerator creates a generator that replies with responses in order.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{Responses: responses}
}

// Generate records the prompt and returns the configured output.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	call := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	if len(m.Responses) > 0 {
		return m.Responses[min(call, len(m.Responses)-1)], nil
	}
	return DefaultResponse, nil
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt received so far.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Reset clears recorded prompts and injected behavior.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
	m.Responses = nil
	m.GenerateFunc = nil
}
