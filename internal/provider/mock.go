package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockResponse scripts one mock analysis outcome.
type MockResponse struct {
	// Finding is returned on success. Ignored when Err is set.
	Finding *RawFinding

	// Err fails the call.
	Err error

	// Delay is waited before responding; the call fails with the context
	// error if the deadline fires first.
	Delay time.Duration
}

// MockProvider returns scripted responses per role. Used in tests and in
// the offline one-shot mode. Responses for a role are consumed in order;
// the last one repeats once the script is exhausted.
type MockProvider struct {
	mu        sync.Mutex
	responses map[string][]MockResponse
	calls     map[string]int
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		responses: make(map[string][]MockResponse),
		calls:     make(map[string]int),
	}
}

// Script appends scripted responses for a role.
func (p *MockProvider) Script(role string, responses ...MockResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[role] = append(p.responses[role], responses...)
}

// ScriptFinding is a shorthand to script a single successful finding.
func (p *MockProvider) ScriptFinding(role string, confidence float64, action string) {
	p.Script(role, MockResponse{
		Finding: &RawFinding{
			Confidence: confidence,
			Action:     action,
			Evidence:   fmt.Sprintf("scripted %s analysis", role),
		},
	})
}

// Calls returns how many times a role has been invoked.
func (p *MockProvider) Calls(role string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[role]
}

// Analyze implements Provider.Analyze.
func (p *MockProvider) Analyze(ctx context.Context, req Request) (*RawFinding, error) {
	p.mu.Lock()
	script := p.responses[req.Role]
	idx := p.calls[req.Role]
	p.calls[req.Role]++
	p.mu.Unlock()

	if len(script) == 0 {
		return nil, fmt.Errorf("no scripted response for role %q", req.Role)
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	resp := script[idx]

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Finding, nil
}

// Name implements Provider.Name.
func (p *MockProvider) Name() string {
	return "mock"
}
