package agent

import (
	"context"
	"slices"
	"sync"
)

// MockRunner is a test double for Runner that doesn't spawn real processes.
// OnRun, if set, runs in place of the agent and can make commits in
// inv.Dir.
type MockRunner struct {
	mu          sync.Mutex
	invocations []Invocation

	ExitCode int
	Err      error
	OnRun    func(ctx context.Context, inv Invocation) error
}

// NewMockRunner creates a mock runner that exits with code.
func NewMockRunner(code int) *MockRunner {
	return &MockRunner{ExitCode: code}
}

func (m *MockRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	m.mu.Lock()
	m.invocations = append(m.invocations, inv)
	m.mu.Unlock()

	if inv.DryRun {
		return Result{DryRun: true}, nil
	}
	if m.OnRun != nil {
		if err := m.OnRun(ctx, inv); err != nil {
			return Result{ExitCode: -1}, err
		}
	}
	if m.Err != nil {
		return Result{ExitCode: -1}, m.Err
	}
	return Result{ExitCode: m.ExitCode}, nil
}

// GetInvocations returns a copy of the recorded invocations.
func (m *MockRunner) GetInvocations() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.invocations)
}
