package exec

import (
	"context"
	"slices"
	"sync"

	perrors "github.com/whot/papagai/internal/errors"
)

// MockResponse is a scripted result for a matched command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// MockCall records one command executed through a MockExecutor.
type MockCall struct {
	Dir  string
	Name string
	Args []string
}

type mockRule struct {
	name   string
	args   []string
	exact  bool
	resp   MockResponse
	handle func(MockCall) MockResponse
}

func (r mockRule) matches(c MockCall) bool {
	if r.name != c.Name {
		return false
	}
	if r.exact {
		return slices.Equal(r.args, c.Args)
	}
	return len(c.Args) >= len(r.args) && slices.Equal(r.args, c.Args[:len(r.args)])
}

// MockExecutor returns scripted responses and records every call. Rules are
// matched in the order they were added. Unmatched commands succeed with empty
// output unless a fallback executor was given.
type MockExecutor struct {
	mu       sync.Mutex
	rules    []mockRule
	calls    []MockCall
	fallback CommandExecutor
}

// NewMockExecutor creates a mock executor. If fallback is non-nil, unmatched
// commands are passed through to it.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{fallback: fallback}
}

// AddExactMatch scripts the response for name invoked with exactly args.
func (m *MockExecutor) AddExactMatch(name string, args []string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{name: name, args: args, exact: true, resp: resp})
}

// AddPrefixMatch scripts the response for name invoked with args starting with prefix.
func (m *MockExecutor) AddPrefixMatch(name string, prefix []string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{name: name, args: prefix, resp: resp})
}

// AddHandler computes the response for name invoked with args starting with prefix.
func (m *MockExecutor) AddHandler(name string, prefix []string, fn func(MockCall) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{name: name, args: prefix, handle: fn})
}

// GetCalls returns a copy of the recorded calls.
func (m *MockExecutor) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallsTo returns the recorded calls of the named command.
func (m *MockExecutor) CallsTo(name string) []MockCall {
	var out []MockCall
	for _, c := range m.GetCalls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockExecutor) lookup(dir, name string, args []string) (MockResponse, bool) {
	call := MockCall{Dir: dir, Name: name, Args: slices.Clone(args)}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	rules := slices.Clone(m.rules)
	m.mu.Unlock()

	for _, r := range rules {
		if !r.matches(call) {
			continue
		}
		if r.handle != nil {
			return r.handle(call), true
		}
		return r.resp, true
	}
	return MockResponse{}, false
}

func (m *MockExecutor) normalize(dir, name string, args []string, resp MockResponse) error {
	if resp.Err == nil {
		return nil
	}
	if _, ok := resp.Err.(*perrors.CommandError); ok {
		return resp.Err
	}
	return &perrors.CommandError{
		Args:     append([]string{name}, args...),
		Dir:      dir,
		ExitCode: 1,
		Stderr:   string(resp.Stderr),
		Err:      resp.Err,
	}
}

func (m *MockExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	resp, ok := m.lookup(dir, name, args)
	if !ok && m.fallback != nil {
		return m.fallback.Run(ctx, dir, name, args...)
	}
	return resp.Stdout, resp.Stderr, m.normalize(dir, name, args, resp)
}

func (m *MockExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	resp, ok := m.lookup(dir, name, args)
	if !ok && m.fallback != nil {
		return m.fallback.Output(ctx, dir, name, args...)
	}
	return resp.Stdout, m.normalize(dir, name, args, resp)
}

func (m *MockExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	resp, ok := m.lookup(dir, name, args)
	if !ok && m.fallback != nil {
		return m.fallback.CombinedOutput(ctx, dir, name, args...)
	}
	return append(slices.Clone(resp.Stdout), resp.Stderr...), m.normalize(dir, name, args, resp)
}

func (m *MockExecutor) Attached(ctx context.Context, dir, name string, args ...string) error {
	resp, ok := m.lookup(dir, name, args)
	if !ok && m.fallback != nil {
		return m.fallback.Attached(ctx, dir, name, args...)
	}
	return m.normalize(dir, name, args, resp)
}
