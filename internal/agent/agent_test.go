package agent

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	perrors "github.com/whot/papagai/internal/errors"
	pexec "github.com/whot/papagai/internal/exec"
)

func TestClaudeRunner_Args(t *testing.T) {
	r := NewClaudeRunner("claude", pexec.NewMockExecutor(nil), nil)
	got := r.Args(Invocation{Prompt: "do it", AllowedTools: []string{"Read", "Bash(git log:*)"}})
	want := []string{"--allowed-tools", "Read Bash(git log:*)", "-p", "do it"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}
}

func TestClaudeRunner_Run(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	r := NewClaudeRunner("claude", mock, nil)

	res, err := r.Run(context.Background(), Invocation{Dir: "/wt", Prompt: "p", AllowedTools: DefaultAllowedTools})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}

	calls := mock.CallsTo("claude")
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if calls[0].Dir != "/wt" {
		t.Errorf("agent dir = %q, want /wt", calls[0].Dir)
	}
}

func TestClaudeRunner_NonZeroExitIsAdvisory(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddPrefixMatch("claude", nil, pexec.MockResponse{
		Err: &perrors.CommandError{Args: []string{"claude"}, ExitCode: 2},
	})
	r := NewClaudeRunner("claude", mock, nil)

	res, err := r.Run(context.Background(), Invocation{Dir: "/wt", Prompt: "p"})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for non-zero exit", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
}

func TestClaudeRunner_NotFound(t *testing.T) {
	r := NewClaudeRunner("papagai-no-such-agent", pexec.NewRealExecutor(), nil)

	_, err := r.Run(context.Background(), Invocation{Dir: t.TempDir(), Prompt: "p"})
	if err == nil {
		t.Fatal("Run() expected error for missing agent")
	}
	if !perrors.Is(err, perrors.KindAgent) {
		t.Errorf("error kind = %v, want %v", perrors.GetKind(err), perrors.KindAgent)
	}
}

func TestClaudeRunner_Cancelled(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddPrefixMatch("claude", nil, pexec.MockResponse{Err: errors.New("signal: killed")})
	r := NewClaudeRunner("claude", mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, Invocation{Dir: "/wt", Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestClaudeRunner_DryRun(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	var out bytes.Buffer
	r := NewClaudeRunner("claude", mock, &out)

	res, err := r.Run(context.Background(), Invocation{
		Dir:          "/tmp/my repo",
		Prompt:       "fix it's bug",
		AllowedTools: []string{"Read", "Grep"},
		DryRun:       true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.DryRun {
		t.Error("Result.DryRun should be set")
	}
	if len(mock.GetCalls()) != 0 {
		t.Error("dry run must not execute anything")
	}

	want := "Would execute command:\n  cd '/tmp/my repo'\n  claude --allowed-tools 'Read Grep' -p 'fix it'\"'\"'s bug'\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("dry-run output mismatch (-want +got):\n%s", diff)
	}
}

func TestClaudeRunner_KilledBySignalIsAdvisory(t *testing.T) {
	mock := pexec.NewMockExecutor(nil)
	mock.AddPrefixMatch("claude", nil, pexec.MockResponse{
		Err: &perrors.CommandError{Args: []string{"claude"}, ExitCode: 137},
	})
	r := NewClaudeRunner("claude", mock, nil)

	res, err := r.Run(context.Background(), Invocation{Dir: "/wt", Prompt: "p"})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for a killed agent", err)
	}
	if res.ExitCode != 137 {
		t.Errorf("ExitCode = %d, want 137", res.ExitCode)
	}
}
