// Package agent runs the coding agent inside an isolated working copy.
// Only the exit status is captured; the agent hands its work back through
// commits.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"al.essio.dev/pkg/shellescape"

	perrors "github.com/whot/papagai/internal/errors"
	pexec "github.com/whot/papagai/internal/exec"
	"github.com/whot/papagai/internal/logger"
)

// DefaultAllowedTools is the base set of tools the agent may use without
// asking. Instruction files can add to it.
var DefaultAllowedTools = []string{
	"Glob",
	"Grep",
	"Read",
	"Bash(git status)",
	"Bash(git diff:*)",
	"Bash(git log:*)",
	"Bash(git show:*)",
	"Bash(git add:*)",
	"Bash(git commit:*)",
	"Bash(uv :*)",
	"Bash(pytest3 :*)",
	"Edit(./**)",
	"Write(./**)",
}

// Invocation describes one agent run.
type Invocation struct {
	Dir          string
	Prompt       string
	AllowedTools []string
	DryRun       bool
}

// Result is the outcome of a run. A non-zero ExitCode is not an error.
type Result struct {
	ExitCode int
	DryRun   bool
}

// Runner runs the agent.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ClaudeRunner runs the claude CLI in print mode with the terminal attached.
type ClaudeRunner struct {
	command  string
	executor pexec.CommandExecutor
	out      io.Writer
}

// NewClaudeRunner returns a runner for the given command. Dry runs print to out.
func NewClaudeRunner(command string, e pexec.CommandExecutor, out io.Writer) *ClaudeRunner {
	if out == nil {
		out = os.Stdout
	}
	return &ClaudeRunner{command: command, executor: e, out: out}
}

// Args returns the command-line arguments for inv.
func (r *ClaudeRunner) Args(inv Invocation) []string {
	return []string{"--allowed-tools", strings.Join(inv.AllowedTools, " "), "-p", inv.Prompt}
}

func (r *ClaudeRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	log := logger.ComponentLogger("agent")
	args := r.Args(inv)

	if inv.DryRun {
		argv := append([]string{r.command}, args...)
		fmt.Fprintf(r.out, "Would execute command:\n  cd %s\n  %s\n", shellescape.Quote(inv.Dir), shellescape.QuoteCommand(argv))
		return Result{DryRun: true}, nil
	}

	log.Info("starting agent", "command", r.command, "dir", inv.Dir, "tools", len(inv.AllowedTools))
	err := r.executor.Attached(ctx, inv.Dir, r.command, args...)
	if err == nil {
		return Result{}, nil
	}
	if ctx.Err() != nil {
		return Result{ExitCode: -1}, ctx.Err()
	}
	if pexec.IsNotFound(err) {
		return Result{ExitCode: -1}, perrors.AgentNotFound(r.command, err)
	}
	// Death by signal arrives as 128+signal; only a process that never ran
	// has no exit status.
	code := perrors.ExitCode(err)
	if code < 0 {
		return Result{ExitCode: code}, perrors.AgentNotFound(r.command, err)
	}
	log.Warn("agent exited non-zero", "code", code)
	return Result{ExitCode: code}, nil
}
