// Package exec abstracts running external commands so that packages driving
// git, the overlay mounter and the agent can be tested without them.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	osexec "os/exec"
	"strings"
	"syscall"

	perrors "github.com/whot/papagai/internal/errors"
	"github.com/whot/papagai/internal/logger"
)

// CommandExecutor runs external commands synchronously.
//
// Every method returns a *errors.CommandError when the command could not be
// started or exited with a non-zero status.
type CommandExecutor interface {
	// Run executes the command and returns stdout and stderr separately.
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)
	// Output executes the command and returns stdout.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// CombinedOutput executes the command and returns stdout and stderr interleaved.
	CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// Attached executes the command with the process' stdin, stdout and
	// stderr so the user can watch it.
	Attached(ctx context.Context, dir, name string, args ...string) error
}

// RealExecutor runs commands with os/exec.
type RealExecutor struct {
	// Env is appended to the inherited environment.
	Env []string
}

// NewRealExecutor returns an executor that runs real processes.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

func (e *RealExecutor) command(ctx context.Context, dir, name string, args ...string) *osexec.Cmd {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	logger.Debug("exec: %s %s (dir=%s)", name, strings.Join(args, " "), dir)
	return cmd
}

func (e *RealExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := e.command(ctx, dir, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), commandError(dir, name, args, stderr.Bytes(), err)
}

func (e *RealExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	stdout, _, err := e.Run(ctx, dir, name, args...)
	return stdout, err
}

func (e *RealExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := e.command(ctx, dir, name, args...)
	out, err := cmd.CombinedOutput()
	return out, commandError(dir, name, args, out, err)
}

func (e *RealExecutor) Attached(ctx context.Context, dir, name string, args ...string) error {
	cmd := e.command(ctx, dir, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return commandError(dir, name, args, nil, cmd.Run())
}

func commandError(dir, name string, args []string, stderr []byte, err error) error {
	if err == nil {
		return nil
	}
	ce := &perrors.CommandError{
		Args:     append([]string{name}, args...),
		Dir:      dir,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(string(stderr)),
		Err:      err,
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitStatus(exitErr)
	}
	return ce
}

// exitStatus returns the exit code of a finished process, reporting death by
// signal the way a shell does (128+signal). -1 is left for processes that
// never ran.
func exitStatus(exitErr *osexec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// IsNotFound reports whether err means the command binary does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, osexec.ErrNotFound)
}

// LookPath reports whether name is an executable on PATH.
func LookPath(name string) (string, error) {
	return osexec.LookPath(name)
}
