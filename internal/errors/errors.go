// Package errors provides structured error types for papagai.
// These errors provide context about what operation failed and where.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindIO
	KindConfig
	KindGit
	KindBackend
	KindConflict
	KindPartial
	KindAgent
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid input"
	case KindIO:
		return "I/O error"
	case KindConfig:
		return "configuration error"
	case KindGit:
		return "git error"
	case KindBackend:
		return "backend error"
	case KindConflict:
		return "reconcile conflict"
	case KindPartial:
		return "partial failure"
	case KindAgent:
		return "agent error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown error"
	}
}

// Error is the structured error type for papagai.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind. The outermost *Error with a
// non-zero Kind wins, so wrapping a backend error in an op-only error keeps it
// a backend error.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return KindUnknown
		}
		if e.Kind != KindUnknown {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// CommandError describes an external command that exited unsuccessfully.
type CommandError struct {
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (c *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", strings.Join(c.Args, " "), c.ExitCode)
	if c.Stderr != "" {
		msg += ": " + c.Stderr
	}
	return msg
}

func (c *CommandError) Unwrap() error {
	return c.Err
}

// ExitCode extracts the exit status carried by a CommandError, or -1.
func ExitCode(err error) int {
	var c *CommandError
	if errors.As(err, &c) {
		return c.ExitCode
	}
	return -1
}

// ConflictError is returned when a source branch cannot be reconciled into
// its target. Source is still valid and holds all of the work.
type ConflictError struct {
	Source string
	Target string
	Reason string
}

func (c *ConflictError) Error() string {
	return fmt.Sprintf("cannot reconcile %s into %s: %s; resolve manually, work is available in branch %s",
		c.Source, c.Target, c.Reason, c.Source)
}

// ItemError pairs a failed item with its error.
type ItemError struct {
	Item string
	Err  error
}

// PartialFailure aggregates the failures of a best-effort bulk operation.
type PartialFailure struct {
	Failures []ItemError
}

func (p *PartialFailure) Error() string {
	parts := make([]string, 0, len(p.Failures))
	for _, f := range p.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Item, f.Err))
	}
	return fmt.Sprintf("%d item(s) failed: %s", len(p.Failures), strings.Join(parts, "; "))
}

// Input errors
func InvalidInput(op Op, reason string) error {
	return E(op, KindInvalid, reason)
}

// Backend errors
func BackendFailed(op Op, cmdErr *CommandError) error {
	return E(op, KindBackend, cmdErr)
}

// Reconcile errors
func ReconcileConflict(source, target, reason string) error {
	return E(Op("reconcile.Reconcile"), KindConflict, &ConflictError{Source: source, Target: target, Reason: reason})
}

// Purge errors
func PurgePartialFailure(failures []ItemError) error {
	return E(Op("purge.Purge"), KindPartial, &PartialFailure{Failures: failures})
}

// Config errors
func ConfigLoadFailed(path string, err error) error {
	return E(Op("config.Load"), KindConfig, fmt.Sprintf("failed to load config from %s", path), err)
}

func ConfigInvalid(reason string) error {
	return E(Op("config.Validate"), KindConfig, reason)
}

// Agent errors
func AgentNotFound(name string, err error) error {
	return E(Op("agent.Run"), KindAgent, fmt.Sprintf("agent command '%s' could not be started", name), err)
}
