// Package lifecycle drives one papagai run: materialize an isolated copy,
// run the agent in it, export the work branch, optionally reconcile it into
// a target and always tear the copy down.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/chainguard-dev/clog"

	"github.com/whot/papagai/internal/agent"
	"github.com/whot/papagai/internal/branch"
	perrors "github.com/whot/papagai/internal/errors"
	"github.com/whot/papagai/internal/git"
	"github.com/whot/papagai/internal/reconcile"
	"github.com/whot/papagai/internal/worktree"
)

// LeftoverCommitMessage is used to commit changes the agent did not commit.
const LeftoverCommitMessage = "FIXME: changes left in worktree"

// Request describes a run.
type Request struct {
	Repo   git.Repository
	Spec   worktree.Spec
	Prefix string // branch name prefix inside the papagai namespace

	Instructions string
	AllowedTools []string

	// Target is the branch to reconcile into. Empty skips reconciliation,
	// reconcile.CurrentBranch means the branch checked out at invocation.
	Target string
	DryRun bool
}

// Outcome reports what a run did.
type Outcome struct {
	Branch    string
	Path      string
	States    []State // every state entered, in order
	AgentExit int
	Exported  bool
	Reconcile *reconcile.Result
	Latest    bool // papagai/latest now points at Branch
}

// Final returns the last state entered.
func (o Outcome) Final() State {
	if len(o.States) == 0 {
		return StateCreated
	}
	return o.States[len(o.States)-1]
}

// Reached reports whether s was entered.
func (o Outcome) Reached(s State) bool {
	return slices.Contains(o.States, s)
}

// Manager runs requests against one backend.
type Manager struct {
	git        *git.GitService
	backend    worktree.Backend
	runner     agent.Runner
	reconciler *reconcile.Reconciler
	hook       func(State, Outcome)
}

// Option configures a Manager.
type Option func(*Manager)

// WithStateHook calls fn every time a run enters a state.
func WithStateHook(fn func(State, Outcome)) Option {
	return func(m *Manager) {
		m.hook = fn
	}
}

// NewManager returns a manager. reconciler may be nil if no request asks
// for a target.
func NewManager(svc *git.GitService, backend worktree.Backend, runner agent.Runner, reconciler *reconcile.Reconciler, opts ...Option) *Manager {
	m := &Manager{git: svc, backend: backend, runner: runner, reconciler: reconciler}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes req. Teardown runs on every path once materialize
// succeeded, including cancellation, and its failure never masks an
// earlier error. The latest pointer moves only if the branch was exported.
func (m *Manager) Run(ctx context.Context, req Request) (out Outcome, err error) {
	const op = perrors.Op("lifecycle.Run")
	log := clog.FromContext(ctx)
	enter := func(s State) {
		out.States = append(out.States, s)
		log.Debugf("state %s", s)
		if m.hook != nil {
			m.hook(s, out)
		}
	}
	enter(StateCreated)

	name, err := branch.Generate(req.Spec.BaseBranch, req.Prefix)
	if err != nil {
		enter(StateFailed)
		return out, err
	}
	out.Branch = name.String()
	log = log.With("branch", out.Branch)
	ctx = clog.WithLogger(ctx, log)

	wt, err := m.backend.Materialize(ctx, req.Repo, req.Spec, name)
	if err != nil {
		enter(StateFailed)
		return out, perrors.E(op, err)
	}
	out.Path = wt.Path
	enter(StateMaterialized)

	defer func() {
		// Cleanup must outlive cancellation of ctx.
		cctx := context.WithoutCancel(ctx)
		if terr := m.backend.Teardown(cctx, wt); terr != nil {
			log.Errorf("teardown of %s failed: %v", wt.Path, terr)
		} else {
			enter(StateTornDown)
		}
		if wt.Exported() {
			if lerr := m.git.ForceBranch(cctx, req.Repo.Root, branch.Latest(), out.Branch); lerr != nil {
				log.Errorf("failed to update %s: %v", branch.Latest(), lerr)
			} else {
				out.Latest = true
			}
		}
		if err != nil {
			enter(StateFailed)
		}
	}()

	prompt := RenderPrompt(req.Instructions, req.Spec.BaseBranch, out.Branch)
	tools := slices.Clone(req.AllowedTools)
	res, runErr := m.runner.Run(ctx, agent.Invocation{
		Dir:          wt.Path,
		Prompt:       prompt,
		AllowedTools: tools,
		DryRun:       req.DryRun,
	})
	cancelled := ctx.Err() != nil
	if runErr != nil && !cancelled {
		return out, perrors.E(op, runErr)
	}
	out.AgentExit = res.ExitCode
	if !cancelled {
		enter(StateAgentRan)
		if res.ExitCode != 0 {
			log.Warnf("agent exited with status %d; exporting whatever it committed", res.ExitCode)
		}
	}
	if req.DryRun {
		return out, nil
	}

	// After an interrupt, salvage the work before tearing down.
	ectx := ctx
	if cancelled {
		ectx = context.WithoutCancel(ctx)
		log.Warnf("interrupted; exporting %s before cleanup", out.Branch)
	}
	m.commitLeftovers(ectx, wt)
	if err := m.backend.Export(ectx, wt); err != nil {
		return out, perrors.E(op, err)
	}
	out.Exported = true
	enter(StateExported)

	if cancelled {
		return out, ctx.Err()
	}

	if req.Target != "" {
		if m.reconciler == nil {
			return out, perrors.E(op, perrors.KindInvalid, errors.New("no reconciler configured"))
		}
		r, err := m.reconciler.Reconcile(ctx, req.Repo, out.Branch, req.Target)
		out.Reconcile = &r
		if err != nil {
			return out, err
		}
		enter(StateReconciled)
	}
	return out, nil
}

// commitLeftovers commits anything the agent left uncommitted so it is
// exported too. Failures are logged; the committed work is still exported.
func (m *Manager) commitLeftovers(ctx context.Context, wt *worktree.Worktree) {
	log := clog.FromContext(ctx)
	dirty, err := m.git.HasChanges(ctx, wt.Path)
	if err != nil {
		log.Warnf("checking %s for uncommitted changes: %v", wt.Path, err)
		return
	}
	if !dirty {
		return
	}
	log.Warnf("uncommitted changes found in worktree, committing them")
	if err := m.git.CommitAll(ctx, wt.Path, LeftoverCommitMessage); err != nil {
		log.Errorf("%v", fmt.Errorf("failed to commit uncommitted changes in %s: %w", wt.Path, err))
	}
}
