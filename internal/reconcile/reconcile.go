// Package reconcile brings an exported work branch into a target branch of
// the canonical repository. It fast-forwards when it can, creates the target
// when it is missing and, if allowed, merges. It never resolves conflicts and
// never rewrites history: on conflict the target is left untouched and the
// work stays available in the source branch.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"

	"github.com/whot/papagai/internal/branch"
	"github.com/whot/papagai/internal/config"
	perrors "github.com/whot/papagai/internal/errors"
	"github.com/whot/papagai/internal/git"
)

// CurrentBranch, as a target, names the branch checked out when papagai
// was invoked.
const CurrentBranch = "."

// Strategy selects what happens when the target cannot be fast-forwarded.
type Strategy string

const (
	// FastForwardOnly refuses anything but a fast-forward.
	FastForwardOnly Strategy = config.MergeFastForward
	// Merge creates a merge commit on the target.
	Merge Strategy = config.MergeCommit
)

// Action is what Reconcile did to the target.
type Action string

const (
	ActionCreated       Action = "created"
	ActionFastForwarded Action = "fast-forwarded"
	ActionMerged        Action = "merged"
	ActionUpToDate      Action = "up-to-date"
	ActionConflict      Action = "conflict"
)

// Result describes a reconciliation.
type Result struct {
	Source string
	Target string
	Action Action
	Before string // target tip before, empty if it did not exist
	After  string // target tip after
}

// Reconciler merges work branches into targets.
type Reconciler struct {
	git      *git.GitService
	strategy Strategy
}

// New returns a reconciler using strategy. An empty strategy means
// FastForwardOnly.
func New(svc *git.GitService, strategy Strategy) *Reconciler {
	if strategy == "" {
		strategy = FastForwardOnly
	}
	return &Reconciler{git: svc, strategy: strategy}
}

// Strategy returns the configured strategy.
func (r *Reconciler) Strategy() Strategy {
	return r.strategy
}

// ResolveTarget maps the "." and empty targets to the branch checked out at
// invocation.
func ResolveTarget(repo git.Repository, target string) (string, error) {
	if target != "" && target != CurrentBranch {
		return target, nil
	}
	if repo.Branch == "" {
		return "", perrors.InvalidInput("reconcile.ResolveTarget", "HEAD is detached; there is no current branch to reconcile into")
	}
	return repo.Branch, nil
}

// Reconcile brings source into target.
func (r *Reconciler) Reconcile(ctx context.Context, repo git.Repository, source, target string) (Result, error) {
	const op = perrors.Op("reconcile.Reconcile")
	log := clog.FromContext(ctx)

	target, err := ResolveTarget(repo, target)
	if err != nil {
		return Result{}, err
	}
	if err := branch.Validate(target); err != nil {
		return Result{}, perrors.E(op, perrors.KindInvalid, fmt.Sprintf("invalid target branch %q", target), err)
	}
	res := Result{Source: source, Target: target}

	src, err := r.git.BranchTip(ctx, repo.Root, source)
	if err != nil {
		return res, perrors.E(op, err)
	}
	if src == "" {
		return res, perrors.InvalidInput(op, fmt.Sprintf("source branch %s does not exist", source))
	}

	dst, err := r.git.BranchTip(ctx, repo.Root, target)
	if err != nil {
		return res, perrors.E(op, err)
	}
	res.Before = dst

	if dst == "" {
		log.Infof("creating %s at %s", target, source)
		if err := r.git.CreateBranch(ctx, repo.Root, target, src); err != nil {
			return res, perrors.E(op, err)
		}
		res.Action, res.After = ActionCreated, src
		return res, nil
	}

	if contained, err := r.git.IsAncestor(ctx, repo.Root, src, dst); err != nil {
		return res, perrors.E(op, err)
	} else if contained {
		res.Action, res.After = ActionUpToDate, dst
		return res, nil
	}

	ff, err := r.git.IsAncestor(ctx, repo.Root, dst, src)
	if err != nil {
		return res, perrors.E(op, err)
	}
	if !ff && r.strategy == FastForwardOnly {
		res.Action, res.After = ActionConflict, dst
		return res, perrors.ReconcileConflict(source, target, "branches have diverged and only fast-forward is allowed")
	}

	checkedOut, err := r.git.CheckedOutBranches(ctx, repo.Root)
	if err != nil {
		return res, perrors.E(op, err)
	}
	wtPath, isCheckedOut := checkedOut[target]

	switch {
	case ff && isCheckedOut:
		log.Infof("fast-forwarding %s in %s", target, wtPath)
		if err := r.git.Merge(ctx, wtPath, source, true); err != nil {
			res.Action, res.After = ActionConflict, dst
			return res, perrors.ReconcileConflict(source, target, fmt.Sprintf("fast-forward failed: %v", err))
		}
		res.Action = ActionFastForwarded
	case ff:
		log.Infof("fast-forwarding %s", target)
		if err := r.git.UpdateRef(ctx, repo.Root, target, src, dst); err != nil {
			return res, perrors.E(op, err)
		}
		res.Action = ActionFastForwarded
	case isCheckedOut:
		log.Infof("merging %s into %s in %s", source, target, wtPath)
		if err := r.merge(ctx, wtPath, source, target); err != nil {
			res.Action, res.After = ActionConflict, dst
			return res, err
		}
		res.Action = ActionMerged
	default:
		log.Infof("merging %s into %s in a temporary worktree", source, target)
		if err := r.mergeDetached(ctx, repo, source, target); err != nil {
			res.Action, res.After = ActionConflict, dst
			return res, err
		}
		res.Action = ActionMerged
	}

	res.After, err = r.git.BranchTip(ctx, repo.Root, target)
	if err != nil {
		return res, perrors.E(op, err)
	}
	return res, nil
}

// merge runs a merge in dir and aborts it on failure.
func (r *Reconciler) merge(ctx context.Context, dir, source, target string) error {
	err := r.git.Merge(ctx, dir, source, false)
	if err == nil {
		return nil
	}

	actx := context.WithoutCancel(ctx)
	if inProgress, _ := r.git.MergeInProgress(actx, dir); inProgress {
		if aerr := r.git.MergeAbort(actx, dir); aerr != nil {
			clog.FromContext(ctx).Errorf("git merge --abort in %s failed: %v", dir, aerr)
		}
		return perrors.ReconcileConflict(source, target, "merge conflict")
	}
	return perrors.ReconcileConflict(source, target, fmt.Sprintf("merge failed: %v", err))
}

// mergeDetached merges in a temporary linked worktree checked out on target,
// for targets not checked out anywhere.
func (r *Reconciler) mergeDetached(ctx context.Context, repo git.Repository, source, target string) error {
	const op = perrors.Op("reconcile.mergeDetached")

	tmp, err := os.MkdirTemp("", "papagai-merge-")
	if err != nil {
		return perrors.E(op, perrors.KindIO, err)
	}
	dir := filepath.Join(tmp, "worktree")
	defer func() {
		cctx := context.WithoutCancel(ctx)
		if err := r.git.RemoveWorktree(cctx, repo.Root, dir); err != nil {
			clog.FromContext(ctx).Warnf("removing merge worktree %s: %v", dir, err)
		}
		os.RemoveAll(tmp)
		_ = r.git.PruneWorktrees(cctx, repo.Root)
	}()

	if err := r.git.AddWorktreeForBranch(ctx, repo.Root, dir, target); err != nil {
		return perrors.E(op, err)
	}
	return r.merge(ctx, dir, source, target)
}
