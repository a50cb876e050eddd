package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"

	"github.com/whot/papagai/internal/branch"
	perrors "github.com/whot/papagai/internal/errors"
	"github.com/whot/papagai/internal/git"
)

// CheckoutBackend isolates work in a git linked worktree placed at
// <root>/<branch>. The branch lives in the canonical repository from the
// start, so export has nothing to copy.
type CheckoutBackend struct {
	git *git.GitService
	pid int
}

// NewCheckoutBackend returns a checkout backend driving git through svc.
func NewCheckoutBackend(svc *git.GitService) *CheckoutBackend {
	return &CheckoutBackend{git: svc, pid: os.Getpid()}
}

func (b *CheckoutBackend) Kind() Kind { return KindCheckout }

func (b *CheckoutBackend) Materialize(ctx context.Context, repo git.Repository, spec Spec, name branch.Name) (*Worktree, error) {
	const op = perrors.Op("worktree.Materialize")
	log := clog.FromContext(ctx)

	root := spec.Root
	if root == "" {
		root = repo.Root
	}
	path := filepath.Join(root, name.String())

	baseSHA, err := b.git.RevParse(ctx, repo.Root, spec.BaseBranch)
	if err != nil {
		return nil, perrors.E(op, fmt.Sprintf("resolving base branch %s", spec.BaseBranch), err)
	}

	wt := &Worktree{
		Kind:    KindCheckout,
		Path:    path,
		Branch:  name.String(),
		BaseSHA: baseSHA,
		Repo:    repo,
		Keep:    spec.Keep,
	}

	log.Infof("creating worktree %s on branch %s from %s", path, wt.Branch, spec.BaseBranch)
	if err := b.git.AddWorktree(ctx, repo.Root, path, wt.Branch, baseSHA, LockReason(b.pid)); err != nil {
		// git may have created the branch or directory before failing
		wt.Keep = false
		if cerr := b.Teardown(context.WithoutCancel(ctx), wt); cerr != nil {
			log.Warnf("cleanup after failed materialize: %v", cerr)
		}
		return nil, perrors.E(op, err)
	}
	return wt, nil
}

// Export verifies the work branch exists; linked worktrees share refs with
// the canonical repository.
func (b *CheckoutBackend) Export(ctx context.Context, wt *Worktree) error {
	tip, err := b.git.BranchTip(ctx, wt.Repo.Root, wt.Branch)
	if err != nil {
		return perrors.E(perrors.Op("worktree.Export"), err)
	}
	if tip == "" {
		return perrors.E(perrors.Op("worktree.Export"), perrors.KindBackend,
			fmt.Sprintf("branch %s does not exist in %s", wt.Branch, wt.Repo.Root))
	}
	wt.exported = true
	return nil
}

func (b *CheckoutBackend) Teardown(ctx context.Context, wt *Worktree) error {
	if wt == nil || wt.tornDown {
		return nil
	}
	const op = perrors.Op("worktree.Teardown")
	log := clog.FromContext(ctx)
	root := wt.Repo.Root

	// Unlocking fails when the worktree was never created or already unlocked.
	if err := b.git.UnlockWorktree(ctx, root, wt.Path); err != nil {
		log.Debugf("unlock %s: %v", wt.Path, err)
	}

	if wt.Keep {
		log.Infof("keeping worktree %s", wt.Path)
		wt.tornDown = true
		return nil
	}

	if err := b.git.RemoveWorktree(ctx, root, wt.Path); err != nil {
		if _, statErr := os.Stat(wt.Path); statErr == nil {
			return perrors.E(op, fmt.Sprintf("removing worktree %s (to clean up manually: git worktree remove --force %s)", wt.Path, wt.Path), err)
		}
		log.Debugf("worktree %s already gone: %v", wt.Path, err)
	}
	if err := os.RemoveAll(wt.Path); err != nil {
		return perrors.E(op, perrors.KindIO, err)
	}
	removeEmptyParents(filepath.Dir(wt.Path), root)
	if err := b.git.PruneWorktrees(ctx, root); err != nil {
		log.Warnf("git worktree prune: %v", err)
	}

	if err := b.dropUnusedBranch(ctx, wt); err != nil {
		return perrors.E(op, err)
	}
	wt.tornDown = true
	return nil
}

// dropUnusedBranch deletes the work branch if it was never exported and
// still points at the base commit, so a run that did nothing leaves no
// trace. Branches with commits are never deleted here.
func (b *CheckoutBackend) dropUnusedBranch(ctx context.Context, wt *Worktree) error {
	if wt.exported || wt.BaseSHA == "" {
		return nil
	}
	tip, err := b.git.BranchTip(ctx, wt.Repo.Root, wt.Branch)
	if err != nil || tip == "" || tip != wt.BaseSHA {
		return err
	}
	clog.FromContext(ctx).Debugf("deleting unused branch %s", wt.Branch)
	return b.git.DeleteBranch(ctx, wt.Repo.Root, wt.Branch)
}
