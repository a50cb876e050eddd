// Package worktree materializes isolated copies of a repository for the
// agent to work in, exports the resulting branch back into the canonical
// repository and tears the copy down again.
//
// Two backends exist. The checkout backend uses git's linked worktrees,
// which share the canonical object store. The overlay backend mounts a
// copy-on-write view with fuse-overlayfs so nothing the agent does reaches
// the canonical repository until the work branch is explicitly fetched.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/whot/papagai/internal/branch"
	"github.com/whot/papagai/internal/config"
	perrors "github.com/whot/papagai/internal/errors"
	pexec "github.com/whot/papagai/internal/exec"
	"github.com/whot/papagai/internal/git"
)

// Kind identifies an isolation backend.
type Kind string

const (
	KindCheckout Kind = "checkout"
	KindOverlay  Kind = "overlay"
)

// Spec describes how to build an isolated copy. It is not modified once
// handed to a backend.
type Spec struct {
	BaseBranch string
	Kind       Kind
	// Root is the directory isolation artifacts are placed under. The
	// checkout backend defaults to the repository root, the overlay backend
	// to its cache root.
	Root string
	Keep bool
}

// Worktree is a live isolated copy.
type Worktree struct {
	Kind    Kind
	Path    string // working copy the agent runs in
	Branch  string
	BaseSHA string
	Repo    git.Repository
	Keep    bool

	// runDir holds the overlay layers and mount point, below cacheDir.
	runDir   string
	cacheDir string
	exported bool
	tornDown bool
}

// Exported reports whether the work branch has been made visible in the
// canonical repository.
func (w *Worktree) Exported() bool {
	return w != nil && w.exported
}

// Backend is the lifecycle contract every isolation variant implements.
type Backend interface {
	Kind() Kind
	// Materialize creates an isolated copy checked out on name, started
	// from spec.BaseBranch. On failure nothing is left behind.
	Materialize(ctx context.Context, repo git.Repository, spec Spec, name branch.Name) (*Worktree, error)
	// Export makes the work branch visible in the canonical repository.
	Export(ctx context.Context, wt *Worktree) error
	// Teardown releases the isolated copy. It is idempotent and tolerates
	// half-created or manually altered worktrees.
	Teardown(ctx context.Context, wt *Worktree) error
}

// lookPath is swapped in tests.
var lookPath = pexec.LookPath

// OverlaySupported reports whether fuse-overlayfs is installed.
func OverlaySupported() bool {
	_, err := lookPath("fuse-overlayfs")
	return err == nil
}

// Select returns the backend for an isolation mode. Auto picks the overlay
// backend when fuse-overlayfs is installed and the checkout backend
// otherwise.
func Select(isolation string, svc *git.GitService, cacheRoot string) (Backend, error) {
	switch isolation {
	case config.IsolationWorktree:
		return NewCheckoutBackend(svc), nil
	case config.IsolationOverlay:
		if !OverlaySupported() {
			return nil, perrors.InvalidInput("worktree.Select",
				"fuse-overlayfs is not available; install it or use --isolation=worktree")
		}
		return NewOverlayBackend(svc, cacheRoot), nil
	case config.IsolationAuto, "":
		if OverlaySupported() {
			return NewOverlayBackend(svc, cacheRoot), nil
		}
		return NewCheckoutBackend(svc), nil
	default:
		return nil, perrors.InvalidInput("worktree.Select", fmt.Sprintf("invalid isolation mode %q", isolation))
	}
}

// removeEmptyParents removes dir and its ancestors while they are empty,
// stopping at stop.
func removeEmptyParents(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && isWithin(dir, stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			return
		}
	}
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && rel != ".." && !filepath.IsAbs(rel) && !startsWithDotDot(rel)
}

func startsWithDotDot(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
