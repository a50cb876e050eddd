package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/whot/papagai/internal/branch"
	perrors "github.com/whot/papagai/internal/errors"
	pexec "github.com/whot/papagai/internal/exec"
	"github.com/whot/papagai/internal/git"
)

// Names of the per-run directories under <repo cache>/<branch>/.
const (
	upperDirName   = "upperdir"
	workDirName    = "workdir"
	MountedDirName = "mounted"
)

// OverlayBackend isolates work in a fuse-overlayfs mount. The lower layer
// is a shared clone of the canonical repository kept per base branch; each
// run gets its own upper layer and mount point. Only the work branch is
// fetched back on export.
type OverlayBackend struct {
	git       *git.GitService
	exec      pexec.CommandExecutor
	cacheRoot string
	pid       int
}

// NewOverlayBackend returns an overlay backend placing its layers under
// cacheRoot. Mount commands run through the same executor as git.
func NewOverlayBackend(svc *git.GitService, cacheRoot string) *OverlayBackend {
	return &OverlayBackend{
		git:       svc,
		exec:      svc.Executor(),
		cacheRoot: cacheRoot,
		pid:       os.Getpid(),
	}
}

func (b *OverlayBackend) Kind() Kind { return KindOverlay }

// CacheRoot returns the directory lower layers and run directories live in.
func (b *OverlayBackend) CacheRoot() string { return b.cacheRoot }

func (b *OverlayBackend) Materialize(ctx context.Context, repo git.Repository, spec Spec, name branch.Name) (*Worktree, error) {
	const op = perrors.Op("worktree.Materialize")
	log := clog.FromContext(ctx)

	root := spec.Root
	if root == "" {
		root = b.cacheRoot
	}
	if root == "" {
		return nil, perrors.InvalidInput(op, "overlay cache root is not set")
	}

	baseSHA, err := b.git.RevParse(ctx, repo.Root, spec.BaseBranch)
	if err != nil {
		return nil, perrors.E(op, fmt.Sprintf("resolving base branch %s", spec.BaseBranch), err)
	}

	lower := LowerDir(root, repo.Root, spec.BaseBranch)
	runDir := filepath.Join(RepoCacheDir(root, repo.Root), name.String())
	upper := filepath.Join(runDir, upperDirName)
	work := filepath.Join(runDir, workDirName)
	mounted := filepath.Join(runDir, MountedDirName)

	for _, dir := range []string{lower, upper, work} {
		if strings.ContainsAny(dir, ",:") {
			return nil, perrors.InvalidInput(op, fmt.Sprintf("overlay path %s contains ',' or ':'", dir))
		}
	}

	if err := ensureLower(ctx, b.git, repo.Root, lower); err != nil {
		return nil, perrors.E(op, err)
	}

	wt := &Worktree{
		Kind:     KindOverlay,
		Path:     mounted,
		Branch:   name.String(),
		BaseSHA:  baseSHA,
		Repo:     repo,
		Keep:     spec.Keep,
		runDir:   runDir,
		cacheDir: RepoCacheDir(root, repo.Root),
	}
	fail := func(err error) (*Worktree, error) {
		wt.Keep = false
		if cerr := b.Teardown(context.WithoutCancel(ctx), wt); cerr != nil {
			log.Warnf("cleanup after failed materialize: %v", cerr)
		}
		return nil, err
	}

	for _, dir := range []string{upper, work, mounted} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail(perrors.E(op, perrors.KindIO, err))
		}
	}
	if err := writeOwner(runDir, b.pid); err != nil {
		return fail(perrors.E(op, perrors.KindIO, err))
	}

	log.Infof("mounting overlay %s (lower %s)", mounted, lower)
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, work)
	if _, err := b.exec.CombinedOutput(ctx, runDir, "fuse-overlayfs", "-o", opts, mounted); err != nil {
		return fail(commandFailed(op, err))
	}

	// The base commit was resolved in the canonical repository; the shared
	// clone sees its objects through alternates.
	if err := b.git.CheckoutNewBranch(ctx, mounted, wt.Branch, baseSHA); err != nil {
		return fail(perrors.E(op, err))
	}
	return wt, nil
}

// Export fetches the work branch, and nothing else, from the mounted copy
// into the canonical repository.
func (b *OverlayBackend) Export(ctx context.Context, wt *Worktree) error {
	const op = perrors.Op("worktree.Export")
	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", wt.Branch, wt.Branch)

	clog.FromContext(ctx).Infof("fetching %s from %s", wt.Branch, wt.Path)
	if err := b.git.Fetch(ctx, wt.Repo.Root, wt.Path, refspec); err != nil {
		return perrors.E(op, fmt.Sprintf("to retry manually: git fetch %s %s", wt.Path, refspec), err)
	}
	wt.exported = true
	return nil
}

func (b *OverlayBackend) Teardown(ctx context.Context, wt *Worktree) error {
	if wt == nil || wt.tornDown {
		return nil
	}
	const op = perrors.Op("worktree.Teardown")
	log := clog.FromContext(ctx)

	if err := b.unmount(ctx, wt.Path); err != nil {
		return perrors.E(op, err)
	}

	if wt.Keep {
		log.Infof("keeping overlay directory %s", wt.runDir)
		wt.tornDown = true
		return nil
	}

	if wt.runDir != "" {
		if err := os.RemoveAll(wt.runDir); err != nil {
			return perrors.E(op, perrors.KindIO, fmt.Sprintf("to clean up manually: rm -rf %s", wt.runDir), err)
		}
		removeEmptyParents(filepath.Dir(wt.runDir), wt.cacheDir)
	}
	wt.tornDown = true
	return nil
}

// unmount unmounts path if it is mounted. An already unmounted path is not
// an error.
func (b *OverlayBackend) unmount(ctx context.Context, path string) error {
	mounted, err := IsMounted(path)
	if err != nil {
		return perrors.E(perrors.Op("worktree.unmount"), perrors.KindIO, err)
	}
	if !mounted {
		return nil
	}
	return Unmount(ctx, b.exec, path)
}

// Unmount runs fusermount -u on path, tolerating a mount that vanished in
// the meantime.
func Unmount(ctx context.Context, e pexec.CommandExecutor, path string) error {
	const op = perrors.Op("worktree.Unmount")
	_, err := e.CombinedOutput(ctx, "", fusermount(), "-u", path)
	if err == nil {
		return nil
	}
	if still, serr := IsMounted(path); serr == nil && !still {
		return nil
	}
	return perrors.E(op, fmt.Sprintf("to unmount manually: fusermount -u %s", path), commandFailed(op, err))
}

func fusermount() string {
	for _, name := range []string{"fusermount", "fusermount3"} {
		if _, err := lookPath(name); err == nil {
			return name
		}
	}
	return "fusermount"
}

func commandFailed(op perrors.Op, err error) error {
	var ce *perrors.CommandError
	if errors.As(err, &ce) {
		return perrors.BackendFailed(op, ce)
	}
	return perrors.E(op, perrors.KindBackend, err)
}
