// Package purge finds and removes artifacts papagai leaves behind: work
// branches, linked worktrees, overlay run directories and lower-layer
// caches.
package purge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/whot/papagai/internal/branch"
	perrors "github.com/whot/papagai/internal/errors"
	"github.com/whot/papagai/internal/git"
	"github.com/whot/papagai/internal/worktree"
)

// Kind is the type of a purge candidate.
type Kind string

const (
	KindWorktree Kind = "worktree"
	KindOverlay  Kind = "overlay"
	KindBranch   Kind = "branch"
	KindCache    Kind = "cache"
)

// order is the deletion order: copies go before the branches they have
// checked out.
var order = []Kind{KindWorktree, KindOverlay, KindBranch, KindCache}

// Candidate is one artifact that can be purged.
type Candidate struct {
	Kind  Kind
	Name  string // branch name, or cache key
	Path  string // empty for branches
	InUse bool
	// Reason explains why an in-use candidate is in use.
	Reason string
}

func (c Candidate) String() string {
	if c.Path != "" && c.Kind != KindBranch {
		return fmt.Sprintf("%s %s (%s)", c.Kind, c.Name, c.Path)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Name)
}

// Options select what to scan for and how to purge it.
type Options struct {
	Branches  bool
	Worktrees bool
	Overlays  bool
	Cache     bool // lower-layer caches; off by default

	DryRun bool
	Force  bool // purge in-use candidates too
}

// DefaultOptions purges branches, worktrees and overlays.
func DefaultOptions() Options {
	return Options{Branches: true, Worktrees: true, Overlays: true}
}

// Operator scans and purges the artifacts of one repository.
type Operator struct {
	git       *git.GitService
	checkout  worktree.Backend
	overlay   worktree.Backend
	cacheRoot string
}

// New returns an operator looking for overlay artifacts below cacheRoot.
func New(svc *git.GitService, cacheRoot string) *Operator {
	return &Operator{
		git:       svc,
		checkout:  worktree.NewCheckoutBackend(svc),
		overlay:   worktree.NewOverlayBackend(svc, cacheRoot),
		cacheRoot: cacheRoot,
	}
}

// Scan lists the candidates selected by opts. It never modifies anything.
func (o *Operator) Scan(ctx context.Context, repo git.Repository, opts Options) ([]Candidate, error) {
	const op = perrors.Op("purge.Scan")

	var (
		worktrees []git.WorktreeInfo
		runs      []worktree.OverlayRun
		branches  []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		worktrees, err = o.git.ListWorktrees(gctx, repo.Root)
		return err
	})
	if opts.Overlays || opts.Cache {
		g.Go(func() error {
			var err error
			runs, err = worktree.OverlayRuns(o.cacheRoot, repo.Root)
			return err
		})
	}
	if opts.Branches {
		g.Go(func() error {
			var err error
			branches, err = o.git.ListBranches(gctx, repo.Root, branch.Namespace+"/")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, perrors.E(op, err)
	}

	var out []Candidate
	// branch -> path of the worktree that has it checked out and stays
	pinned := map[string]string{}
	for i, wt := range worktrees {
		// The first entry is the main worktree. Work branches are only
		// checked out by papagai itself; latest may be checked out anywhere.
		work := branch.InNamespace(wt.Branch) && wt.Branch != branch.Latest()
		isolated := i > 0 && !wt.Bare && (work || isIsolated(repo, wt.Path))
		if !isolated {
			if wt.Branch != "" {
				pinned[wt.Branch] = wt.Path
			}
			continue
		}
		c := Candidate{Kind: KindWorktree, Name: wt.Branch, Path: wt.Path}
		if c.Name == "" {
			c.Name = filepath.Base(wt.Path)
		}
		c.InUse, c.Reason = worktreeInUse(wt)
		if opts.Worktrees {
			out = append(out, c)
		}
		if wt.Branch != "" && (c.InUse || !opts.Worktrees) {
			pinned[wt.Branch] = wt.Path
		}
	}

	live := map[string]int{}
	for _, run := range runs {
		c := Candidate{Kind: KindOverlay, Name: run.Branch, Path: run.Dir}
		if run.Mounted && worktree.OwnerAlive(run.Owner) {
			c.InUse = true
			c.Reason = fmt.Sprintf("mounted by running pid %d", run.Owner)
			live[run.Branch] = run.Owner
		}
		if opts.Overlays {
			out = append(out, c)
		}
	}

	for _, b := range branches {
		if b == repo.Branch {
			continue
		}
		c := Candidate{Kind: KindBranch, Name: b}
		if path, ok := pinned[b]; ok {
			c.InUse = true
			c.Reason = "checked out in " + path
		} else if pid, ok := live[b]; ok {
			c.InUse = true
			c.Reason = fmt.Sprintf("in use by running pid %d", pid)
		}
		out = append(out, c)
	}

	if opts.Cache {
		caches, err := o.scanCaches(repo, len(live) > 0)
		if err != nil {
			return nil, perrors.E(op, err)
		}
		out = append(out, caches...)
	}
	clog.FromContext(ctx).Debugf("found %d purge candidates", len(out))
	return out, nil
}

func (o *Operator) scanCaches(repo git.Repository, busy bool) ([]Candidate, error) {
	root := worktree.LowerRoot(o.cacheRoot, repo.Root)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.E(perrors.KindIO, err)
	}
	var out []Candidate
	for _, e := range entries {
		// Half-built clones from a crashed run are candidates too.
		if !e.IsDir() {
			continue
		}
		c := Candidate{Kind: KindCache, Name: e.Name(), Path: filepath.Join(root, e.Name())}
		if busy {
			c.InUse = true
			c.Reason = "overlays of this repository are mounted"
		}
		out = append(out, c)
	}
	return out, nil
}

// isIsolated reports whether path is below the repository's isolation
// directory.
func isIsolated(repo git.Repository, path string) bool {
	rel, err := filepath.Rel(filepath.Join(repo.Root, branch.Namespace), path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func worktreeInUse(wt git.WorktreeInfo) (bool, string) {
	if !wt.Locked {
		return false, ""
	}
	pid, ok := worktree.ParseLockReason(wt.LockReason)
	if !ok {
		if wt.LockReason == "" {
			return true, "locked"
		}
		return true, "locked: " + wt.LockReason
	}
	if worktree.OwnerAlive(pid) {
		return true, fmt.Sprintf("locked by running pid %d", pid)
	}
	return false, ""
}

// Purge removes candidates in dependency order. Each candidate is handled
// independently; failures are collected into a partial failure error and
// never roll back earlier deletions. In-use candidates are skipped unless
// opts.Force is set. With opts.DryRun nothing is modified.
func (o *Operator) Purge(ctx context.Context, repo git.Repository, candidates []Candidate, opts Options) (*Report, error) {
	log := clog.FromContext(ctx)
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		return slices.Index(order, a.Kind) - slices.Index(order, b.Kind)
	})

	report := &Report{DryRun: opts.DryRun}
	var failures []perrors.ItemError
	for _, c := range sorted {
		e := Entry{Candidate: c}
		switch {
		case c.InUse && !opts.Force:
			e.Status = StatusSkipped
		case opts.DryRun:
			e.Status = StatusPending
		default:
			log.Infof("removing %s", c)
			if err := o.remove(ctx, repo, c); err != nil {
				log.Warnf("failed to remove %s: %v", c, err)
				e.Status = StatusFailed
				e.Err = err
				failures = append(failures, perrors.ItemError{Item: c.String(), Err: err})
			} else {
				e.Status = StatusRemoved
			}
		}
		report.Entries = append(report.Entries, e)
	}

	if !opts.DryRun {
		o.removeEmptyCache(repo)
	}
	if len(failures) > 0 {
		return report, perrors.PurgePartialFailure(failures)
	}
	return report, nil
}

func (o *Operator) remove(ctx context.Context, repo git.Repository, c Candidate) error {
	switch c.Kind {
	case KindWorktree:
		return o.checkout.Teardown(ctx, worktree.Adopt(worktree.KindCheckout, repo, c.Name, c.Path, o.cacheRoot))
	case KindOverlay:
		return o.overlay.Teardown(ctx, worktree.Adopt(worktree.KindOverlay, repo, c.Name, c.Path, o.cacheRoot))
	case KindBranch:
		return o.git.DeleteBranch(ctx, repo.Root, c.Name)
	case KindCache:
		if err := os.RemoveAll(c.Path); err != nil {
			return perrors.E(perrors.KindIO, err)
		}
		return nil
	default:
		return perrors.InvalidInput("purge.remove", "unknown candidate kind "+string(c.Kind))
	}
}

// removeEmptyCache drops the repository's cache directories once nothing is
// left in them.
func (o *Operator) removeEmptyCache(repo git.Repository) {
	_ = os.Remove(worktree.LowerRoot(o.cacheRoot, repo.Root))
	_ = os.Remove(worktree.RepoCacheDir(o.cacheRoot, repo.Root))
}
