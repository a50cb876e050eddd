package worktree

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/whot/papagai/internal/git"
)

// Replaced in tests to simulate dead FUSE mounts.
var (
	lstat      = os.Lstat
	mountCheck = IsMounted
)

// OverlayRun is an overlay run directory found in the cache, usually left
// behind by a crashed or kept run.
type OverlayRun struct {
	Branch  string
	Dir     string
	Mounted bool
	Owner   int // 0 when the owner marker is missing or unreadable
}

// MountPath returns the mount point inside the run directory.
func (r OverlayRun) MountPath() string {
	return filepath.Join(r.Dir, MountedDirName)
}

// OverlayRuns lists the run directories in the overlay cache of the
// repository at repoRoot. A missing cache is not an error.
func OverlayRuns(cacheRoot, repoRoot string) ([]OverlayRun, error) {
	base := RepoCacheDir(cacheRoot, repoRoot)
	var runs []OverlayRun
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() || path == base {
			return nil
		}
		if d.Name() == lowerDirName && filepath.Dir(path) == base {
			return filepath.SkipDir
		}
		// A mount whose FUSE daemon died cannot be stat'ed but is still a
		// run, and must not be descended into.
		mnt := filepath.Join(path, MountedDirName)
		mounted, merr := mountCheck(mnt)
		if merr != nil || !mounted {
			if fi, err := lstat(mnt); err != nil || !fi.IsDir() {
				return nil
			}
			mounted = false
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		run := OverlayRun{Branch: filepath.ToSlash(rel), Dir: path, Mounted: mounted}
		if pid, err := ReadOwner(path); err == nil {
			run.Owner = pid
		}
		runs = append(runs, run)
		return filepath.SkipDir
	})
	return runs, err
}

// Adopt returns a Worktree for an isolated copy left on disk, so the
// backend of the given kind can tear it down. For the checkout kind path is
// the linked worktree, for the overlay kind the run directory. The branch
// is never deleted by tearing down an adopted worktree.
func Adopt(kind Kind, repo git.Repository, branchName, path, cacheRoot string) *Worktree {
	wt := &Worktree{Kind: kind, Branch: branchName, Repo: repo, Path: path}
	if kind == KindOverlay {
		wt.runDir = path
		wt.Path = filepath.Join(path, MountedDirName)
		wt.cacheDir = RepoCacheDir(cacheRoot, repo.Root)
	}
	return wt
}
