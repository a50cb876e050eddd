package worktree

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/zeebo/blake3"

	perrors "github.com/whot/papagai/internal/errors"
	"github.com/whot/papagai/internal/git"
)

// lowerDirName holds the long-lived lower layers inside a repository's
// cache directory. Run directories sit next to it, named by branch.
const lowerDirName = ".lower"

func shortHash(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// RepoCacheDir returns the overlay cache directory for the repository at
// root: <cacheRoot>/<basename>-<hash of root>.
func RepoCacheDir(cacheRoot, root string) string {
	return filepath.Join(cacheRoot, filepath.Base(root)+"-"+shortHash(root))
}

// LowerRoot returns the directory holding a repository's lower layers.
func LowerRoot(cacheRoot, root string) string {
	return filepath.Join(RepoCacheDir(cacheRoot, root), lowerDirName)
}

// LowerDir returns the lower layer for a (repository, base branch) pair.
func LowerDir(cacheRoot, root, base string) string {
	return filepath.Join(LowerRoot(cacheRoot, root), shortHash(root, base))
}

// ensureLower creates the lower layer at dir unless it exists. The clone is
// built in a temporary sibling and renamed into place, so a racing peer
// either wins the rename or finds a complete directory.
func ensureLower(ctx context.Context, svc *git.GitService, repoRoot, dir string) error {
	const op = perrors.Op("worktree.ensureLower")
	log := clog.FromContext(ctx)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		log.Debugf("reusing lower layer %s", dir)
		return nil
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return perrors.E(op, perrors.KindIO, err)
	}
	tmp, err := os.MkdirTemp(parent, ".tmp-")
	if err != nil {
		return perrors.E(op, perrors.KindIO, err)
	}
	defer os.RemoveAll(tmp)

	log.Infof("creating lower layer %s", dir)
	if err := svc.CloneShared(ctx, repoRoot, tmp); err != nil {
		return perrors.E(op, err)
	}

	if err := os.Rename(tmp, dir); err != nil {
		if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
			log.Debugf("lower layer %s created concurrently", dir)
			return nil
		}
		if errors.Is(err, os.ErrExist) {
			// A stale, incomplete directory is in the way.
			if rmErr := os.RemoveAll(dir); rmErr == nil && os.Rename(tmp, dir) == nil {
				return nil
			}
		}
		return perrors.E(op, perrors.KindIO, err)
	}
	return nil
}
