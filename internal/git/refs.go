package git

import (
	"context"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/whot/papagai/internal/logger"
)

// Read-only ref queries go through go-git, which avoids a process per
// branch when purge walks the namespace. Repositories go-git cannot open
// (unsupported extensions, for instance) fall back to the git command line.

func openRepo(dir string) (*gogit.Repository, error) {
	return gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
}

// ListBranches returns the local branches whose names start with prefix,
// sorted by name.
func (s *GitService) ListBranches(ctx context.Context, dir, prefix string) ([]string, error) {
	repo, err := openRepo(dir)
	if err != nil {
		logger.Debug("git: go-git open failed, using for-each-ref: %v", err)
		return s.listBranchesCLI(ctx, dir, prefix)
	}

	iter, err := repo.Branches()
	if err != nil {
		return s.listBranchesCLI(ctx, dir, prefix)
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return s.listBranchesCLI(ctx, dir, prefix)
	}
	sort.Strings(names)
	return names, nil
}

func (s *GitService) listBranchesCLI(ctx context.Context, dir, prefix string) ([]string, error) {
	out, err := s.run(ctx, "git.ListBranches", dir, "for-each-ref", "--format=%(refname:short)", "refs/heads/"+prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" && strings.HasPrefix(line, prefix) {
			names = append(names, line)
		}
	}
	sort.Strings(names)
	return names, nil
}

// BranchTip returns the commit id of refs/heads/name, or "" if the branch
// does not exist.
func (s *GitService) BranchTip(ctx context.Context, dir, name string) (string, error) {
	if repo, err := openRepo(dir); err == nil {
		ref, err := repo.Reference(plumbing.NewBranchReferenceName(name), true)
		if err == plumbing.ErrReferenceNotFound {
			return "", nil
		}
		if err == nil {
			return ref.Hash().String(), nil
		}
	}

	ok, err := s.BranchExists(ctx, dir, name)
	if err != nil || !ok {
		return "", err
	}
	return s.RevParse(ctx, dir, "refs/heads/"+name)
}

// IsAncestor reports whether commit ancestor is reachable from descendant.
// A commit is its own ancestor.
func (s *GitService) IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error) {
	ok, err := isAncestorGoGit(dir, ancestor, descendant)
	if err == nil {
		return ok, nil
	}
	logger.Debug("git: go-git ancestry check failed, using merge-base: %v", err)
	return s.check(ctx, "git.IsAncestor", dir, "merge-base", "--is-ancestor", ancestor, descendant)
}

func isAncestorGoGit(dir, ancestor, descendant string) (bool, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return false, err
	}
	a, err := commitFor(repo, ancestor)
	if err != nil {
		return false, err
	}
	d, err := commitFor(repo, descendant)
	if err != nil {
		return false, err
	}
	if a.Hash == d.Hash {
		return true, nil
	}
	return a.IsAncestor(d)
}

func commitFor(repo *gogit.Repository, rev string) (*object.Commit, error) {
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, err
	}
	return repo.CommitObject(*h)
}
