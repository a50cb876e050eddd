// Package git drives the git command line. Every mutation runs as a git
// subprocess; only exit status and minimal structured output are parsed.
package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	perrors "github.com/whot/papagai/internal/errors"
	pexec "github.com/whot/papagai/internal/exec"
	"github.com/whot/papagai/internal/logger"
)

// GitService runs git commands through a CommandExecutor.
type GitService struct {
	executor pexec.CommandExecutor
}

// NewGitService returns a service backed by real git processes.
func NewGitService() *GitService {
	return &GitService{executor: pexec.NewRealExecutor()}
}

// NewGitServiceWithExecutor returns a service using the given executor.
// This is primarily used for testing.
func NewGitServiceWithExecutor(e pexec.CommandExecutor) *GitService {
	return &GitService{executor: e}
}

// Executor returns the executor commands run through.
func (s *GitService) Executor() pexec.CommandExecutor {
	return s.executor
}

// Repository identifies the canonical repository: its root and the branch
// checked out when papagai was invoked. It is read-only after Open.
type Repository struct {
	Root   string
	Branch string
}

// run executes git in dir and returns trimmed stdout. A failing command is
// reported as a backend error attributed to op.
func (s *GitService) run(ctx context.Context, op perrors.Op, dir string, args ...string) (string, error) {
	out, _, err := s.executor.Run(ctx, dir, "git", args...)
	if err != nil {
		return "", wrap(op, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// check executes git in dir and reports only whether it exited zero. Exit
// status 1 maps to false; anything else is an error.
func (s *GitService) check(ctx context.Context, op perrors.Op, dir string, args ...string) (bool, error) {
	_, _, err := s.executor.Run(ctx, dir, "git", args...)
	if err == nil {
		return true, nil
	}
	if perrors.ExitCode(err) == 1 {
		return false, nil
	}
	return false, wrap(op, err)
}

func wrap(op perrors.Op, err error) error {
	var ce *perrors.CommandError
	if errors.As(err, &ce) {
		return perrors.BackendFailed(op, ce)
	}
	return perrors.E(op, perrors.KindGit, err)
}

// Open resolves the repository containing dir.
func (s *GitService) Open(ctx context.Context, dir string) (Repository, error) {
	root, err := s.run(ctx, "git.Open", dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return Repository{}, perrors.E(perrors.Op("git.Open"), perrors.KindInvalid,
			fmt.Sprintf("%s is not inside a git repository", dir), err)
	}
	branch, err := s.CurrentBranch(ctx, root)
	if err != nil {
		return Repository{}, err
	}
	logger.Debug("git: opened repository %s on branch %q", root, branch)
	return Repository{Root: filepath.Clean(root), Branch: branch}, nil
}

// CurrentBranch returns the branch checked out in dir, or "" on a detached HEAD.
func (s *GitService) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, _, err := s.executor.Run(ctx, dir, "git", "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if perrors.ExitCode(err) == 1 {
			return "", nil
		}
		return "", wrap("git.CurrentBranch", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ResolveBranch turns ref (e.g. HEAD) into the branch name it denotes.
func (s *GitService) ResolveBranch(ctx context.Context, dir, ref string) (string, error) {
	name, err := s.run(ctx, "git.ResolveBranch", dir, "rev-parse", "--abbrev-ref", ref)
	if err != nil {
		return "", perrors.E(perrors.Op("git.ResolveBranch"), perrors.KindInvalid,
			fmt.Sprintf("unable to find branch %s in this repository", ref), err)
	}
	if name == "HEAD" {
		return "", perrors.InvalidInput("git.ResolveBranch", fmt.Sprintf("%s is a detached HEAD, not a branch", ref))
	}
	return name, nil
}

// RevParse returns the commit id ref points to.
func (s *GitService) RevParse(ctx context.Context, dir, ref string) (string, error) {
	return s.run(ctx, "git.RevParse", dir, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
}

// BranchExists reports whether refs/heads/name exists.
func (s *GitService) BranchExists(ctx context.Context, dir, name string) (bool, error) {
	return s.check(ctx, "git.BranchExists", dir, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
}

// CreateBranch creates name at start without checking it out.
func (s *GitService) CreateBranch(ctx context.Context, dir, name, start string) error {
	_, err := s.run(ctx, "git.CreateBranch", dir, "branch", name, start)
	return err
}

// ForceBranch points name at start, creating it if needed. This is a single
// ref update.
func (s *GitService) ForceBranch(ctx context.Context, dir, name, start string) error {
	_, err := s.run(ctx, "git.ForceBranch", dir, "branch", "--force", name, start)
	return err
}

// DeleteBranch force-deletes a branch.
func (s *GitService) DeleteBranch(ctx context.Context, dir, name string) error {
	_, err := s.run(ctx, "git.DeleteBranch", dir, "branch", "-D", name)
	return err
}

// UpdateRef moves refs/heads/name from old to new, failing if it moved meanwhile.
func (s *GitService) UpdateRef(ctx context.Context, dir, name, newSHA, oldSHA string) error {
	_, err := s.run(ctx, "git.UpdateRef", dir, "update-ref", "refs/heads/"+name, newSHA, oldSHA)
	return err
}

// CheckoutNewBranch force-creates name at start in dir and checks it out,
// discarding whatever the working tree held.
func (s *GitService) CheckoutNewBranch(ctx context.Context, dir, name, start string) error {
	_, err := s.run(ctx, "git.CheckoutNewBranch", dir, "checkout", "--quiet", "--force", "-B", name, start)
	return err
}

// Fetch fetches refspec from remote (a path or remote name) into dir.
func (s *GitService) Fetch(ctx context.Context, dir, remote, refspec string) error {
	_, err := s.run(ctx, "git.Fetch", dir, "fetch", "--quiet", "--no-tags", remote, refspec)
	return err
}

// HasChanges reports whether dir has staged, unstaged or untracked changes.
func (s *GitService) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := s.run(ctx, "git.HasChanges", dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CommitAll stages everything in dir and commits it with msg.
func (s *GitService) CommitAll(ctx context.Context, dir, msg string) error {
	if _, err := s.run(ctx, "git.CommitAll", dir, "add", "-A"); err != nil {
		return err
	}
	_, err := s.run(ctx, "git.CommitAll", dir, "commit", "--quiet", "--no-verify", "-m", msg)
	return err
}

// Merge merges branch into whatever is checked out in dir. With ffOnly the
// merge only succeeds as a fast-forward.
func (s *GitService) Merge(ctx context.Context, dir, branch string, ffOnly bool) error {
	args := []string{"merge", "--quiet"}
	if ffOnly {
		args = append(args, "--ff-only")
	} else {
		args = append(args, "--no-edit")
	}
	_, err := s.run(ctx, "git.Merge", dir, append(args, branch)...)
	return err
}

// MergeInProgress reports whether dir has an unfinished merge.
func (s *GitService) MergeInProgress(ctx context.Context, dir string) (bool, error) {
	return s.check(ctx, "git.MergeInProgress", dir, "rev-parse", "--quiet", "--verify", "MERGE_HEAD")
}

// MergeAbort abandons an unfinished merge in dir.
func (s *GitService) MergeAbort(ctx context.Context, dir string) error {
	_, err := s.run(ctx, "git.MergeAbort", dir, "merge", "--abort")
	return err
}

// CloneShared clones src into dst sharing src's object store, without
// checking out a working tree.
func (s *GitService) CloneShared(ctx context.Context, src, dst string) error {
	_, err := s.run(ctx, "git.CloneShared", filepath.Dir(dst), "clone", "--quiet", "--shared", "--no-checkout", src, dst)
	return err
}
