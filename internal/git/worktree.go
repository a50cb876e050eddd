package git

import (
	"context"
	"path/filepath"
	"strings"
)

// WorktreeInfo is one entry of `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path       string
	Head       string
	Branch     string // short name, empty when detached
	Bare       bool
	Detached   bool
	Locked     bool
	LockReason string
	Prunable   bool
}

// ListWorktrees returns every worktree of the repository, the main one first.
func (s *GitService) ListWorktrees(ctx context.Context, dir string) ([]WorktreeInfo, error) {
	out, err := s.run(ctx, "git.ListWorktrees", dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []WorktreeInfo {
	var (
		list []WorktreeInfo
		cur  *WorktreeInfo
	)
	flush := func() {
		if cur != nil {
			list = append(list, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		if key == "worktree" {
			flush()
			cur = &WorktreeInfo{Path: filepath.Clean(value)}
			continue
		}
		if cur == nil {
			continue
		}
		switch key {
		case "HEAD":
			cur.Head = value
		case "branch":
			cur.Branch = strings.TrimPrefix(value, "refs/heads/")
		case "bare":
			cur.Bare = true
		case "detached":
			cur.Detached = true
		case "locked":
			cur.Locked = true
			cur.LockReason = value
		case "prunable":
			cur.Prunable = true
		}
	}
	flush()
	return list
}

// CheckedOutBranches maps each branch checked out in any worktree to that
// worktree's path.
func (s *GitService) CheckedOutBranches(ctx context.Context, dir string) (map[string]string, error) {
	wts, err := s.ListWorktrees(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(wts))
	for _, wt := range wts {
		if wt.Branch != "" {
			out[wt.Branch] = wt.Path
		}
	}
	return out, nil
}

// AddWorktree creates a linked worktree at path on a new branch started
// from base. When reason is non-empty the worktree is created locked.
func (s *GitService) AddWorktree(ctx context.Context, dir, path, branch, base, reason string) error {
	args := []string{"worktree", "add", "--quiet"}
	if reason != "" {
		args = append(args, "--lock", "--reason", reason)
	}
	args = append(args, "-b", branch, path, base)
	_, err := s.run(ctx, "git.AddWorktree", dir, args...)
	return err
}

// AddWorktreeForBranch creates an unlocked linked worktree at path checked out
// on an existing branch.
func (s *GitService) AddWorktreeForBranch(ctx context.Context, dir, path, branch string) error {
	_, err := s.run(ctx, "git.AddWorktree", dir, "worktree", "add", "--quiet", path, branch)
	return err
}

// UnlockWorktree unlocks a worktree. Unlocking an unlocked worktree fails,
// so callers that only need it gone should ignore the error.
func (s *GitService) UnlockWorktree(ctx context.Context, dir, path string) error {
	_, err := s.run(ctx, "git.UnlockWorktree", dir, "worktree", "unlock", path)
	return err
}

// RemoveWorktree removes a linked worktree even if it is dirty or locked.
func (s *GitService) RemoveWorktree(ctx context.Context, dir, path string) error {
	_, err := s.run(ctx, "git.RemoveWorktree", dir, "worktree", "remove", "--force", "--force", path)
	return err
}

// PruneWorktrees drops administrative data of worktrees whose directories
// are gone.
func (s *GitService) PruneWorktrees(ctx context.Context, dir string) error {
	_, err := s.run(ctx, "git.PruneWorktrees", dir, "worktree", "prune")
	return err
}
