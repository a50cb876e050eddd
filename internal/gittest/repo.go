// Package gittest creates throwaway git repositories for tests.
package gittest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Repo is a temporary git repository on branch main with one commit.
type Repo struct {
	Root string
}

// RequireGit skips the test when git is not installed.
func RequireGit(tb testing.TB) {
	tb.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		tb.Skip("git not available")
	}
}

// New creates a temporary repository. The commit identity is exported to
// the environment so clones and worktrees made by the code under test can
// commit too.
func New(tb testing.TB) *Repo {
	tb.Helper()
	RequireGit(tb)

	tb.Setenv("GIT_AUTHOR_NAME", "Papagai Test")
	tb.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	tb.Setenv("GIT_COMMITTER_NAME", "Papagai Test")
	tb.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
	tb.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	root, err := filepath.EvalSymlinks(tb.TempDir())
	if err != nil {
		tb.Fatalf("resolve temp dir: %v", err)
	}
	r := &Repo{Root: root}
	r.Git(tb, "init", "--quiet", "--initial-branch=main")
	r.Git(tb, "config", "user.name", "Papagai Test")
	r.Git(tb, "config", "user.email", "test@example.com")
	r.Git(tb, "config", "commit.gpgsign", "false")
	r.Commit(tb, "README.md", "# test repository\n", "Initial commit")
	return r
}

// Git runs git in the repository root and fails the test on error.
func (r *Repo) Git(tb testing.TB, args ...string) string {
	tb.Helper()
	return Run(tb, r.Root, args...)
}

// Commit writes content to file, commits it and returns the new commit id.
func (r *Repo) Commit(tb testing.TB, file, content, msg string) string {
	tb.Helper()
	return CommitIn(tb, r.Root, file, content, msg)
}

// Head returns the commit id of rev.
func (r *Repo) Head(tb testing.TB, rev string) string {
	tb.Helper()
	return strings.TrimSpace(r.Git(tb, "rev-parse", rev))
}

// Branches returns the sorted local branch names.
func (r *Repo) Branches(tb testing.TB) []string {
	tb.Helper()
	out := strings.TrimSpace(r.Git(tb, "for-each-ref", "--format=%(refname:short)", "--sort=refname", "refs/heads/"))
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// Refs returns every local branch mapped to its commit id.
func (r *Repo) Refs(tb testing.TB) map[string]string {
	tb.Helper()
	refs := map[string]string{}
	out := strings.TrimSpace(r.Git(tb, "for-each-ref", "--format=%(refname:short) %(objectname)", "refs/heads/"))
	for _, line := range strings.Split(out, "\n") {
		if name, sha, ok := strings.Cut(line, " "); ok {
			refs[name] = sha
		}
	}
	return refs
}

// CommitIn commits content to file inside the working tree at dir.
func CommitIn(tb testing.TB, dir, file, content, msg string) string {
	tb.Helper()
	path := filepath.Join(dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	Run(tb, dir, "add", file)
	Run(tb, dir, "commit", "--quiet", "-m", msg)
	return strings.TrimSpace(Run(tb, dir, "rev-parse", "HEAD"))
}

// Run executes git in dir and fails the test on error.
func Run(tb testing.TB, dir string, args ...string) string {
	tb.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf("%v", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out))
	}
	return string(out)
}
