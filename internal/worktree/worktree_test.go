package worktree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whot/papagai/internal/branch"
	"github.com/whot/papagai/internal/config"
	perrors "github.com/whot/papagai/internal/errors"
	pexec "github.com/whot/papagai/internal/exec"
	"github.com/whot/papagai/internal/git"
	"github.com/whot/papagai/internal/gittest"
)

var ctx = context.Background()

func openRepo(t *testing.T, r *gittest.Repo) git.Repository {
	t.Helper()
	repo, err := git.NewGitService().Open(ctx, r.Root)
	require.NoError(t, err)
	return repo
}

func newName(t *testing.T, base string) branch.Name {
	t.Helper()
	n, err := branch.Generate(base, "")
	require.NoError(t, err)
	return n
}

func TestCheckout_RoundTripIsNoOp(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)
	before := r.Refs(t)

	b := NewCheckoutBackend(git.NewGitService())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main", Kind: KindCheckout}, newName(t, "main"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(r.Root, wt.Branch), wt.Path)
	assert.DirExists(t, wt.Path)
	assert.Equal(t, r.Head(t, "main"), wt.BaseSHA)

	require.NoError(t, b.Teardown(ctx, wt))

	if diff := cmp.Diff(before, r.Refs(t)); diff != "" {
		t.Errorf("branches changed by materialize+teardown (-before +after):\n%s", diff)
	}
	assert.NoDirExists(t, wt.Path)
	assert.NoDirExists(t, filepath.Join(r.Root, branch.Namespace), "empty parent directories should be removed")
}

func TestCheckout_TeardownIdempotent(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewCheckoutBackend(git.NewGitService())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.NoError(t, err)

	require.NoError(t, b.Teardown(ctx, wt))
	require.NoError(t, b.Teardown(ctx, wt))
	require.NoError(t, b.Teardown(ctx, nil))
}

func TestCheckout_TeardownManuallyRemoved(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewCheckoutBackend(git.NewGitService())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.NoError(t, err)

	// The user deleted the directory behind our back
	require.NoError(t, os.RemoveAll(wt.Path))
	require.NoError(t, b.Teardown(ctx, wt))

	wts, err := git.NewGitService().ListWorktrees(ctx, r.Root)
	require.NoError(t, err)
	assert.Len(t, wts, 1, "stale worktree should be pruned")
}

func TestCheckout_TeardownHalfCreated(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewCheckoutBackend(git.NewGitService())
	wt := &Worktree{
		Kind:   KindCheckout,
		Path:   filepath.Join(r.Root, "papagai", "never-created"),
		Branch: "papagai/never-created",
		Repo:   repo,
	}
	assert.NoError(t, b.Teardown(ctx, wt))
}

func TestCheckout_ExportKeepsCommits(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewCheckoutBackend(git.NewGitService())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.NoError(t, err)

	commit := gittest.CommitIn(t, wt.Path, "agent.txt", "work", "agent work")
	require.NoError(t, b.Export(ctx, wt))
	assert.True(t, wt.Exported())
	require.NoError(t, b.Teardown(ctx, wt))

	assert.Equal(t, commit, r.Head(t, wt.Branch))
}

func TestCheckout_UnexportedCommitsAreNotDeleted(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewCheckoutBackend(git.NewGitService())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.NoError(t, err)

	commit := gittest.CommitIn(t, wt.Path, "agent.txt", "work", "agent work")
	require.NoError(t, b.Teardown(ctx, wt))

	assert.Equal(t, commit, r.Head(t, wt.Branch), "a branch with commits must survive teardown")
}

func TestCheckout_Keep(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewCheckoutBackend(git.NewGitService())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main", Keep: true}, newName(t, "main"))
	require.NoError(t, err)
	require.NoError(t, b.Teardown(ctx, wt))

	assert.DirExists(t, wt.Path)
	wts, err := git.NewGitService().ListWorktrees(ctx, r.Root)
	require.NoError(t, err)
	require.Len(t, wts, 2)
	assert.False(t, wts[1].Locked, "kept worktree should be unlocked")
}

func TestCheckout_LockedWithOwner(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewCheckoutBackend(git.NewGitService())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.NoError(t, err)
	defer b.Teardown(ctx, wt)

	wts, err := git.NewGitService().ListWorktrees(ctx, r.Root)
	require.NoError(t, err)
	require.Len(t, wts, 2)
	pid, ok := ParseLockReason(wts[1].LockReason)
	require.True(t, ok, "lock reason %q", wts[1].LockReason)
	assert.Equal(t, os.Getpid(), pid)
}

func TestCheckout_MaterializeBadBase(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)
	before := r.Refs(t)

	b := NewCheckoutBackend(git.NewGitService())
	_, err := b.Materialize(ctx, repo, Spec{BaseBranch: "no-such-branch"}, newName(t, "main"))
	require.Error(t, err)
	assert.True(t, perrors.Is(err, perrors.KindBackend), "kind = %v", perrors.GetKind(err))
	assert.Equal(t, before, r.Refs(t))
}

func TestCheckout_MaterializeFailureCleansUp(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	mock := pexec.NewMockExecutor(pexec.NewRealExecutor())
	mock.AddPrefixMatch("git", []string{"worktree", "add"}, pexec.MockResponse{
		Stderr: []byte("fatal: simulated"),
		Err:    errors.New("exit status 128"),
	})
	b := NewCheckoutBackend(git.NewGitServiceWithExecutor(mock))

	_, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.Error(t, err)

	var ce *perrors.CommandError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Args, "add")

	var removed bool
	for _, c := range mock.CallsTo("git") {
		if len(c.Args) > 1 && c.Args[0] == "worktree" && c.Args[1] == "remove" {
			removed = true
		}
	}
	assert.True(t, removed, "failed materialize should run teardown")
}

func TestSelect(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	svc := git.NewGitService()

	tests := []struct {
		name      string
		isolation string
		hasFuse   bool
		want      Kind
		wantErr   bool
	}{
		{"auto with fuse", config.IsolationAuto, true, KindOverlay, false},
		{"auto without fuse", config.IsolationAuto, false, KindCheckout, false},
		{"worktree", config.IsolationWorktree, true, KindCheckout, false},
		{"overlay with fuse", config.IsolationOverlay, true, KindOverlay, false},
		{"overlay without fuse", config.IsolationOverlay, false, "", true},
		{"unknown", "chroot", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookPath = func(name string) (string, error) {
				if tt.hasFuse {
					return "/usr/bin/" + name, nil
				}
				return "", exec.ErrNotFound
			}

			b, err := Select(tt.isolation, svc, t.TempDir())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, perrors.Is(err, perrors.KindInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Kind())
		})
	}
}

func TestOwnerMarkers(t *testing.T) {
	pid, ok := ParseLockReason(LockReason(1234))
	assert.True(t, ok)
	assert.Equal(t, 1234, pid)

	for _, reason := range []string{"", "locked by me", "papagai pid abc", "papagai pid -3"} {
		_, ok := ParseLockReason(reason)
		assert.False(t, ok, "ParseLockReason(%q)", reason)
	}

	dir := t.TempDir()
	require.NoError(t, writeOwner(dir, 4321))
	got, err := ReadOwner(dir)
	require.NoError(t, err)
	assert.Equal(t, 4321, got)

	assert.True(t, OwnerAlive(os.Getpid()))
	assert.False(t, OwnerAlive(0))
}

func TestRemoveEmptyParents(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "keep.txt"), nil, 0o644))

	removeEmptyParents(deep, root)

	assert.NoDirExists(t, filepath.Join(root, "a", "b"))
	assert.DirExists(t, filepath.Join(root, "a"))
	assert.DirExists(t, root)
}

func TestLowerDirKeying(t *testing.T) {
	a := LowerDir("/cache", "/src/repo", "main")
	assert.Equal(t, a, LowerDir("/cache", "/src/repo", "main"))
	assert.NotEqual(t, a, LowerDir("/cache", "/src/repo", "dev"))
	assert.NotEqual(t, a, LowerDir("/cache", "/other/repo", "main"))
	assert.True(t, strings.HasPrefix(a, RepoCacheDir("/cache", "/src/repo")+string(filepath.Separator)))
	assert.True(t, strings.HasPrefix(filepath.Base(RepoCacheDir("/cache", "/src/repo")), "repo-"))
}
