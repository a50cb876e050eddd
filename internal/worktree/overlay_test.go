package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pexec "github.com/whot/papagai/internal/exec"
	"github.com/whot/papagai/internal/git"
	"github.com/whot/papagai/internal/gittest"
)

// simulatedMount returns an executor that runs git for real but replaces
// fuse-overlayfs with a plain copy of the lower layer into the mount point.
// The copy behaves like a private, writable view without needing FUSE.
func simulatedMount(t *testing.T) *pexec.MockExecutor {
	t.Helper()
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	mock := pexec.NewMockExecutor(pexec.NewRealExecutor())
	mock.AddHandler("fuse-overlayfs", nil, func(c pexec.MockCall) pexec.MockResponse {
		var lower string
		for _, opt := range strings.Split(c.Args[1], ",") {
			if v, ok := strings.CutPrefix(opt, "lowerdir="); ok {
				lower = v
			}
		}
		out, err := exec.Command("cp", "-a", lower+"/.", c.Args[2]).CombinedOutput()
		return pexec.MockResponse{Stderr: out, Err: err}
	})
	return mock
}

func TestOverlay_MaterializeLayout(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)
	cache := t.TempDir()
	mock := simulatedMount(t)

	b := NewOverlayBackend(git.NewGitServiceWithExecutor(mock), cache)
	name := newName(t, "main")
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main", Kind: KindOverlay}, name)
	require.NoError(t, err)
	defer b.Teardown(ctx, wt)

	runDir := filepath.Join(RepoCacheDir(cache, r.Root), name.String())
	assert.Equal(t, filepath.Join(runDir, MountedDirName), wt.Path)
	assert.DirExists(t, filepath.Join(runDir, upperDirName))
	assert.DirExists(t, filepath.Join(runDir, workDirName))
	assert.DirExists(t, filepath.Join(LowerDir(cache, r.Root, "main"), ".git"))

	owner, err := ReadOwner(runDir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), owner)

	calls := mock.CallsTo("fuse-overlayfs")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"-o",
		"lowerdir=" + LowerDir(cache, r.Root, "main") + ",upperdir=" + filepath.Join(runDir, upperDirName) + ",workdir=" + filepath.Join(runDir, workDirName),
		wt.Path,
	}, calls[0].Args)

	head := strings.TrimSpace(gittest.Run(t, wt.Path, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.Equal(t, name.String(), head)
	assert.FileExists(t, filepath.Join(wt.Path, "README.md"))
}

func TestOverlay_RoundTripIsNoOp(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)
	cache := t.TempDir()
	before := r.Refs(t)

	b := NewOverlayBackend(git.NewGitServiceWithExecutor(simulatedMount(t)), cache)
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.NoError(t, err)
	require.NoError(t, b.Teardown(ctx, wt))
	require.NoError(t, b.Teardown(ctx, wt))

	if diff := cmp.Diff(before, r.Refs(t)); diff != "" {
		t.Errorf("branches changed (-before +after):\n%s", diff)
	}
	assert.NoDirExists(t, filepath.Dir(wt.Path))
	assert.DirExists(t, LowerDir(cache, r.Root, "main"), "the lower layer outlives teardown")
}

func TestOverlay_ExportOnlyWorkBranch(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)
	r.Git(t, "branch", "other")
	before := r.Refs(t)

	b := NewOverlayBackend(git.NewGitServiceWithExecutor(simulatedMount(t)), t.TempDir())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	require.NoError(t, err)
	defer b.Teardown(ctx, wt)

	work := gittest.CommitIn(t, wt.Path, "agent.txt", "work", "agent work")

	// A misbehaving agent also rewrites main and other inside its copy
	gittest.Run(t, wt.Path, "checkout", "--quiet", "-B", "main", "origin/main")
	gittest.CommitIn(t, wt.Path, "evil.txt", "evil", "sneaky change on main")
	gittest.Run(t, wt.Path, "branch", "--force", "other", "HEAD")
	gittest.Run(t, wt.Path, "checkout", "--quiet", wt.Branch)

	require.NoError(t, b.Export(ctx, wt))
	assert.True(t, wt.Exported())

	after := r.Refs(t)
	assert.Equal(t, work, after[wt.Branch])
	delete(after, wt.Branch)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("export modified branches other than %s (-before +after):\n%s", wt.Branch, diff)
	}
}

func TestOverlay_MountFailureLeavesNothing(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)
	cache := t.TempDir()

	mock := pexec.NewMockExecutor(pexec.NewRealExecutor())
	mock.AddPrefixMatch("fuse-overlayfs", nil, pexec.MockResponse{
		Stderr: []byte("fuse: device not found"),
		Err:    exec.ErrNotFound,
	})

	b := NewOverlayBackend(git.NewGitServiceWithExecutor(mock), cache)
	name := newName(t, "main")
	_, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, name)
	require.Error(t, err)

	assert.NoDirExists(t, filepath.Join(RepoCacheDir(cache, r.Root), name.String()))
	assert.NoDirExists(t, filepath.Join(RepoCacheDir(cache, r.Root), "papagai"))
}

func TestOverlay_KeepLeavesRunDir(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)

	b := NewOverlayBackend(git.NewGitServiceWithExecutor(simulatedMount(t)), t.TempDir())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main", Keep: true}, newName(t, "main"))
	require.NoError(t, err)
	require.NoError(t, b.Teardown(ctx, wt))

	assert.DirExists(t, wt.Path)
}

func TestOverlay_LowerReused(t *testing.T) {
	r := gittest.New(t)
	repo := openRepo(t, r)
	cache := t.TempDir()
	mock := simulatedMount(t)

	b := NewOverlayBackend(git.NewGitServiceWithExecutor(mock), cache)
	for range 2 {
		wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
		require.NoError(t, err)
		require.NoError(t, b.Teardown(ctx, wt))
	}

	var clones int
	for _, c := range mock.CallsTo("git") {
		if len(c.Args) > 0 && c.Args[0] == "clone" {
			clones++
		}
	}
	assert.Equal(t, 1, clones, "the lower layer should be cloned once per base branch")
}

func TestOverlay_RealMount(t *testing.T) {
	if _, err := exec.LookPath("fuse-overlayfs"); err != nil {
		t.Skip("fuse-overlayfs not available")
	}
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not available")
	}

	r := gittest.New(t)
	repo := openRepo(t, r)
	before := r.Refs(t)

	b := NewOverlayBackend(git.NewGitService(), t.TempDir())
	wt, err := b.Materialize(ctx, repo, Spec{BaseBranch: "main"}, newName(t, "main"))
	if err != nil {
		t.Skipf("overlay mount not permitted here: %v", err)
	}

	mounted, err := IsMounted(wt.Path)
	require.NoError(t, err)
	assert.True(t, mounted)

	commit := gittest.CommitIn(t, wt.Path, "agent.txt", "work", "agent work")
	require.NoError(t, b.Export(ctx, wt))
	require.NoError(t, b.Teardown(ctx, wt))
	require.NoError(t, b.Teardown(ctx, wt))

	mounted, err = IsMounted(wt.Path)
	require.NoError(t, err)
	assert.False(t, mounted)

	after := r.Refs(t)
	assert.Equal(t, commit, after[wt.Branch])
	delete(after, wt.Branch)
	assert.Equal(t, before, after)
}
