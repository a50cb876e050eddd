package branch

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/whot/papagai/internal/errors"
)

func fixedNow(t *testing.T, ts time.Time) {
	t.Helper()
	orig := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = orig })
}

func TestGenerate_Format(t *testing.T) {
	fixedNow(t, time.Date(2025, 1, 2, 3, 4, 59, 0, time.Local))

	n, err := Generate("main", "")
	require.NoError(t, err)

	s := n.String()
	assert.True(t, strings.HasPrefix(s, "papagai/main-20250102-0304-"), "got %q", s)
	assert.Len(t, n.ID, IDLength)
	assert.Len(t, s, len("papagai/main-20250102-0304-")+IDLength)
	assert.NoError(t, Validate(s))
}

func TestGenerate_Prefix(t *testing.T) {
	fixedNow(t, time.Date(2025, 1, 2, 3, 4, 0, 0, time.Local))

	n, err := Generate("feature/login", "review/")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(n.String(), "papagai/review/feature/login-20250102-0304-"), "got %q", n.String())
}

func TestGenerate_ValidBases(t *testing.T) {
	bases := []string{"main", "master", "feature/x", "release-1.2", "wip_thing", "a/b/c", "v2.0"}

	for _, base := range bases {
		t.Run(base, func(t *testing.T) {
			n, err := Generate(base, "")
			require.NoError(t, err)

			s := n.String()
			assert.True(t, InNamespace(s))
			assert.False(t, strings.ContainsAny(s, " \t\n\r"), "name %q contains whitespace", s)
			assert.NoError(t, Validate(s))
		})
	}
}

func TestGenerate_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		prefix string
	}{
		{"empty base", "", ""},
		{"space in base", "my branch", ""},
		{"tilde in base", "main~1", ""},
		{"colon in base", "a:b", ""},
		{"double dot in base", "a..b", ""},
		{"lock suffix in base", "main.lock", ""},
		{"bad prefix", "main", "a b/"},
		{"reflog syntax", "main@{1}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.base, tt.prefix)
			require.Error(t, err)
			assert.True(t, perrors.Is(err, perrors.KindInvalid), "kind = %v", perrors.GetKind(err))
		})
	}
}

func TestGenerate_ConcurrentDistinct(t *testing.T) {
	const n = 1000

	names := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := Generate("main", "")
			if err != nil {
				t.Errorf("Generate() error = %v", err)
				return
			}
			names[i] = name.String()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, name := range names {
		require.NotEmpty(t, name)
		require.False(t, seen[name], "duplicate name %q", name)
		seen[name] = true
	}
	assert.Len(t, seen, n)
}

func TestLatest(t *testing.T) {
	assert.Equal(t, "papagai/latest", Latest())
	assert.True(t, InNamespace(Latest()))
	assert.NoError(t, Validate(Latest()))

	_, ok := Parse(Latest())
	assert.False(t, ok, "latest pointer should not parse as a work branch")
}

func TestParse(t *testing.T) {
	fixedNow(t, time.Date(2025, 6, 7, 8, 9, 0, 0, time.Local))
	n, err := Generate("feature/x", "review/")
	require.NoError(t, err)

	got, ok := Parse(n.String())
	require.True(t, ok)
	assert.Equal(t, "review/feature/x", got.Base)
	assert.Equal(t, n.ID, got.ID)
	assert.True(t, got.Timestamp.Equal(n.Timestamp), "timestamp %v != %v", got.Timestamp, n.Timestamp)

	// Older, shorter identifiers still parse
	got, ok = Parse("papagai/main-20250101-0000-aaaabbbb")
	require.True(t, ok)
	assert.Equal(t, "main", got.Base)

	for _, s := range []string{"main", "papagai/latest", "papagai/main", "other/main-20250101-0000-aaaabbbb"} {
		_, ok := Parse(s)
		assert.False(t, ok, "Parse(%q) should fail", s)
	}
}

func TestValidate(t *testing.T) {
	valid := []string{"main", "papagai/main-20250101-0000-abc", "a.b", "x/y.z", "release-1.0"}
	for _, name := range valid {
		assert.NoError(t, Validate(name), name)
	}

	invalid := []string{
		"", "@", "-x", "/x", "x/", "x.", "a//b", "a..b", "a@{b", "a b", "a\tb",
		"a~b", "a^b", "a:b", "a?b", "a*b", "a[b", "a\\b", ".hidden", "x/.hidden",
		"x.lock", "x.lock/y", "a\x7fb",
	}
	for _, name := range invalid {
		assert.Error(t, Validate(name), "%q should be invalid", name)
	}
	assert.ErrorIs(t, Validate("a..b"), plumbing.ErrInvalidReferenceName)
}

func TestInNamespace(t *testing.T) {
	assert.True(t, InNamespace("papagai/main-20250101-0000-aaaa"))
	assert.False(t, InNamespace("papagai"))
	assert.False(t, InNamespace("papagaiX/main"))
	assert.False(t, InNamespace("main"))
}
