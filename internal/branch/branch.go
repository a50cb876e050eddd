// Package branch names the branches papagai works on.
//
// Work branches look like papagai/<prefix><base>-YYYYMMDD-HHMM-<id>, where
// id is 12 random hex digits. The minute timestamp is for humans; uniqueness
// across concurrent runs comes from the id alone.
package branch

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"

	perrors "github.com/whot/papagai/internal/errors"
)

// Namespace is the first path component of every branch papagai creates.
const Namespace = "papagai"

// IDLength is the number of hex digits in the random identifier.
const IDLength = 12

const timestampLayout = "20060102-1504"

// now is swapped in tests.
var now = time.Now

// Name is a generated work branch name.
type Name struct {
	Prefix    string
	Base      string
	Timestamp time.Time
	ID        string
}

// String composes the full branch name.
func (n Name) String() string {
	return fmt.Sprintf("%s/%s%s-%s-%s", Namespace, n.Prefix, n.Base, n.Timestamp.Format(timestampLayout), n.ID)
}

// Generate derives a fresh branch name from base and an optional prefix.
func Generate(base, prefix string) (Name, error) {
	const op = perrors.Op("branch.Generate")
	if base == "" {
		return Name{}, perrors.InvalidInput(op, "base branch is empty")
	}
	if err := Validate(base); err != nil {
		return Name{}, perrors.E(op, perrors.KindInvalid, fmt.Sprintf("invalid base branch %q", base), err)
	}

	n := Name{
		Prefix:    prefix,
		Base:      base,
		Timestamp: now().Truncate(time.Minute),
		ID:        randomID(),
	}
	if err := Validate(n.String()); err != nil {
		return Name{}, perrors.E(op, perrors.KindInvalid, fmt.Sprintf("invalid branch prefix %q", prefix), err)
	}
	return n, nil
}

func randomID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:IDLength]
}

// Latest returns the well-known branch that points at the most recently
// exported work branch.
func Latest() string {
	return Namespace + "/latest"
}

// InNamespace reports whether name is a papagai-owned branch.
func InNamespace(name string) bool {
	return strings.HasPrefix(name, Namespace+"/")
}

var nameRegex = regexp.MustCompile(`^` + Namespace + `/(.+)-(\d{8}-\d{4})-([0-9a-f]{8,})$`)

// Parse decomposes a generated branch name. Prefix and base cannot be told
// apart once joined, so Base holds both and Prefix is empty. The latest
// pointer and foreign names do not parse.
func Parse(s string) (Name, bool) {
	m := nameRegex.FindStringSubmatch(s)
	if m == nil {
		return Name{}, false
	}
	ts, err := time.ParseInLocation(timestampLayout, m[2], time.Local)
	if err != nil {
		return Name{}, false
	}
	return Name{Base: m[1], Timestamp: ts, ID: m[3]}, true
}

// Validate applies git's ref-name rules (see git-check-ref-format(1)) plus
// the branch-specific ban on a leading dash.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("branch name is empty")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if err := plumbing.NewBranchReferenceName(name).Validate(); err != nil {
		return fmt.Errorf("%q is not a valid branch name: %w", name, err)
	}
	return nil
}
