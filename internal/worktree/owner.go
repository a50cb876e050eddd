package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Ownership markers let purge tell a live run from a crashed one. Checkout
// worktrees carry the owner pid in their lock reason, overlay run
// directories in a marker file.

const (
	lockReasonPrefix = "papagai pid "
	ownerFile        = "owner.pid"
)

// LockReason returns the worktree lock reason recording pid as owner.
func LockReason(pid int) string {
	return fmt.Sprintf("%s%d", lockReasonPrefix, pid)
}

// ParseLockReason extracts the owner pid from a lock reason.
func ParseLockReason(reason string) (int, bool) {
	s, ok := strings.CutPrefix(strings.TrimSpace(reason), lockReasonPrefix)
	if !ok {
		return 0, false
	}
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writeOwner(runDir string, pid int) error {
	return os.WriteFile(filepath.Join(runDir, ownerFile), []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// ReadOwner returns the pid recorded in an overlay run directory.
func ReadOwner(runDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(runDir, ownerFile))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed owner marker in %s: %w", runDir, err)
	}
	return pid, nil
}

// OwnerAlive reports whether pid names a running process.
func OwnerAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return processAlive(pid)
}
