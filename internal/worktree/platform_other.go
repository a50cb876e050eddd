//go:build !linux

package worktree

import (
	"os"
	"syscall"
)

// IsMounted always reports false; overlay isolation is only supported on
// Linux.
func IsMounted(path string) (bool, error) {
	return false, nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
