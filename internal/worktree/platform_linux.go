package worktree

import (
	"errors"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsMounted reports whether path is a mount point. A FUSE mount whose
// daemon died answers ENOTCONN and still needs unmounting, so it counts as
// mounted.
func IsMounted(path string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		switch {
		case errors.Is(err, unix.ENOTCONN):
			return true, nil
		case errors.Is(err, unix.ENOENT):
			return false, nil
		}
		return false, err
	}
	if err := unix.Stat(filepath.Dir(path), &parent); err != nil {
		return false, err
	}
	return st.Dev != parent.Dev, nil
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
