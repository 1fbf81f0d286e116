//go:build unix

package store

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// rootLock serialises publish and remove across processes sharing a store
// root, using an advisory flock(2) on a file inside the root.
type rootLock struct {
	f *os.File
}

func lockRoot(path string) (*rootLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open store lock: %w", err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("lock store: %w", err)
	}
	return &rootLock{f: f}, nil
}

func (l *rootLock) unlock() {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
}

// linkUnsupported reports whether a hard-link failure means the file
// system cannot link these files at all, as opposed to a one-off error.
func linkUnsupported(err error) bool {
	return errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EMLINK)
}

// isRenameConflict reports whether renaming onto an existing directory
// failed because the destination is already populated.
func isRenameConflict(err error) bool {
	return errors.Is(err, unix.EEXIST) || errors.Is(err, unix.ENOTEMPTY)
}
