//go:build !unix

package store

import (
	"errors"
	"io/fs"
	"sync"
)

// Without flock, publish and remove are only serialised within this
// process.
var processLock sync.Mutex

type rootLock struct{}

func lockRoot(string) (*rootLock, error) {
	processLock.Lock()
	return &rootLock{}, nil
}

func (*rootLock) unlock() { processLock.Unlock() }

func linkUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, fs.ErrPermission)
}

func isRenameConflict(err error) bool {
	return errors.Is(err, fs.ErrExist)
}
