// Package runlock guards run directories against concurrent dispatches.
//
// Locks are advisory flock(2) locks on a file inside the run directory.
// Training that writes into a run takes an exclusive lock; runs that only
// read from it (finetuning on top of it, evaluating it) share the lock.
package runlock

import (
	"errors"
	"fmt"
	"path/filepath"
)

// FileName is the lock file created inside a locked run directory.
const FileName = ".nhrun.lock"

var ErrLocked = errors.New("runlock: run directory is in use")

type lockedError struct {
	dir string
}

func (e lockedError) Error() string {
	return fmt.Sprintf("run directory %s is in use by another nhrun process", e.dir)
}

func (e lockedError) Unwrap() error {
	return ErrLocked
}

// Release drops a lock obtained from Acquire.
type Release func() error

// Locker takes advisory locks on run directories.
type Locker interface {
	Acquire(dir string, exclusive bool) (Release, error)
}

// Files locks run directories through a lock file. Acquire never blocks:
// contention fails immediately with ErrLocked.
type Files struct{}

func (Files) Acquire(dir string, exclusive bool) (Release, error) {
	return acquire(filepath.Clean(dir), exclusive)
}

// Nop never locks.
type Nop struct{}

func (Nop) Acquire(string, bool) (Release, error) {
	return func() error { return nil }, nil
}
