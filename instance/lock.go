package instance

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is an exclusive advisory lock held for the lifetime of a server
// instance. The lock file itself is never unlinked; only the lock is
// released when the holding process exits or calls Release.
type Lock struct {
	path string
	f    *os.File
}

// AcquireLock takes a non-blocking exclusive flock on path, creating the
// file if needed. It fails immediately if another process holds the lock,
// leaving the existing holder undisturbed.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0777)
	if err != nil {
		return nil, fmt.Errorf("creating lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("obtaining exclusive lock on %s: %w", path, err)
	}
	return &Lock{path: path, f: f}, nil
}

// Release drops the lock by closing the underlying file descriptor.
func (l *Lock) Release() error {
	return l.f.Close()
}

func (l *Lock) Path() string {
	return l.path
}
