// Package instance manages the per-instance filesystem artifacts of a
// delivery server: the rendezvous socket, the pidfile, and the singleton
// lock file. All three are derived from a single instance name so that
// independent servers can coexist under different names.
package instance

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

const defaultDir = "/tmp"

// Paths holds the filesystem locations of one instance's artifacts.
type Paths struct {
	Name   string
	Socket string
	PID    string
	Lock   string
}

// NewPaths builds the artifact paths for the given instance name under
// the default directory.
func NewPaths(name string) Paths {
	return PathsIn(defaultDir, name)
}

// PathsIn builds the artifact paths for the given instance name under dir.
func PathsIn(dir, name string) Paths {
	return Paths{
		Name:   name,
		Socket: filepath.Join(dir, fmt.Sprintf("delivery.%s.sock", name)),
		PID:    filepath.Join(dir, fmt.Sprintf("delivery.%s.pid", name)),
		Lock:   filepath.Join(dir, fmt.Sprintf("delivery.%s.lock", name)),
	}
}

// DefaultName derives an instance name from the current working directory,
// so that invocations from the same directory rendezvous with each other
// without any explicit configuration.
func DefaultName() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	abs, err := filepath.Abs(wd)
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return fmt.Sprintf("%d", crc32.ChecksumIEEE([]byte(abs))), nil
}
