package instance

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// WritePIDFile records the calling process's pid at path so an external
// invocation can locate this instance and signal it.
func WritePIDFile(path string) error {
	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
	if err != nil {
		return fmt.Errorf("writing pidfile %s: %w", path, err)
	}
	return nil
}

// RemovePIDFile deletes the pidfile, ignoring a missing file.
func RemovePIDFile(path string) {
	os.Remove(path)
}

// ReadPIDFile reads and validates the pid recorded at path. The pid must
// parse, be positive, and name a process that currently exists.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading pidfile %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parsing pidfile %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pidfile %s contains invalid pid %d", path, pid)
	}
	if err := unix.Kill(pid, 0); err != nil {
		return 0, fmt.Errorf("pid %d from %s is not a live process: %w", pid, path, err)
	}
	return pid, nil
}

// SignalRestart asks the server instance recorded at pidPath to close and
// respawn its source command. Connected clients are unaffected.
func SignalRestart(pidPath string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return err
	}
	if err := unix.Kill(pid, unix.SIGHUP); err != nil {
		return fmt.Errorf("signaling server process %d: %w", pid, err)
	}
	return nil
}
