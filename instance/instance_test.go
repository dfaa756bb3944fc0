package instance

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	p := PathsIn("/tmp", "radio")
	assert.Equal(t, "radio", p.Name)
	assert.Equal(t, "/tmp/delivery.radio.sock", p.Socket)
	assert.Equal(t, "/tmp/delivery.radio.pid", p.PID)
	assert.Equal(t, "/tmp/delivery.radio.lock", p.Lock)
}

func TestDefaultNameIsStable(t *testing.T) {
	a, err := DefaultName()
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := DefaultName()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.test.lock")

	l, err := AcquireLock(path)
	require.NoError(t, err)

	// a second acquisition on its own file descriptor must fail without
	// disturbing the holder
	_, err = AcquireLock(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "exclusive lock")

	require.NoError(t, l.Release())

	l2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.test.pid")

	require.NoError(t, WritePIDFile(path))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	RemovePIDFile(path)
	_, err = ReadPIDFile(path)
	require.Error(t, err)
}

func TestReadPIDFileRejectsBadContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.test.pid")

	require.NoError(t, os.WriteFile(path, []byte("bogus"), 0644))
	_, err := ReadPIDFile(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("-5"), 0644))
	_, err = ReadPIDFile(path)
	require.Error(t, err)
}

func TestSignalRestart(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	path := filepath.Join(t.TempDir(), "delivery.test.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0644))

	require.NoError(t, SignalRestart(path))

	// sleep dies of the unhandled SIGHUP
	err := cmd.Wait()
	require.Error(t, err)
	assert.ErrorContains(t, err, "hangup")
}
