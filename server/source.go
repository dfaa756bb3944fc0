package server

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"
)

// pidEnvVar is set in the source command's environment to the server's
// pid, so the command can detect it is running under delivery.
const pidEnvVar = "_DELIVERY_PID"

// source owns the lifecycle of the spawned producer command. At most one
// invocation is live at any time; out is valid only while running.
type source struct {
	log     *zap.SugaredLogger
	command []string

	// killSignal, if non-zero, is sent to the producer before reaping it
	// on close. The default relies on the producer exiting on its own
	// once its stdout pipe is closed.
	killSignal syscall.Signal

	cmd *exec.Cmd
	out io.ReadCloser
}

func newSource(log *zap.SugaredLogger, command []string, killSignal syscall.Signal) *source {
	return &source{
		log:        log,
		command:    command,
		killSignal: killSignal,
	}
}

func (s *source) running() bool {
	return s.cmd != nil
}

// open spawns the producer command with its stdout captured as the source
// stream. The command is invoked directly with a separated argument list,
// never through a shell.
func (s *source) open() error {
	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", pidEnvVar, os.Getpid()))
	cmd.Stderr = os.Stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating source stdout pipe: %w", err)
	}

	s.log.Infof("spawning source: %v", s.command)
	if err := cmd.Start(); err != nil {
		out.Close()
		return fmt.Errorf("spawning source command %q: %w", s.command[0], err)
	}

	s.cmd = cmd
	s.out = out
	return nil
}

// close releases the source stream and reaps the producer. It is a no-op
// if the source is not running.
func (s *source) close() {
	if s.cmd == nil {
		return
	}
	s.out.Close()
	if s.killSignal != 0 {
		if err := s.cmd.Process.Signal(s.killSignal); err != nil {
			s.log.Debugf("signaling source with %s: %s", s.killSignal, err)
		}
	}
	if err := s.cmd.Wait(); err != nil {
		// the producer usually dies of EPIPE once the pipe is closed, so a
		// non-zero exit here is expected
		s.log.Debugf("source exited: %s", err)
	}
	s.cmd = nil
	s.out = nil
}
