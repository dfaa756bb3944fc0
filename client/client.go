// Package client implements delivery's client mode: connect to a running
// server's rendezvous socket and run a command with the delivered stream
// as its standard input.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// defaultCommand is run when the client is given no command of its own,
// spitting the stream out on standard output.
var defaultCommand = []string{"cat"}

type Client struct {
	Log        *zap.SugaredLogger
	SocketPath string

	// Stdout and Stderr are the command's output streams, defaulting to
	// the client process's own.
	Stdout io.Writer
	Stderr io.Writer
}

// Run connects to the server and runs command with the connection as its
// standard input. It blocks until the command exits; the returned error is
// the command's *exec.ExitError if it exited non-zero.
func (c *Client) Run(command []string) error {
	if len(command) == 0 {
		command = defaultCommand
	}

	conn, err := net.Dial("unix", c.SocketPath)
	if err != nil {
		return fmt.Errorf("connecting to server socket %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	stdout := c.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := c.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdin = conn
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	c.Log.Debugf("running client command: %v", command)
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return err
		}
		return fmt.Errorf("running client command %q: %w", command[0], err)
	}
	return nil
}
