// Package server implements the delivery streaming engine: it accepts
// Unix-domain-socket clients, lazily spawns the configured source command
// when the first client arrives, and fans the source's standard output out
// to every connected client, shutting the source down again when the last
// client leaves.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/smblott-github/delivery/instance"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const defaultMaxClients = 1024

// Server multiplexes one source command's output across a dynamically
// changing set of clients. All state is owned by the single Run loop; the
// only asynchronous mutation is the restart flag set on SIGHUP.
type Server struct {
	log        *zap.SugaredLogger
	paths      instance.Paths
	command    []string
	world      bool
	killSignal syscall.Signal

	lock     *instance.Lock
	listener *net.UnixListener
	clients  *registry
	source   *source
	buf      []byte
	restart  atomic.Bool
}

type Option func(s *Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("server").Sugar()
	}
}

// WithWorldWritable creates the rendezvous socket with permissions open to
// all users instead of the process's default umask.
func WithWorldWritable(w bool) Option {
	return func(s *Server) {
		s.world = w
	}
}

// WithKillSignal sets a signal to send the source command when closing it,
// for producers that do not exit on their own when their stdout pipe
// closes.
func WithKillSignal(sig syscall.Signal) Option {
	return func(s *Server) {
		s.killSignal = sig
	}
}

// WithMaxClients bounds the number of simultaneously connected clients.
func WithMaxClients(n int) Option {
	return func(s *Server) {
		s.clients = newRegistry(n)
	}
}

// New constructs a server for the given instance paths and source command.
func New(paths instance.Paths, command []string, opts ...Option) (*Server, error) {
	if len(command) == 0 {
		return nil, errors.New("no source command given")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		log:     logger.Named("server").Sugar(),
		paths:   paths,
		command: command,
		clients: newRegistry(defaultMaxClients),
	}
	for _, o := range opts {
		o(s)
	}
	s.source = newSource(s.log.Named("source"), command, s.killSignal)
	return s, nil
}

// Run acquires the singleton lock, then serves until the last client
// disconnects. It returns a non-nil error on any fatal condition; in all
// cases the instance artifacts are cleaned up before returning.
func (s *Server) Run() error {
	lock, err := instance.AcquireLock(s.paths.Lock)
	if err != nil {
		return err
	}
	s.lock = lock

	if err := instance.WritePIDFile(s.paths.PID); err != nil {
		s.cleanup()
		return err
	}

	stopSignals := s.watchSignals()
	defer stopSignals()

	err = s.serve()
	s.cleanup()
	return err
}

// watchSignals installs the asynchronous signal contract: SIGHUP only sets
// the restart flag, consumed by the next loop iteration; SIGTERM and
// SIGINT run the synchronous cleanup sequence and terminate the process.
func (s *Server) watchSignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				s.log.Infof("received %s, scheduling source restart", sig)
				s.restart.Store(true)
				continue
			}
			s.log.Infof("received %s, shutting down", sig)
			s.cleanup()
			os.Exit(1)
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(sigCh)
	}
}

// serve is the single-threaded server loop: accept pending clients, bring
// the source state in line with the client population, pump one buffer,
// repeat until no clients remain.
func (s *Server) serve() error {
	for {
		if err := s.acceptPending(); err != nil {
			return err
		}
		if err := s.ensureSource(); err != nil {
			return err
		}
		if err := s.pump(); err != nil {
			return err
		}
		if s.clients.len() == 0 {
			s.log.Info("last client disconnected, exiting")
			return nil
		}
	}
}

// acceptPending accepts all currently pending client connections. With no
// clients connected it blocks until one arrives, which suspends the whole
// server at zero CPU cost while idle; otherwise it drains the listener's
// backlog without blocking and returns.
func (s *Server) acceptPending() error {
	if s.listener == nil {
		if err := s.listen(); err != nil {
			return err
		}
	}

	if s.clients.len() == 0 {
		s.log.Info("no clients, blocking until one connects")
		conn, err := s.listener.Accept()
		if err != nil {
			return fmt.Errorf("accepting client: %w", err)
		}
		s.register(conn)
	}

	for {
		conn, ok, err := s.tryAccept()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.register(conn)
	}
}

// tryAccept accepts one pending connection without blocking, reporting
// ok=false when the backlog is empty.
func (s *Server) tryAccept() (conn net.Conn, ok bool, err error) {
	rawConn, err := s.listener.SyscallConn()
	if err != nil {
		return nil, false, fmt.Errorf("getting raw listener conn: %w", err)
	}

	nfd := -1
	var acceptErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		for {
			nfd, _, acceptErr = unix.Accept(int(fd))
			if acceptErr == unix.EINTR {
				continue
			}
			return
		}
	})
	if ctrlErr != nil {
		return nil, false, fmt.Errorf("accepting client: %w", ctrlErr)
	}
	if acceptErr == unix.EAGAIN || acceptErr == unix.EWOULDBLOCK {
		// no more pending connections
		return nil, false, nil
	}
	if acceptErr != nil {
		return nil, false, fmt.Errorf("accepting client: %w", acceptErr)
	}

	// hand the fd to the runtime so writes block the caller, not a thread
	f := os.NewFile(uintptr(nfd), "client")
	conn, err = net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, false, fmt.Errorf("wrapping client conn: %w", err)
	}
	return conn, true, nil
}

// register appends a freshly accepted connection to the registry, closing
// it instead when the registry is full.
func (s *Server) register(conn net.Conn) {
	c := newClient(conn)
	if !s.clients.add(c) {
		s.log.Warnf("client limit (%d) exceeded, dropping new connection", s.clients.max)
		conn.Close()
		return
	}
	s.log.Infof("new client %s (%d/%d -> %d)", c.id, s.clients.len()-1, s.clients.len()-1, s.clients.len())
}

// listen binds the rendezvous socket, removing any stale socket file left
// by a previous instance first.
func (s *Server) listen() error {
	if err := os.Remove(s.paths.Socket); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.paths.Socket, err)
	}

	var mask int
	if s.world {
		mask = unix.Umask(0)
	}
	l, err := net.Listen("unix", s.paths.Socket)
	if s.world {
		unix.Umask(mask)
	}
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.paths.Socket, err)
	}

	s.listener = l.(*net.UnixListener)
	// the socket file must outlive individual Close calls during cleanup
	// ordering, so we unlink it ourselves
	s.listener.SetUnlinkOnClose(false)
	return nil
}

// ensureSource brings the source process state in line with the client
// population and any pending restart request: close on restart or when the
// registry empties, spawn when clients exist and no source is running.
func (s *Server) ensureSource() error {
	if s.restart.Swap(false) || s.clients.len() == 0 {
		s.source.close()
	}
	if s.source.running() || s.clients.len() == 0 {
		return nil
	}
	return s.source.open()
}

// cleanup tears down all instance state, best effort, in a fixed order:
// rendezvous socket, pidfile, source process, client connections, lock.
// It is safe to call more than once.
func (s *Server) cleanup() {
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	os.Remove(s.paths.Socket)
	instance.RemovePIDFile(s.paths.PID)
	s.source.close()
	s.clients.closeAll()
	if s.lock != nil {
		s.lock.Release()
		s.lock = nil
	}
}
