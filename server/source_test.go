package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// "yes" floods its stdout, so it exits on EPIPE as soon as the server
// closes the pipe, which lets close() reap it without a kill signal.
func newSourceServer(t *testing.T) *Server {
	s := newPumpServer(t, nil, []string{"yes"})
	t.Cleanup(s.source.close)
	return s
}

func TestSourceStaysClosedWithNoClients(t *testing.T) {
	s := newSourceServer(t)

	require.NoError(t, s.ensureSource())
	assert.False(t, s.source.running())
}

func TestSourceLazyStartAndSpawnOnce(t *testing.T) {
	s := newSourceServer(t)

	c, _ := pipeClient(t)
	require.True(t, s.clients.add(c))

	require.NoError(t, s.ensureSource())
	require.True(t, s.source.running())
	first := s.source.cmd

	// already open: no second invocation
	require.NoError(t, s.ensureSource())
	assert.Same(t, first, s.source.cmd)
}

func TestSourceRestartCoalesced(t *testing.T) {
	s := newSourceServer(t)

	c, _ := pipeClient(t)
	require.True(t, s.clients.add(c))
	require.NoError(t, s.ensureSource())
	first := s.source.cmd

	// two requests before the next iteration consume as one
	s.restart.Store(true)
	s.restart.Store(true)

	require.NoError(t, s.ensureSource())
	require.True(t, s.source.running())
	second := s.source.cmd
	assert.NotSame(t, first, second)
	assert.False(t, s.restart.Load())

	// no further restart pending
	require.NoError(t, s.ensureSource())
	assert.Same(t, second, s.source.cmd)
}

func TestSourceClosesWhenRegistryEmpties(t *testing.T) {
	s := newSourceServer(t)

	c, _ := pipeClient(t)
	require.True(t, s.clients.add(c))
	require.NoError(t, s.ensureSource())
	require.True(t, s.source.running())

	s.clients.removeAt(0)
	require.NoError(t, s.ensureSource())
	assert.False(t, s.source.running())
}
