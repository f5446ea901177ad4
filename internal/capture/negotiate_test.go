package capture

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiatorHappyPath(t *testing.T) {
	n := NewNegotiator()
	var seen [][2]State
	n.Observe(func(old, new State) { seen = append(seen, [2]State{old, new}) })

	require.NoError(t, n.Transition(Connecting))
	require.NoError(t, n.Propose(testFormat))
	pending, ok := n.PendingFormat()
	assert.True(t, ok)
	assert.Equal(t, testFormat, pending)

	require.NoError(t, n.Accept(testFormat))
	assert.Equal(t, Streaming, n.State())
	active, ok := n.ActiveFormat()
	assert.True(t, ok)
	assert.Equal(t, testFormat, active)
	_, ok = n.PendingFormat()
	assert.False(t, ok)

	assert.Equal(t, [][2]State{
		{Disconnected, Connecting},
		{Connecting, Negotiating},
		{Negotiating, Streaming},
	}, seen)
}

func TestNegotiatorRejects(t *testing.T) {
	n := NewNegotiator()

	// Streaming is only reachable through Negotiating.
	assert.True(t, errors.Is(n.Transition(Streaming), ErrInvalidTransition))
	assert.True(t, errors.Is(n.Accept(testFormat), ErrInvalidTransition))
	assert.True(t, errors.Is(n.Propose(testFormat), ErrInvalidTransition))
	assert.Equal(t, Disconnected, n.State())

	require.NoError(t, n.Transition(Connecting))
	require.NoError(t, n.Fail())

	// Error is sticky.
	assert.Error(t, n.Transition(Streaming))
	assert.Error(t, n.Transition(Connecting))
	assert.Error(t, n.Propose(testFormat))
	assert.Equal(t, Error, n.State())

	require.NoError(t, n.Transition(Disconnected))
	assert.NoError(t, n.Transition(Connecting))
}

func TestNegotiatorPause(t *testing.T) {
	n := NewNegotiator()
	require.NoError(t, n.Transition(Connecting))
	require.NoError(t, n.Propose(testFormat))
	require.NoError(t, n.Accept(testFormat))

	assert.True(t, n.CompareAndTransition(Streaming, Paused))
	assert.False(t, n.CompareAndTransition(Streaming, Paused))

	// A proposal while paused renegotiates.
	other := testFormat
	other.Width = 8
	require.NoError(t, n.Propose(other))
	assert.Equal(t, Negotiating, n.State())

	// A second proposal replaces the first.
	other.Width = 16
	require.NoError(t, n.Propose(other))
	pending, _ := n.PendingFormat()
	assert.Equal(t, uint32(16), pending.Width)
}

func TestNegotiatorClose(t *testing.T) {
	n := NewNegotiator()
	require.NoError(t, n.Transition(Connecting))

	var last State = -1
	n.Observe(func(_, new State) { last = new })
	n.Close()
	n.Close()

	assert.Equal(t, Disconnected, n.State())
	assert.Equal(t, Disconnected, last)
	assert.Equal(t, ErrSessionClosed, n.Transition(Connecting))
	assert.False(t, n.CompareAndTransition(Disconnected, Connecting))
}
