package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_FullRunSequence(t *testing.T) {
	var transitions [][2]string
	m := New(func(from, to string) {
		transitions = append(transitions, [2]string{from, to})
	})

	assert.Equal(t, StateStarting, m.Current())

	require.NoError(t, m.Trigger(EventStart))
	assert.Equal(t, StateRunning, m.Current())

	require.NoError(t, m.Trigger(EventBeginDrain))
	assert.Equal(t, StateDraining, m.Current())

	require.NoError(t, m.Trigger(EventEndDrain))
	assert.Equal(t, StateRunning, m.Current())

	require.NoError(t, m.Trigger(EventShutdown))
	assert.Equal(t, StateStopping, m.Current())

	require.NoError(t, m.Trigger(EventStopped))
	assert.Equal(t, StateStopped, m.Current())

	require.Len(t, transitions, 5)
	assert.Equal(t, [2]string{StateStarting, StateRunning}, transitions[0])
}

func TestMachine_InvalidTransitionReturnsError(t *testing.T) {
	m := New(nil)
	err := m.Trigger(EventBeginDrain) // cannot drain before starting
	assert.Error(t, err)
}

func TestMachine_ShutdownFromStartingSkipsRunning(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Trigger(EventShutdown))
	assert.Equal(t, StateStopping, m.Current())
}
