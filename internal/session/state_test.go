package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallStateTransitions(t *testing.T) {
	cases := []struct {
		from, to CallState
		ok       bool
	}{
		{StateInitiating, StateRinging, true},
		{StateInitiating, StateAnswered, true},
		{StateInitiating, StateBusy, true},
		{StateInitiating, StateCanceled, true},
		{StateInitiating, StateDisposed, true},
		{StateRinging, StateAnswered, true},
		{StateRinging, StateBusy, true},
		{StateRinging, StateInitiating, false},
		{StateAnswered, StateRinging, false},
		{StateAnswered, StateBusy, false},
		{StateAnswered, StateDisposed, true},
		{StateBusy, StateDisposed, true},
		{StateCanceled, StateDisposed, true},
		{StateDisposed, StateInitiating, false},
		{StateDisposed, StateAnswered, false},
		{StateDisposed, StateDisposed, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equal(t, tc.ok, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestCallStateTerminal(t *testing.T) {
	assert.True(t, StateDisposed.IsTerminal())
	for _, s := range []CallState{StateInitiating, StateRinging, StateAnswered, StateBusy, StateCanceled} {
		assert.False(t, s.IsTerminal(), "%s", s)
	}
}

func TestCallStateString(t *testing.T) {
	assert.Equal(t, "Answered", StateAnswered.String())
	assert.Equal(t, "Disposed", StateDisposed.String())
	assert.Contains(t, CallState(42).String(), "Unknown")
}
