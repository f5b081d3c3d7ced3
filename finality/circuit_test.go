package finality

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerHaltsAfterMaxSyncAttempts(t *testing.T) {
	maxAttempts := 3
	state := CircuitState{Kind: Running}

	expected := []CircuitState{
		{Kind: Sync, Attempt: 1},
		{Kind: Sync, Attempt: 2},
		{Kind: Sync, Attempt: 3},
		{Kind: Halted},
	}
	for _, want := range expected {
		state = Transition(state, InputFinalityFailure, maxAttempts)
		require.Equal(t, want, state)
	}

	// Halted ignores further failures until an operator reset arrives.
	state = Transition(state, InputFinalityFailure, maxAttempts)
	require.Equal(t, CircuitState{Kind: Halted}, state)

	state = Transition(state, InputOperatorReset, maxAttempts)
	require.Equal(t, CircuitState{Kind: Running}, state)
}

func TestCircuitBreakerSyncSuccessReturnsToRunning(t *testing.T) {
	state := CircuitState{Kind: Running}
	state = Transition(state, InputFinalityFailure, 3)
	require.Equal(t, CircuitState{Kind: Sync, Attempt: 1}, state)

	state = Transition(state, InputSyncSuccess, 3)
	require.Equal(t, CircuitState{Kind: Running}, state)
}

func TestCircuitBreakerResetIsNoOpWhenNotHalted(t *testing.T) {
	state := CircuitState{Kind: Running}
	require.Equal(t, state, Transition(state, InputOperatorReset, 3))
}
