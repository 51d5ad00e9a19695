package session

import "fmt"

// CallState represents the lifecycle state of a call session.
type CallState int

const (
	// StateInitiating is the initial state when the session is created.
	StateInitiating CallState = iota
	// StateRinging is after a provisional response (180/183).
	StateRinging
	// StateAnswered is after a final 2xx; media is active.
	StateAnswered
	// StateBusy is the terminal-path state after a final non-2xx.
	StateBusy
	// StateCanceled is the terminal-path state after CANCEL.
	StateCanceled
	// StateDisposed is the final state; resources are released.
	StateDisposed
)

// String returns the string representation of the state.
func (s CallState) String() string {
	switch s {
	case StateInitiating:
		return "Initiating"
	case StateRinging:
		return "Ringing"
	case StateAnswered:
		return "Answered"
	case StateBusy:
		return "Busy"
	case StateCanceled:
		return "Canceled"
	case StateDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[CallState][]CallState{
	StateInitiating: {StateRinging, StateAnswered, StateBusy, StateCanceled, StateDisposed},
	StateRinging:    {StateAnswered, StateBusy, StateCanceled, StateDisposed},
	StateAnswered:   {StateDisposed},
	StateBusy:       {StateDisposed},
	StateCanceled:   {StateDisposed},
	StateDisposed:   {}, // Terminal, no transitions allowed
}

// CanTransitionTo checks if a transition from the current state to next is
// legal.
func (s CallState) CanTransitionTo(next CallState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for the final state.
func (s CallState) IsTerminal() bool {
	return s == StateDisposed
}
