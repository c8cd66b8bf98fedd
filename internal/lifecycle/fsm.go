// Package lifecycle implements the poll scheduler's state machine.
package lifecycle

import (
	"fmt"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.SchedulerState][]types.SchedulerState{
	types.StateActive: {types.StateFired},
	types.StateFired:  {},
}

// CanTransition checks if moving from one scheduler state to another is valid.
func CanTransition(from, to types.SchedulerState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a state change, returning an error if it is not allowed.
func Transition(from, to types.SchedulerState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if no further ticks may do work in this state.
func IsTerminal(state types.SchedulerState) bool {
	return state == types.StateFired
}
