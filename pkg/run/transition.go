package run

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminalState is returned when an update tries to leave a terminal state.
	ErrTerminalState = errors.New("run is in a terminal state")

	// ErrInvalidTransition is returned for an edge that is not in the table.
	ErrInvalidTransition = errors.New("invalid run transition")
)

// transitions is the complete edge table. Terminal states have no outgoing
// edges.
var transitions = map[Status]map[Status]struct{}{
	StatusSubmitted: {
		StatusRunning: {},
		StatusFailed:  {},
	},
	StatusRunning: {
		StatusCompleted: {},
		StatusTimedOut:  {},
		StatusFailed:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusTimedOut:  {},
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	RunID string
	From  Status
	To    Status
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("run %s: %s -> %s: %v", e.RunID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// InvalidStatusError is returned when a persisted status cannot be parsed.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid run status: %q", e.Value)
}

// Transition validates from -> to.
//
// Repeating the current state is an accepted no-op (changed=false, err=nil);
// concurrent observers of the same completion signal rely on this.
func Transition(runID string, from, to Status) (changed bool, err error) {
	if !from.Valid() {
		return false, &InvalidStatusError{Value: string(from)}
	}
	if !to.Valid() {
		return false, &InvalidStatusError{Value: string(to)}
	}
	if from == to {
		return false, nil
	}
	if from.Terminal() {
		return false, &TransitionError{RunID: runID, From: from, To: to, Err: ErrTerminalState}
	}
	if _, ok := transitions[from][to]; !ok {
		return false, &TransitionError{RunID: runID, From: from, To: to, Err: ErrInvalidTransition}
	}
	return true, nil
}

// CanTransition reports whether from -> to is an edge of the table.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// AllStatuses returns every defined status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusSubmitted, StatusRunning, StatusCompleted, StatusFailed, StatusTimedOut}
}
