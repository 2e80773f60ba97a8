package game

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a game or user does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports an unacceptable request. Message carries a
// round-level or request-level problem, Slots the per-dart violations.
type ValidationError struct {
	Message string
	Slots   map[int][]string
}

func (e *ValidationError) Error() string {
	if len(e.Slots) == 0 {
		return e.Message
	}
	idx := make([]int, 0, len(e.Slots))
	for i := range e.Slots {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, "throw "+strconv.Itoa(i)+": "+strings.Join(e.Slots[i], "; "))
	}
	msg := strings.Join(parts, ", ")
	if e.Message != "" {
		msg = e.Message + ": " + msg
	}
	return msg
}

// Invalid builds a request-level ValidationError.
func Invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StateError reports a request that conflicts with the game's state.
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return e.Message }

var (
	ErrGameCompleted  = &StateError{Message: "This game is already completed."}
	ErrNotParticipant = &StateError{Message: "You must be one of the players in the game."}
	ErrNotYourTurn    = &StateError{Message: "It is not your turn to throw."}
	ErrStaleUpdate    = &StateError{Message: "The game was updated by someone else, reload and try again."}
)

// PersistenceError wraps a failure to load or save the primary game record.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
