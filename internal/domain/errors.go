// Package domain holds the outcome taxonomy shared by every aggregate.
//
// Three kinds of failure leave a mutating operation:
//
//   - an invalid state transition is an expected business outcome; the
//     aggregate is left untouched and the caller may recover;
//   - an invariant violation is a contract breach; the enclosing unit of
//     work aborts with zero ledger mutation;
//   - not-found, for operations addressed at a missing aggregate.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is the category every *TransitionError unwraps to.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvariant marks a broken invariant, e.g. a refund over the
	// refundable balance.
	ErrInvariant = errors.New("invariant violation")

	ErrNotFound = errors.New("not found")
)

// TransitionError reports a verb fired from a state that does not permit it.
type TransitionError struct {
	Entity string
	From   string
	Verb   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from status %q", e.Entity, e.Verb, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NewTransitionError builds the typed failure result for a rejected verb.
func NewTransitionError(entity, from, verb string) *TransitionError {
	return &TransitionError{Entity: entity, From: from, Verb: verb}
}

// Invariant wraps ErrInvariant with a formatted description.
func Invariant(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
