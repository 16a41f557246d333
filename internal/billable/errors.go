package billable

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates a move outside the transition table.
	ErrInvalidTransition = errors.New("billable: invalid status transition")
	// ErrEventNotFound indicates a missing billing or cost.
	ErrEventNotFound = errors.New("billable: event not found")
	// ErrConcurrentTransition indicates the transaction lost a serialization race.
	ErrConcurrentTransition = errors.New("billable: concurrent transition, retry")
)

// InvalidTransitionError names the attempted transition.
type InvalidTransitionError struct {
	Kind    Kind
	EventID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("billable: %s #%d cannot move from %s to %s", e.Kind.title(), e.EventID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// EventNotFoundError names the missing event.
type EventNotFoundError struct {
	Kind    Kind
	EventID int64
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("billable: %s #%d not found", e.Kind.title(), e.EventID)
}

func (e *EventNotFoundError) Unwrap() error {
	return ErrEventNotFound
}
