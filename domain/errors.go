package domain

import (
	"errors"
	"fmt"
)

// ErrSubscription is recorded when the change feed reports a terminal status.
// It is never returned from Subscribe.
var ErrSubscription = errors.New("change feed subscription lost")

// InvalidArgumentError rejects a malformed request before any mutation.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a task missing from the local cache or the store.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

// FailureKind classifies persistence failures for user-facing reporting.
type FailureKind string

const (
	KindPermission FailureKind = "permission-denied"
	KindNetwork    FailureKind = "network"
	KindSchema     FailureKind = "schema"
	KindUnknown    FailureKind = "unknown"
)

// PersistenceError is returned when a durable write failed after the local
// cache had already been updated. Callers only see it after rollback.
type PersistenceError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("persistence %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: persistence %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UserMessage is the plain-language text shown to the user.
func (e *PersistenceError) UserMessage() string {
	return e.Kind.UserMessage()
}

// UserMessage returns the notification text for the failure kind.
func (k FailureKind) UserMessage() string {
	switch k {
	case KindPermission:
		return "You don't have permission to change this board. Your change was undone."
	case KindNetwork:
		return "Connection problem while saving. Your change was undone, please try again."
	case KindSchema:
		return "The server can't accept this change right now. Your change was undone."
	default:
		return "Something went wrong while saving. Your change was undone."
	}
}
