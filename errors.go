package outbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrUnregisteredMessageType indicates that an event has no registration
	// in the message-type registry. This is a caller error: the enqueue call
	// fails, the surrounding transaction is otherwise unaffected.
	ErrUnregisteredMessageType = errors.New("unregistered message type")

	// ErrConcurrencyConflict indicates that storage detected a conflicting
	// concurrent write. Transient: the caller should retry the whole unit of
	// work.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrUnitOfWorkDone indicates that a unit of work was already committed
	// or rolled back.
	ErrUnitOfWorkDone = errors.New("unit of work already finished")
)

// UnregisteredMessageTypeError provides details about an event that has no
// registry entry.
type UnregisteredMessageTypeError struct {
	Name string
}

// Error implements the error interface.
func (e *UnregisteredMessageTypeError) Error() string {
	return fmt.Sprintf("no registration for message type %q", e.Name)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *UnregisteredMessageTypeError) Unwrap() error {
	return ErrUnregisteredMessageType
}

// StorageError wraps a failure from the storage collaborator. It surfaces to
// the caller of Commit, or aborts the current dispatcher cycle without
// marking anything dispatched.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("outbox storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// PublishError indicates that the broker rejected or failed a publish
// attempt. The dispatcher stops the current batch at the failing envelope;
// it and every envelope after it are retried on the next cycle.
type PublishError struct {
	Envelope Envelope
	Err      error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing envelope %s to topic %q: %v", e.Envelope.ID, e.Envelope.Topic, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *PublishError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err with the storage operation that failed.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
