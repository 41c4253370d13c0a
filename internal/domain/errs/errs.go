// Package errs defines the error taxonomy shared by every subsystem in the
// content-inspection core. Each kind carries enough context (field name,
// underlying errno where applicable) for audit logging without callers
// having to parse message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the core's recognised categories.
type Kind string

const (
	// KindInvalidInput means an id/filename/URL/hash/size failed a validator.
	KindInvalidInput Kind = "invalid_input"
	// KindResourceFull means a bounded resource (queue, pattern map, alert
	// buffer) is at capacity. Non-fatal; callers decide how to proceed.
	KindResourceFull Kind = "resource_full"
	// KindTransientIO means a retryable I/O failure occurred.
	KindTransientIO Kind = "transient_io"
	// KindPermanentIO means a non-retryable I/O failure occurred.
	KindPermanentIO Kind = "permanent_io"
	// KindProtocol means the external signature engine returned a malformed
	// or non-success response.
	KindProtocol Kind = "protocol"
	// KindIntegrity means a quarantine payload could not be cleaned up
	// after a metadata write failure (the orphaned-file case).
	KindIntegrity Kind = "integrity"
	// KindCircuitOpen means the circuit breaker guarding a dependency is
	// open and rejected the call without attempting it.
	KindCircuitOpen Kind = "circuit_open"
)

// Error is the core's uniform error value. It wraps an underlying cause
// (which may be nil) and carries the field name the failure relates to,
// for audit-log correlation.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Field creates an Error tied to a specific input field, used throughout
// the validators in internal/domain/quarantine, internal/domain/scan, and
// internal/domain/policygraph.
func Field(kind Kind, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors for cases callers commonly check with errors.Is directly.
var (
	// ErrOrphaned is returned by Quarantine when a payload could not be
	// cleaned up after a metadata write failure; the orphan self-heals on
	// the next Initialize() call.
	ErrOrphaned = errors.New("quarantine: payload orphaned after metadata failure")
	// ErrQueueFull is returned when the scan worker pool's queue is at
	// capacity; callers fail open.
	ErrQueueFull = errors.New("scan: queue is full")
	// ErrScanTimeout is returned when a queued scan request waited longer
	// than the configured timeout before a worker could dequeue it.
	ErrScanTimeout = errors.New("scan: request timed out waiting in queue")
	// ErrCircuitOpen is returned by a circuit breaker rejecting a call
	// while in the Open state.
	ErrCircuitOpen = errors.New("circuit breaker: open")
)
