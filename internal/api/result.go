package api

import "net/http"

// Result is the outcome of a call the service answered: either Success with a
// value or Failure with the message from the response envelope.
// Transport problems are reported as Go errors alongside, never as a Result.
type Result[T any] struct {
	value    T
	hasValue bool
	message  string
	failed   bool
	status   int
}

// Success wraps a successful payload.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value, hasValue: true}
}

// Acknowledged is a Success whose envelope carried no payload.
func Acknowledged[T any]() Result[T] {
	return Result[T]{}
}

// Failure wraps an application-level error message.
func Failure[T any](message string) Result[T] {
	return Result[T]{message: message, failed: true}
}

// FailureWithStatus wraps an error message together with the HTTP status it came with.
func FailureWithStatus[T any](message string, status int) Result[T] {
	return Result[T]{message: message, failed: true, status: status}
}

// OK reports whether r is a Success.
func (r Result[T]) OK() bool { return !r.failed }

// HasValue reports whether r is a Success that carried a payload.
func (r Result[T]) HasValue() bool { return !r.failed && r.hasValue }

// Value returns the payload. It is the zero value for a Failure or an
// acknowledgement without payload.
func (r Result[T]) Value() T { return r.value }

// Message returns the failure message. It is empty for a Success.
func (r Result[T]) Message() string { return r.message }

// Status returns the HTTP status of a Failure, or 0 when unknown.
func (r Result[T]) Status() int { return r.status }

// NotFound reports whether the service answered that the resource does not exist.
func (r Result[T]) NotFound() bool { return r.failed && r.status == http.StatusNotFound }

// Err returns the failure as an *EnvelopeError, or nil for a Success.
func (r Result[T]) Err() error {
	if !r.failed {
		return nil
	}
	return &EnvelopeError{Message: r.message}
}

// EnvelopeError is a failure envelope surfaced as a Go error.
type EnvelopeError struct {
	Message string
}

func (e *EnvelopeError) Error() string { return e.Message }
