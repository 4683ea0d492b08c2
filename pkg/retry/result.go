package retry

import "github.com/ghostcrawl/ghostcrawl/pkg/failure"

// Result carries the outcome of a Retry call: the produced value on success,
// the terminal error on failure, and the number of attempts actually made.
type Result[T any] struct {
	value    T
	err      failure.ClassifiedError
	attempts int
}

// NewSuccessResult builds a successful Result recorded at the given attempt.
func NewSuccessResult[T any](value T, attempts int) Result[T] {
	return Result[T]{value: value, attempts: attempts}
}

// Value returns the produced value. Zero value if the call failed.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the terminal error, or nil on success.
func (r Result[T]) Err() failure.ClassifiedError {
	return r.err
}

// Attempts returns the number of attempts actually made.
func (r Result[T]) Attempts() int {
	return r.attempts
}

// IsSuccess reports whether the call succeeded.
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

// IsFailure reports whether the call failed.
func (r Result[T]) IsFailure() bool {
	return r.err != nil
}
