package redelivery

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryable marks a handler error as transient. Wrap errors with
	// Retryable, or join/wrap this sentinel directly.
	ErrRetryable = errors.New("retryable processing failure")

	// ErrInvalid marks a decoded message that failed validation. It is never retried.
	ErrInvalid = errors.New("invalid message")

	// ErrRecovererFailure is returned by the engine when publishing to the
	// dead-letter destination fails. It is fatal for the partition.
	ErrRecovererFailure = errors.New("dead-letter recovery failed")

	// ErrHandlerPanic wraps a panic raised by a handler.
	ErrHandlerPanic = errors.New("handler panicked")
)

// RetryableError wraps a transient failure.
type RetryableError struct {
	Err error
}

// Retryable wraps err so that the default classifier treats it as transient.
// A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRetryable) match any RetryableError.
func (e *RetryableError) Is(target error) bool { return target == ErrRetryable }

// ConversionError describes a payload that could not be decoded.
// Re-decoding the same bytes never succeeds, so it is always terminal.
type ConversionError struct {
	Topic  string
	Offset int64
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed for %s@%d: %v", e.Topic, e.Offset, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Invalid wraps a validation failure with ErrInvalid.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, reason)
}
