// Package fault classifies pipeline failures into permanent misconfiguration
// and transient upstream errors. Both land a conversation in the failed
// state; the split drives logging and metrics, and tells operators whether a
// retry can ever succeed.
package fault

import (
	"errors"
	"fmt"
)

// PermanentError marks a misconfiguration (missing assistant, knowledge base
// or thread binding). Retrying without an operator fix is pointless.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string { return e.err.Error() }
func (e *PermanentError) Unwrap() error { return e.err }

// RetryableError marks a transient upstream failure (rate limit, timeout,
// API outage) eligible for the recovery sweep's blanket retry.
type RetryableError struct {
	err error
}

func (e *RetryableError) Error() string { return e.err.Error() }
func (e *RetryableError) Unwrap() error { return e.err }

// Permanent wraps err as a PermanentError.
func Permanent(format string, args ...any) error {
	return &PermanentError{err: fmt.Errorf(format, args...)}
}

// Retryable wraps err as a RetryableError.
func Retryable(format string, args ...any) error {
	return &RetryableError{err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err is, or wraps, a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsRetryable reports whether err is, or wraps, a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Class returns a short label for metrics and logs.
func Class(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsPermanent(err):
		return "permanent"
	case IsRetryable(err):
		return "retryable"
	default:
		return "unknown"
	}
}
