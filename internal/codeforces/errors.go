package codeforces

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound means the judge does not know the handle. It is permanent.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAPIUnavailable means retries were exhausted or the request itself was rejected.
	ErrAPIUnavailable = errors.New("judge api unavailable")
	// ErrInterrupted means the context was cancelled while waiting.
	ErrInterrupted = errors.New("interrupted")
)

type APIError struct {
	Handle string
	Kind   error
	Cause  error
}

func (e *APIError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Handle, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Handle, e.Kind, e.Cause)
}

func (e *APIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Reason is the human readable cause, without the handle prefix.
func (e *APIError) Reason() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Cause.Error()
}

// transientError marks a failure worth another attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}
