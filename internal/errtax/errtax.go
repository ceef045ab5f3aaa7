// Package errtax names the engine's error kinds so callers can branch on
// errors.Is/errors.As instead of string matching.
package errtax

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the engine.
type Kind string

const (
	// KindConfig is a fatal startup configuration problem.
	KindConfig Kind = "config_error"
	// KindNoMatchingHandler means schedule() could not resolve a handler.
	KindNoMatchingHandler Kind = "no_matching_handler"
	// KindUnknownHandler means a record references a handler-id the
	// registry has never seen; fatal for that record.
	KindUnknownHandler Kind = "unknown_handler"
	// KindSerialization means the codec failed to marshal/unmarshal a
	// payload; fatal for that record.
	KindSerialization Kind = "serialization_error"
	// KindHandlerFailure is a normal handler error that flows into retry.
	KindHandlerFailure Kind = "handler_failure"
	// KindNonRetryable means the retry policy decided not to retry;
	// goes straight to fallback.
	KindNonRetryable Kind = "non_retryable"
	// KindFallbackFailure means the fallback itself errored.
	KindFallbackFailure Kind = "fallback_failure"
	// KindConcurrencyConflict is a CAS miss in the partition coordinator.
	KindConcurrencyConflict Kind = "concurrency_conflict"
	// KindTransientStore is a store error worth retrying within the tick.
	KindTransientStore Kind = "transient_store_error"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NonRetryable wraps a handler error so that retry.IsNonRetryable
// recognises it and the built-in retry policies do not retry it.
func NonRetryable(cause error) *Error {
	return New(KindNonRetryable, cause)
}
