// Package logger provides a configured zerolog logger.
package logger

import (
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

// New returns a new zerolog.Logger configured for the application. Call
// sites should use .Stack() on error events to include stack traces.
func New(serviceName string) zerolog.Logger {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); ok {
			return err
		}
		return pkgerrors.WithStack(err)
	}

	return zerolog.New(os.Stdout).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

// WithRecord returns a child logger carrying the identifying fields of an
// outbox record (record id, key, handler id), so a log line about a
// record's processing (the scheduler's per-record error line uses it) can
// be correlated back to it without repeating the same three Str calls.
func WithRecord(log zerolog.Logger, recordID, key, handlerID string) zerolog.Logger {
	return log.With().
		Str("record_id", recordID).
		Str("key", key).
		Str("handler_id", handlerID).
		Logger()
}
