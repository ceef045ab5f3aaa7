// Package chain implements the processor chain of responsibility — primary
// handler invocation, retry scheduling, then fallback — evaluated once per
// outbox record (spec.md §4.4).
package chain

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/outboxware/outbox/internal/errtax"
	"github.com/outboxware/outbox/internal/fallback"
	"github.com/outboxware/outbox/internal/handler"
	"github.com/outboxware/outbox/internal/invoker"
	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/platform/clock"
	"github.com/outboxware/outbox/internal/retry"
	"github.com/outboxware/outbox/internal/store"
)

// Outcome reports what happened to a record after one pass through the
// chain, so the scheduler knows whether to keep processing the rest of
// the record's key this tick (spec.md §4.7 step 3).
type Outcome int

const (
	// Completed means the record succeeded (primary or fallback) and is
	// COMPLETED or deleted.
	Completed Outcome = iota
	// Rescheduled means stage 2 set a future nextRetryAt; the scheduler
	// must stop processing this key for the rest of the tick.
	Rescheduled
	// Failed means the record reached the terminal FAILED state.
	Failed
)

// Codec decodes a record's raw payload bytes into the value passed to
// handlers. The engine treats serialization as an external concern
// (spec.md §1); JSON is the default implementation (see outbox.go).
type Codec interface {
	Decode(recordType string, payload []byte) (any, error)
}

// Chain wires the handler registry, retry registry and fallback invoker
// together to process one record at a time.
type Chain struct {
	records                store.RecordStore
	handlers               *handler.Registry
	retries                *retry.Registry
	invoker                *invoker.Invoker
	fallback               *fallback.Invoker
	codec                  Codec
	clock                  clock.Clock
	deleteCompletedRecords bool
	log                    zerolog.Logger
}

// New builds a Chain.
func New(
	records store.RecordStore,
	handlers *handler.Registry,
	retries *retry.Registry,
	inv *invoker.Invoker,
	fb *fallback.Invoker,
	codec Codec,
	clk clock.Clock,
	deleteCompletedRecords bool,
	log zerolog.Logger,
) *Chain {
	return &Chain{
		records:                records,
		handlers:               handlers,
		retries:                retries,
		invoker:                inv,
		fallback:               fb,
		codec:                  codec,
		clock:                  clk,
		deleteCompletedRecords: deleteCompletedRecords,
		log:                    log,
	}
}

// Process evaluates the three stages for rec and returns how the record
// ended up so the scheduler can decide whether to continue its key.
func (c *Chain) Process(ctx context.Context, rec *model.OutboxRecord) (Outcome, error) {
	descriptor, err := c.handlers.Resolve(rec.HandlerID)
	if err != nil {
		c.log.Error().Str("record_id", rec.ID).Str("handler_id", rec.HandlerID).Err(err).Msg("unknown handler, failing record")
		failMsg := errtax.New(errtax.KindUnknownHandler, err).Error()
		// No handler ran, so the failure count is unaffected.
		if markErr := c.records.MarkFailed(ctx, rec.ID, rec.FailureCount, failMsg); markErr != nil {
			return Failed, fmt.Errorf("mark failed after unknown handler: %w", markErr)
		}
		return Failed, nil
	}

	payload, err := c.codec.Decode(rec.RecordType, rec.Payload)
	if err != nil {
		c.log.Error().Str("record_id", rec.ID).Err(err).Msg("payload decode failed, failing record")
		failMsg := errtax.New(errtax.KindSerialization, err).Error()
		if markErr := c.records.MarkFailed(ctx, rec.ID, rec.FailureCount, failMsg); markErr != nil {
			return Failed, fmt.Errorf("mark failed after decode error: %w", markErr)
		}
		return Failed, nil
	}

	meta := handler.Metadata{
		Key:       rec.Key,
		HandlerID: rec.HandlerID,
		CreatedAt: rec.CreatedAt.UnixNano(),
		Context:   rec.Context,
	}

	// Stage 1: primary.
	invokeErr := c.invoker.Invoke(ctx, descriptor, payload, meta)
	if invokeErr == nil {
		return c.complete(ctx, rec, rec.FailureCount)
	}

	// Stage 2: retry.
	policy := c.retries.Resolve(rec.HandlerID)
	nextFailureCount := rec.FailureCount + 1
	if nextFailureCount < policy.MaxAttempts() && policy.ShouldRetry(invokeErr) {
		now := c.clock.Now()
		nextRetryAt := now.Add(policy.NextDelay(nextFailureCount))
		if err := c.records.MarkRetry(ctx, rec.ID, nextFailureCount, nextRetryAt, invokeErr.Error()); err != nil {
			return Rescheduled, fmt.Errorf("mark retry: %w", err)
		}
		return Rescheduled, nil
	}

	// Stage 3: fallback.
	fc := handler.FailureContext{
		RecordID:              rec.ID,
		Key:                   rec.Key,
		CreatedAt:             rec.CreatedAt.UnixNano(),
		FailureCount:          nextFailureCount,
		LastFailure:           invokeErr,
		HandlerID:             rec.HandlerID,
		RetriesExhausted:      nextFailureCount >= policy.MaxAttempts(),
		NonRetryableException: !policy.ShouldRetry(invokeErr),
		Context:               rec.Context,
	}
	invoked, fbErr := c.fallback.Invoke(ctx, descriptor, payload, meta, fc)
	if invoked && fbErr == nil {
		// The fallback only ran because the primary handler failed
		// nextFailureCount times; that history is still part of the record.
		return c.complete(ctx, rec, nextFailureCount)
	}

	var summary string
	switch {
	case invoked && fbErr != nil:
		summary = errtax.New(errtax.KindFallbackFailure, fbErr).Error()
	default:
		summary = errtax.New(errtax.KindHandlerFailure, invokeErr).Error()
	}
	if err := c.records.MarkFailed(ctx, rec.ID, nextFailureCount, summary); err != nil {
		return Failed, fmt.Errorf("mark failed: %w", err)
	}
	return Failed, nil
}

func (c *Chain) complete(ctx context.Context, rec *model.OutboxRecord, failureCount int) (Outcome, error) {
	if err := c.records.MarkCompleted(ctx, rec.ID, failureCount, c.clock.Now(), c.deleteCompletedRecords); err != nil {
		return Completed, fmt.Errorf("mark completed: %w", err)
	}
	return Completed, nil
}
