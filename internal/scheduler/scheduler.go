// Package scheduler drives the processor chain for records this instance
// owns, at a rate controlled by a poll Trigger, with per-key ordering and
// bounded fan-out concurrency (spec.md §4.7).
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/outboxware/outbox/internal/chain"
	"github.com/outboxware/outbox/internal/platform/clock"
	"github.com/outboxware/outbox/internal/platform/logger"
	"github.com/outboxware/outbox/internal/store"
)

// PartitionOwner supplies the partitions this instance currently owns;
// implemented by partition.Coordinator.
type PartitionOwner interface {
	Owned() []int
}

// Scheduler runs the tick algorithm in spec.md §4.7.
type Scheduler struct {
	records                             store.RecordStore
	owner                               PartitionOwner
	chain                                *chain.Chain
	clock                                clock.Clock
	trigger                             Trigger
	batchSize                           int
	concurrencyLimit                    int
	ignoreRecordKeysWithPreviousFailure bool
	stopOnKeyFailure                    bool
	log                                  zerolog.Logger
}

// New builds a Scheduler.
func New(
	records store.RecordStore,
	owner PartitionOwner,
	c *chain.Chain,
	clk clock.Clock,
	trigger Trigger,
	batchSize, concurrencyLimit int,
	ignoreRecordKeysWithPreviousFailure, stopOnKeyFailure bool,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		records:                             records,
		owner:                               owner,
		chain:                               c,
		clock:                               clk,
		trigger:                             trigger,
		batchSize:                           batchSize,
		concurrencyLimit:                    concurrencyLimit,
		ignoreRecordKeysWithPreviousFailure: ignoreRecordKeysWithPreviousFailure,
		stopOnKeyFailure:                    stopOnKeyFailure,
		log:                                 log,
	}
}

// Run drives ticks, sleeping between them for whatever the trigger
// reports, until ctx is canceled. Cancellation is observed between ticks
// and between key-tasks within a tick (spec.md §4.7 "Cancellation").
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		count, err := s.Tick(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("scheduler tick failed")
		}
		delay := s.trigger.NextDelay(count)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Tick runs one pass of the algorithm and returns the total number of
// records processed, for the trigger to adapt on.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	partitions := s.owner.Owned()
	if len(partitions) == 0 {
		return 0, nil
	}

	keys, err := s.records.ReadyKeys(ctx, partitions, s.batchSize, s.ignoreRecordKeysWithPreviousFailure, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrencyLimit)

	counts := make([]int, len(keys))
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			n, err := s.processKey(gctx, key)
			counts[i] = n
			return err
		})
	}

	runErr := g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, runErr
}

// processKey loads a key's incomplete records in order and runs the chain
// against each, stopping at the first boundary condition (spec.md §4.7
// step 3, §4.9).
func (s *Scheduler) processKey(ctx context.Context, key string) (int, error) {
	records, err := s.records.IncompleteByKey(ctx, key)
	if err != nil {
		return 0, err
	}

	processed := 0
	now := s.clock.Now()
	for _, rec := range records {
		if ctx.Err() != nil {
			return processed, nil
		}
		if !rec.Ready(now) {
			break // head-of-line: not yet eligible or not NEW
		}

		outcome, err := s.chain.Process(ctx, rec)
		if err != nil {
			logger.WithRecord(s.log, rec.ID, key, rec.HandlerID).Error().Err(err).Msg("chain process error")
			return processed, err
		}
		processed++

		switch outcome {
		case chain.Rescheduled:
			return processed, nil // stage 2 rescheduled: stop this key
		case chain.Failed:
			if s.stopOnKeyFailure {
				return processed, nil
			}
			// continue to next same-key record
		case chain.Completed:
			// continue to next same-key record
		}
	}
	return processed, nil
}
