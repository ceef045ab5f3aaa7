package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/outboxware/outbox/internal/chain"
	"github.com/outboxware/outbox/internal/fallback"
	"github.com/outboxware/outbox/internal/handler"
	"github.com/outboxware/outbox/internal/invoker"
	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/platform/clock"
	"github.com/outboxware/outbox/internal/retry"
	"github.com/outboxware/outbox/internal/store"
)

type fakeCodec struct{}

func (fakeCodec) Decode(recordType string, payload []byte) (any, error) { return string(payload), nil }

type fakeOwner struct{ partitions []int }

func (f fakeOwner) Owned() []int { return f.partitions }

// fakeRecordStore keeps records grouped by key, in insertion order, and
// mutates them in place the way a real MarkCompleted/MarkRetry/MarkFailed
// would mutate the underlying row.
type fakeRecordStore struct {
	byKey map[string][]*model.OutboxRecord
	byID  map[string]*model.OutboxRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{byKey: map[string][]*model.OutboxRecord{}, byID: map[string]*model.OutboxRecord{}}
}

func (s *fakeRecordStore) add(rec *model.OutboxRecord) {
	s.byKey[rec.Key] = append(s.byKey[rec.Key], rec)
	s.byID[rec.ID] = rec
}

func (s *fakeRecordStore) Create(ctx context.Context, db store.Execer, rec *model.OutboxRecord) error {
	s.add(rec)
	return nil
}

func (s *fakeRecordStore) Get(ctx context.Context, id string) (*model.OutboxRecord, error) {
	rec, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (s *fakeRecordStore) ReadyKeys(ctx context.Context, partitions []int, limit int, ignorePreviouslyFailed bool, now time.Time) ([]string, error) {
	allowed := map[int]bool{}
	for _, p := range partitions {
		allowed[p] = true
	}
	var keys []string
	for key, recs := range s.byKey {
		ready := false
		for _, r := range recs {
			if allowed[r.Partition] && r.Ready(now) {
				ready = true
				break
			}
		}
		if ready {
			keys = append(keys, key)
		}
	}
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (s *fakeRecordStore) IncompleteByKey(ctx context.Context, key string) ([]*model.OutboxRecord, error) {
	var out []*model.OutboxRecord
	for _, r := range s.byKey[key] {
		if r.Incomplete() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRecordStore) MarkCompleted(ctx context.Context, id string, failureCount int, now time.Time, del bool) error {
	rec := s.byID[id]
	rec.Status = model.StatusCompleted
	rec.FailureCount = failureCount
	rec.CompletedAt = &now
	return nil
}

func (s *fakeRecordStore) MarkRetry(ctx context.Context, id string, failureCount int, nextRetryAt time.Time, failureException string) error {
	rec := s.byID[id]
	rec.FailureCount = failureCount
	rec.NextRetryAt = nextRetryAt
	return nil
}

func (s *fakeRecordStore) MarkFailed(ctx context.Context, id string, failureCount int, failureException string) error {
	rec := s.byID[id]
	rec.Status = model.StatusFailed
	rec.FailureCount = failureCount
	return nil
}

func newRecord(id, key string, partition int, handlerID string, now time.Time) *model.OutboxRecord {
	return &model.OutboxRecord{
		ID: id, Key: key, Partition: partition, HandlerID: handlerID, RecordType: "t",
		Payload: []byte("payload"), Status: model.StatusNew, CreatedAt: now, NextRetryAt: now,
	}
}

func newTestChain(t *testing.T, records store.RecordStore, handlers *handler.Registry, retries *retry.Registry, clk clock.Clock) *chain.Chain {
	t.Helper()
	inv := invoker.New(zerolog.Nop())
	fb := fallback.New()
	return chain.New(records, handlers, retries, inv, fb, fakeCodec{}, clk, true, zerolog.Nop())
}

func TestTickProcessesReadyKeyAndAdvances(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	records := newFakeRecordStore()
	records.add(newRecord("r1", "k1", 5, "h", clk.Now()))

	handlers := handler.New()
	require.NoError(t, handlers.Register(handler.Descriptor{
		HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error { return nil },
	}))
	retries := retry.NewRegistry(retry.Fixed{Delay: time.Millisecond, Attempts: 3})
	c := newTestChain(t, records, handlers, retries, clk)

	sched := New(records, fakeOwner{partitions: []int{5}}, c, clk, FixedTrigger{Delay: time.Second}, 10, 4, false, true, zerolog.Nop())

	count, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, model.StatusCompleted, records.byID["r1"].Status)
}

func TestTickSkipsPartitionsNotOwned(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	records := newFakeRecordStore()
	records.add(newRecord("r1", "k1", 5, "h", clk.Now()))

	handlers := handler.New()
	require.NoError(t, handlers.Register(handler.Descriptor{
		HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error { return nil },
	}))
	retries := retry.NewRegistry(retry.Fixed{Delay: time.Millisecond, Attempts: 3})
	c := newTestChain(t, records, handlers, retries, clk)

	sched := New(records, fakeOwner{partitions: []int{7}}, c, clk, FixedTrigger{Delay: time.Second}, 10, 4, false, true, zerolog.Nop())

	count, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, model.StatusNew, records.byID["r1"].Status)
}

func TestProcessKeyStopsAtRescheduledRecord(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	records := newFakeRecordStore()
	records.add(newRecord("r1", "k1", 0, "h", clk.Now()))
	records.add(newRecord("r2", "k1", 0, "h", clk.Now()))

	handlers := handler.New()
	require.NoError(t, handlers.Register(handler.Descriptor{
		HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error {
			return errors.New("boom")
		},
	}))
	retries := retry.NewRegistry(retry.Fixed{Delay: time.Minute, Attempts: 3})
	c := newTestChain(t, records, handlers, retries, clk)

	sched := New(records, fakeOwner{partitions: []int{0}}, c, clk, FixedTrigger{Delay: time.Second}, 10, 4, false, true, zerolog.Nop())

	count, err := sched.processKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, count) // first record processed (rescheduled), second never reached
	require.Equal(t, model.StatusNew, records.byID["r2"].Status)
}

func TestProcessKeyStopsOnFailureWhenConfigured(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	records := newFakeRecordStore()
	records.add(newRecord("r1", "k1", 0, "h", clk.Now()))
	records.add(newRecord("r2", "k1", 0, "h", clk.Now()))

	handlers := handler.New()
	require.NoError(t, handlers.Register(handler.Descriptor{
		HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error {
			return errors.New("boom")
		},
	}))
	retries := retry.NewRegistry(retry.Fixed{Delay: time.Millisecond, Attempts: 1})
	c := newTestChain(t, records, handlers, retries, clk)

	sched := New(records, fakeOwner{partitions: []int{0}}, c, clk, FixedTrigger{Delay: time.Second}, 10, 4, false, true, zerolog.Nop())

	count, err := sched.processKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, model.StatusFailed, records.byID["r1"].Status)
	require.Equal(t, model.StatusNew, records.byID["r2"].Status)
}

func TestProcessKeyContinuesPastFailureWhenNotStopping(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	records := newFakeRecordStore()
	records.add(newRecord("r1", "k1", 0, "h", clk.Now()))
	records.add(newRecord("r2", "k1", 0, "ok", clk.Now()))

	handlers := handler.New()
	require.NoError(t, handlers.Register(handler.Descriptor{
		HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error {
			return errors.New("boom")
		},
	}))
	require.NoError(t, handlers.Register(handler.Descriptor{
		HandlerID: "ok", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error { return nil },
	}))
	retries := retry.NewRegistry(retry.Fixed{Delay: time.Millisecond, Attempts: 1})
	c := newTestChain(t, records, handlers, retries, clk)

	sched := New(records, fakeOwner{partitions: []int{0}}, c, clk, FixedTrigger{Delay: time.Second}, 10, 4, false, false, zerolog.Nop())

	count, err := sched.processKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, model.StatusFailed, records.byID["r1"].Status)
	require.Equal(t, model.StatusCompleted, records.byID["r2"].Status)
}

func TestTickReturnsZeroWhenNoPartitionsOwned(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	records := newFakeRecordStore()
	handlers := handler.New()
	retries := retry.NewRegistry(retry.Fixed{Delay: time.Millisecond, Attempts: 1})
	c := newTestChain(t, records, handlers, retries, clk)

	sched := New(records, fakeOwner{}, c, clk, FixedTrigger{Delay: time.Second}, 10, 4, false, true, zerolog.Nop())

	count, err := sched.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
