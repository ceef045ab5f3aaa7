// Package storetest exercises a store backend against a fixed compliance
// suite so Postgres and sqlite can be verified identically, the same way
// the teacher's storetest package runs one suite over multiple Store
// implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/store"
)

// Backend bundles the three store contracts a driver package exposes.
type Backend struct {
	Records    store.RecordStore
	Instances  store.InstanceStore
	Partitions store.PartitionStore
	DB         store.Execer
}

// Run exercises the compliance suite against a freshly made backend.
func Run(t *testing.T, makeBackend func(t *testing.T) Backend) {
	t.Helper()
	t.Run("RecordLifecycle", func(t *testing.T) { testRecordLifecycle(t, makeBackend(t)) })
	t.Run("ReadyKeysRespectsPartitions", func(t *testing.T) { testReadyKeysRespectsPartitions(t, makeBackend(t)) })
	t.Run("ReadyKeysIgnoresPreviouslyFailed", func(t *testing.T) { testReadyKeysIgnoresPreviouslyFailed(t, makeBackend(t)) })
	t.Run("InstanceLifecycle", func(t *testing.T) { testInstanceLifecycle(t, makeBackend(t)) })
	t.Run("PartitionClaimReleaseCAS", func(t *testing.T) { testPartitionClaimReleaseCAS(t, makeBackend(t)) })
}

func testRecordLifecycle(t *testing.T, b Backend) {
	ctx := context.Background()
	key := "key-" + uuid.New().String()
	now := time.Now().UTC()

	rec := &model.OutboxRecord{
		ID:          uuid.New().String(),
		Key:         key,
		Partition:   7,
		HandlerID:   "handler.test",
		RecordType:  "test.event",
		Payload:     []byte(`{"n":1}`),
		Status:      model.StatusNew,
		CreatedAt:   now,
		NextRetryAt: now,
		Context:     map[string]string{"traceId": "t-1"},
	}
	require.NoError(t, b.Records.Create(ctx, b.DB, rec))

	got, err := b.Records.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, key, got.Key)
	require.Equal(t, "t-1", got.Context["traceId"])

	incomplete, err := b.Records.IncompleteByKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)

	require.NoError(t, b.Records.MarkRetry(ctx, rec.ID, 1, now.Add(time.Minute), "boom"))
	got, err = b.Records.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.FailureCount)
	require.Equal(t, model.StatusNew, got.Status)

	require.NoError(t, b.Records.MarkFailed(ctx, rec.ID, 2, "terminal"))
	got, err = b.Records.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.Equal(t, 2, got.FailureCount)

	rec2 := &model.OutboxRecord{
		ID:          uuid.New().String(),
		Key:         key,
		Partition:   7,
		HandlerID:   "handler.test",
		RecordType:  "test.event",
		Payload:     []byte(`{"n":2}`),
		Status:      model.StatusNew,
		CreatedAt:   now,
		NextRetryAt: now,
	}
	require.NoError(t, b.Records.Create(ctx, b.DB, rec2))
	require.NoError(t, b.Records.MarkCompleted(ctx, rec2.ID, 3, now, false))
	got2, err := b.Records.Get(ctx, rec2.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got2.Status)
	require.Equal(t, 3, got2.FailureCount)

	require.NoError(t, b.Records.MarkCompleted(ctx, rec.ID, 2, now, true))
	_, err = b.Records.Get(ctx, rec.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testReadyKeysRespectsPartitions(t *testing.T, b Backend) {
	ctx := context.Background()
	now := time.Now().UTC()

	inPartition := &model.OutboxRecord{
		ID: uuid.New().String(), Key: "k-" + uuid.New().String(), Partition: 3,
		HandlerID: "h", RecordType: "t", Payload: []byte("{}"), Status: model.StatusNew,
		CreatedAt: now, NextRetryAt: now,
	}
	otherPartition := &model.OutboxRecord{
		ID: uuid.New().String(), Key: "k-" + uuid.New().String(), Partition: 200,
		HandlerID: "h", RecordType: "t", Payload: []byte("{}"), Status: model.StatusNew,
		CreatedAt: now, NextRetryAt: now,
	}
	require.NoError(t, b.Records.Create(ctx, b.DB, inPartition))
	require.NoError(t, b.Records.Create(ctx, b.DB, otherPartition))

	keys, err := b.Records.ReadyKeys(ctx, []int{3}, 100, false, now.Add(time.Second))
	require.NoError(t, err)
	require.Contains(t, keys, inPartition.Key)
	require.NotContains(t, keys, otherPartition.Key)
}

func testReadyKeysIgnoresPreviouslyFailed(t *testing.T, b Backend) {
	ctx := context.Background()
	now := time.Now().UTC()
	key := "k-" + uuid.New().String()

	failed := &model.OutboxRecord{
		ID: uuid.New().String(), Key: key, Partition: 1,
		HandlerID: "h", RecordType: "t", Payload: []byte("{}"), Status: model.StatusFailed,
		CreatedAt: now, NextRetryAt: now,
	}
	ready := &model.OutboxRecord{
		ID: uuid.New().String(), Key: key, Partition: 1,
		HandlerID: "h", RecordType: "t", Payload: []byte("{}"), Status: model.StatusNew,
		CreatedAt: now.Add(time.Second), NextRetryAt: now,
	}
	require.NoError(t, b.Records.Create(ctx, b.DB, failed))
	require.NoError(t, b.Records.Create(ctx, b.DB, ready))

	keys, err := b.Records.ReadyKeys(ctx, []int{1}, 100, true, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotContains(t, keys, key)

	keys, err = b.Records.ReadyKeys(ctx, []int{1}, 100, false, now.Add(time.Minute))
	require.NoError(t, err)
	require.Contains(t, keys, key)
}

func testInstanceLifecycle(t *testing.T, b Backend) {
	ctx := context.Background()
	now := time.Now().UTC()

	inst := &model.OutboxInstance{
		InstanceID: uuid.New().String(), Hostname: "h1", Port: 8080,
		Status: model.InstanceActive, StartedAt: now, LastHeartbeat: now,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, b.Instances.Register(ctx, inst))

	n, err := b.Instances.Heartbeat(ctx, inst.InstanceID, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = b.Instances.Heartbeat(ctx, "missing-instance", now)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	require.NoError(t, b.Instances.UpdateStatus(ctx, inst.InstanceID, model.InstanceShuttingDown, now.Add(2*time.Second)))

	all, err := b.Instances.ListAll(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	require.NoError(t, b.Instances.Delete(ctx, inst.InstanceID))
	require.NoError(t, b.Instances.Delete(ctx, inst.InstanceID))
}

func testPartitionClaimReleaseCAS(t *testing.T, b Backend) {
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, b.Partitions.EnsureBootstrapped(ctx))
	require.NoError(t, b.Partitions.EnsureBootstrapped(ctx))

	all, err := b.Partitions.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, model.PartitionCount)

	instanceA := uuid.New().String()
	instanceB := uuid.New().String()

	require.NoError(t, b.Partitions.Claim(ctx, 42, instanceA, 0, now))
	require.ErrorIs(t, b.Partitions.Claim(ctx, 42, instanceB, 0, now), store.ErrVersionConflict)

	require.NoError(t, b.Partitions.Release(ctx, 42, 1, now))
	require.NoError(t, b.Partitions.Claim(ctx, 42, instanceB, 2, now))
}
