//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/store"
)

var (
	pgContainer testcontainers.Container
	testDB      *sql.DB
)

// TestMain starts a disposable Postgres container once for the whole
// package, the same shape as the teacher's Spanner emulator TestMain.
func TestMain(m *testing.M) {
	ctx := context.Background()

	if err := setupPostgres(ctx); err != nil {
		fmt.Printf("failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func setupPostgres(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "outbox",
			"POSTGRES_PASSWORD": "outbox",
			"POSTGRES_DB":       "outbox",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	pgContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return fmt.Errorf("mapped port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://outbox:outbox@%s:%s/outbox?sslmode=disable", host, port.Port())
	db, err := Open(dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	testDB = db
	return nil
}

func newTestRecord(key string) *model.OutboxRecord {
	now := time.Now().UTC()
	return &model.OutboxRecord{
		ID:          uuid.New().String(),
		Key:         key,
		Partition:   0,
		HandlerID:   "test-handler",
		RecordType:  "test.event",
		Payload:     []byte(`{"ok":true}`),
		Status:      model.StatusNew,
		CreatedAt:   now,
		NextRetryAt: now,
	}
}

func TestRecordStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	rs := NewRecordStore(testDB)

	rec := newTestRecord("order-" + uuid.New().String())
	require.NoError(t, rs.Create(ctx, testDB, rec))

	got, err := rs.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.Key, got.Key)
	require.Equal(t, model.StatusNew, got.Status)
}

func TestRecordStore_ReadyKeysAndLifecycle(t *testing.T) {
	ctx := context.Background()
	rs := NewRecordStore(testDB)

	key := "customer-" + uuid.New().String()
	rec := newTestRecord(key)
	require.NoError(t, rs.Create(ctx, testDB, rec))

	keys, err := rs.ReadyKeys(ctx, []int{0}, 100, false, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Contains(t, keys, key)

	incomplete, err := rs.IncompleteByKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)

	require.NoError(t, rs.MarkCompleted(ctx, rec.ID, 0, time.Now().UTC(), false))

	got, err := rs.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestRecordStore_MarkCompletedDeletes(t *testing.T) {
	ctx := context.Background()
	rs := NewRecordStore(testDB)

	rec := newTestRecord("delete-me-" + uuid.New().String())
	require.NoError(t, rs.Create(ctx, testDB, rec))
	require.NoError(t, rs.MarkCompleted(ctx, rec.ID, 0, time.Now().UTC(), true))

	_, err := rs.Get(ctx, rec.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInstanceStore_RegisterHeartbeatDelete(t *testing.T) {
	ctx := context.Background()
	is := NewInstanceStore(testDB)

	now := time.Now().UTC()
	inst := &model.OutboxInstance{
		InstanceID:    uuid.New().String(),
		Hostname:      "worker-1",
		Port:          9090,
		Status:        model.InstanceActive,
		StartedAt:     now,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, is.Register(ctx, inst))

	n, err := is.Heartbeat(ctx, inst.InstanceID, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, is.UpdateStatus(ctx, inst.InstanceID, model.InstanceShuttingDown, now.Add(2*time.Second)))

	all, err := is.ListAll(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	require.NoError(t, is.Delete(ctx, inst.InstanceID))
	require.NoError(t, is.Delete(ctx, inst.InstanceID)) // idempotent
}

func TestPartitionStore_BootstrapClaimRelease(t *testing.T) {
	ctx := context.Background()
	ps := NewPartitionStore(testDB)

	require.NoError(t, ps.EnsureBootstrapped(ctx))
	require.NoError(t, ps.EnsureBootstrapped(ctx)) // idempotent

	all, err := ps.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, model.PartitionCount)

	instanceID := uuid.New().String()
	now := time.Now().UTC()
	require.NoError(t, ps.Claim(ctx, 5, instanceID, 0, now))

	err = ps.Claim(ctx, 5, "other-instance", 0, now)
	require.Error(t, err)

	require.NoError(t, ps.Release(ctx, 5, 1, now))
}
