// Package store defines the narrow persistence contracts the engine depends
// on (spec.md §6 "Persistence contract"). Concrete drivers live under
// internal/store/<driver>/ and are substitutable: internal/store/postgres
// and internal/store/sqlite both implement the same three interfaces.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/outboxware/outbox/internal/model"
)

var (
	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned by a partition CAS update that lost
	// the race (spec.md §4.11 step 5/6, the ConcurrencyConflict error kind).
	ErrVersionConflict = errors.New("store: version conflict")
)

// Execer is satisfied by both *sql.DB and *sql.Tx, letting RecordStore.Create
// join the caller's own transaction per spec.md §4.1 ("the call MUST enlist
// in the surrounding transaction").
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RecordStore persists and queries OutboxRecord rows (component 1).
type RecordStore interface {
	// Create inserts a new record. db is typically the caller's own
	// *sql.Tx so the write is atomic with the business transaction.
	Create(ctx context.Context, db Execer, rec *model.OutboxRecord) error

	// Get returns a single record by id.
	Get(ctx context.Context, id string) (*model.OutboxRecord, error)

	// ReadyKeys returns up to limit distinct keys with at least one NEW
	// record whose NextRetryAt has elapsed, restricted to partitions.
	// When ignorePreviouslyFailed is true, keys with any record that is
	// incomplete and not NEW (i.e. a blocked/failed ancestor) are excluded.
	ReadyKeys(ctx context.Context, partitions []int, limit int, ignorePreviouslyFailed bool, now time.Time) ([]string, error)

	// IncompleteByKey returns every record for key with CompletedAt == nil,
	// ordered by CreatedAt ascending (spec.md §3 per-key ordering invariant).
	IncompleteByKey(ctx context.Context, key string) ([]*model.OutboxRecord, error)

	// MarkCompleted transitions a record to COMPLETED, or deletes it when
	// delete is true (processing.deleteCompletedRecords). failureCount is
	// persisted as-is: a fallback-mediated completion still carries the
	// failures the primary handler accumulated before the fallback ran.
	MarkCompleted(ctx context.Context, id string, failureCount int, now time.Time, delete bool) error

	// MarkRetry sets FailureCount to failureCount, records the failure
	// summary and reschedules NextRetryAt, leaving Status == NEW.
	MarkRetry(ctx context.Context, id string, failureCount int, nextRetryAt time.Time, failureException string) error

	// MarkFailed transitions a record to the terminal FAILED state, with
	// failureCount the final count of handler failures observed (spec.md §3).
	MarkFailed(ctx context.Context, id string, failureCount int, failureException string) error
}

// InstanceStore persists OutboxInstance rows (component 2).
type InstanceStore interface {
	// Register upserts the instance row with status ACTIVE.
	Register(ctx context.Context, inst *model.OutboxInstance) error

	// Heartbeat updates LastHeartbeat for instanceID and returns the
	// number of affected rows (0 means the row is gone and the caller
	// must re-register).
	Heartbeat(ctx context.Context, instanceID string, now time.Time) (int64, error)

	// UpdateStatus sets status (e.g. SHUTTING_DOWN) and UpdatedAt.
	UpdateStatus(ctx context.Context, instanceID string, status model.InstanceStatus, now time.Time) error

	// ListAll returns every known instance row.
	ListAll(ctx context.Context) ([]*model.OutboxInstance, error)

	// Delete removes the instance row. Deleting an already-absent
	// instance is not an error (idempotent, per spec.md §4.10 detectStale).
	Delete(ctx context.Context, instanceID string) error
}

// PartitionStore persists PartitionAssignment rows (component 3).
type PartitionStore interface {
	// EnsureBootstrapped inserts any of the model.PartitionCount rows that
	// do not yet exist, with InstanceID == nil and Version == 0.
	EnsureBootstrapped(ctx context.Context) error

	// ListAll returns all model.PartitionCount assignment rows.
	ListAll(ctx context.Context) ([]*model.PartitionAssignment, error)

	// Claim attempts `UPDATE ... SET instance_id=instanceID, version=version+1
	// WHERE partition_number=partition AND version=expectedVersion`. Returns
	// store.ErrVersionConflict if the CAS lost.
	Claim(ctx context.Context, partition int, instanceID string, expectedVersion int64, now time.Time) error

	// Release sets instance_id back to nil under the same CAS discipline.
	Release(ctx context.Context, partition int, expectedVersion int64, now time.Time) error
}
