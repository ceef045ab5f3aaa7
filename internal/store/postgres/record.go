package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/store"
)

type recordStore struct{ db *sql.DB }

func (s *recordStore) Create(ctx context.Context, db store.Execer, rec *model.OutboxRecord) error {
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO outbox_record
			(id, key, partition, handler_id, record_type, payload, status,
			 created_at, completed_at, failure_count, next_retry_at,
			 failure_exception, context)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, rec.ID, rec.Key, rec.Partition, rec.HandlerID, rec.RecordType, rec.Payload, rec.Status,
		rec.CreatedAt, rec.CompletedAt, rec.FailureCount, rec.NextRetryAt, rec.FailureException, string(ctxJSON))
	if err != nil {
		return fmt.Errorf("insert outbox_record: %w", err)
	}
	return nil
}

func (s *recordStore) Get(ctx context.Context, id string) (*model.OutboxRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key, partition, handler_id, record_type, payload, status,
		       created_at, completed_at, failure_count, next_retry_at,
		       failure_exception, context
		FROM outbox_record WHERE id=$1
	`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return rec, err
}

func (s *recordStore) ReadyKeys(ctx context.Context, partitions []int, limit int, ignorePreviouslyFailed bool, now time.Time) ([]string, error) {
	if len(partitions) == 0 || limit <= 0 {
		return nil, nil
	}
	placeholders := make([]string, len(partitions))
	args := make([]any, 0, len(partitions)+2)
	for i, p := range partitions {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, p)
	}
	args = append(args, now, limit)
	nowIdx := len(partitions) + 1
	limitIdx := len(partitions) + 2

	query := fmt.Sprintf(`
		SELECT DISTINCT key FROM outbox_record
		WHERE partition IN (%s)
		  AND status = 'NEW'
		  AND next_retry_at <= $%d
	`, strings.Join(placeholders, ","), nowIdx)

	if ignorePreviouslyFailed {
		query += `
		  AND key NOT IN (
			SELECT DISTINCT key FROM outbox_record
			WHERE completed_at IS NULL AND status <> 'NEW'
		  )`
	}
	query += fmt.Sprintf(" ORDER BY key LIMIT $%d", limitIdx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ready keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *recordStore) IncompleteByKey(ctx context.Context, key string) ([]*model.OutboxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, partition, handler_id, record_type, payload, status,
		       created_at, completed_at, failure_count, next_retry_at,
		       failure_exception, context
		FROM outbox_record
		WHERE key=$1 AND completed_at IS NULL
		ORDER BY created_at ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query incomplete by key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.OutboxRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *recordStore) MarkCompleted(ctx context.Context, id string, failureCount int, now time.Time, deleteRow bool) error {
	if deleteRow {
		_, err := s.db.ExecContext(ctx, `DELETE FROM outbox_record WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete completed record: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_record SET status='COMPLETED', completed_at=$2, failure_count=$3 WHERE id=$1
	`, id, now, failureCount)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (s *recordStore) MarkRetry(ctx context.Context, id string, failureCount int, nextRetryAt time.Time, failureException string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_record
		SET failure_count=$2, next_retry_at=$3, failure_exception=$4, status='NEW'
		WHERE id=$1
	`, id, failureCount, nextRetryAt, failureException)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return nil
}

func (s *recordStore) MarkFailed(ctx context.Context, id string, failureCount int, failureException string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_record SET status='FAILED', failure_count=$2, failure_exception=$3 WHERE id=$1
	`, id, failureCount, failureException)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.OutboxRecord, error) {
	var rec model.OutboxRecord
	var ctxJSON *string
	if err := row.Scan(&rec.ID, &rec.Key, &rec.Partition, &rec.HandlerID, &rec.RecordType,
		&rec.Payload, &rec.Status, &rec.CreatedAt, &rec.CompletedAt, &rec.FailureCount,
		&rec.NextRetryAt, &rec.FailureException, &ctxJSON); err != nil {
		return nil, err
	}
	if ctxJSON != nil && *ctxJSON != "" {
		if err := json.Unmarshal([]byte(*ctxJSON), &rec.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &rec, nil
}
