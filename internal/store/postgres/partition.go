package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/store"
)

type partitionStore struct{ db *sql.DB }

func (s *partitionStore) EnsureBootstrapped(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbox_partition (partition_number, instance_id, version, assigned_at, updated_at)
		VALUES ($1, NULL, 0, NULL, $2)
		ON CONFLICT (partition_number) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare bootstrap insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for p := 0; p < model.PartitionCount; p++ {
		if _, err := stmt.ExecContext(ctx, p, now); err != nil {
			return fmt.Errorf("bootstrap partition %d: %w", p, err)
		}
	}
	return tx.Commit()
}

func (s *partitionStore) ListAll(ctx context.Context) ([]*model.PartitionAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_number, instance_id, version, assigned_at, updated_at
		FROM outbox_partition ORDER BY partition_number ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.PartitionAssignment
	for rows.Next() {
		var pa model.PartitionAssignment
		if err := rows.Scan(&pa.PartitionNumber, &pa.InstanceID, &pa.Version, &pa.AssignedAt, &pa.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &pa)
	}
	return out, rows.Err()
}

func (s *partitionStore) Claim(ctx context.Context, partition int, instanceID string, expectedVersion int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_partition
		SET instance_id=$3, version=version+1, assigned_at=$4, updated_at=$4
		WHERE partition_number=$1 AND version=$2
	`, partition, expectedVersion, instanceID, now)
	if err != nil {
		return fmt.Errorf("claim partition %d: %w", partition, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *partitionStore) Release(ctx context.Context, partition int, expectedVersion int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_partition
		SET instance_id=NULL, version=version+1, assigned_at=NULL, updated_at=$3
		WHERE partition_number=$1 AND version=$2
	`, partition, expectedVersion, now)
	if err != nil {
		return fmt.Errorf("release partition %d: %w", partition, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrVersionConflict
	}
	return nil
}
