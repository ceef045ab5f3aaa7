package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/outboxware/outbox/internal/model"
)

type instanceStore struct{ db *sql.DB }

func (s *instanceStore) Register(ctx context.Context, inst *model.OutboxInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox_instance
			(instance_id, hostname, port, status, started_at, last_heartbeat, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (instance_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			port = EXCLUDED.port,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = EXCLUDED.updated_at
	`, inst.InstanceID, inst.Hostname, inst.Port, inst.Status,
		inst.StartedAt, inst.LastHeartbeat, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	return nil
}

func (s *instanceStore) Heartbeat(ctx context.Context, instanceID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_instance SET last_heartbeat=$2, updated_at=$2 WHERE instance_id=$1
	`, instanceID, now)
	if err != nil {
		return 0, fmt.Errorf("heartbeat instance: %w", err)
	}
	return res.RowsAffected()
}

func (s *instanceStore) UpdateStatus(ctx context.Context, instanceID string, status model.InstanceStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_instance SET status=$2, updated_at=$3 WHERE instance_id=$1
	`, instanceID, status, now)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	return nil
}

func (s *instanceStore) ListAll(ctx context.Context) ([]*model.OutboxInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, hostname, port, status, started_at, last_heartbeat, created_at, updated_at
		FROM outbox_instance
	`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.OutboxInstance
	for rows.Next() {
		var inst model.OutboxInstance
		if err := rows.Scan(&inst.InstanceID, &inst.Hostname, &inst.Port, &inst.Status,
			&inst.StartedAt, &inst.LastHeartbeat, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

func (s *instanceStore) Delete(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox_instance WHERE instance_id=$1`, instanceID)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}
