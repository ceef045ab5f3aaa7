package postgres

// schemaSQL creates the three tables described in spec.md §6 plus the
// indexes that section calls out as required for latency. Bootstrap is
// idempotent so it is safe to call on every process start, the same way
// the teacher's postgres.Bootstrap is a ping-only check that tolerates
// being invoked repeatedly.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS outbox_record (
	id                TEXT PRIMARY KEY,
	key               TEXT NOT NULL,
	partition         INTEGER NOT NULL,
	handler_id        TEXT NOT NULL,
	record_type       TEXT NOT NULL,
	payload           BYTEA NOT NULL,
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ,
	failure_count     INTEGER NOT NULL DEFAULT 0,
	next_retry_at     TIMESTAMPTZ NOT NULL,
	failure_exception TEXT,
	context           TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_record_partition_status_retry ON outbox_record (partition, status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_outbox_record_status_retry ON outbox_record (status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_outbox_record_key_created ON outbox_record (key, created_at);
CREATE INDEX IF NOT EXISTS idx_outbox_record_key_completed_created ON outbox_record (key, completed_at, created_at);

CREATE TABLE IF NOT EXISTS outbox_instance (
	instance_id    TEXT PRIMARY KEY,
	hostname       TEXT NOT NULL,
	port           INTEGER NOT NULL,
	status         TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	last_heartbeat TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_instance_last_heartbeat ON outbox_instance (last_heartbeat);
CREATE INDEX IF NOT EXISTS idx_outbox_instance_status_heartbeat ON outbox_instance (status, last_heartbeat);

CREATE TABLE IF NOT EXISTS outbox_partition (
	partition_number INTEGER PRIMARY KEY,
	instance_id      TEXT,
	version          BIGINT NOT NULL DEFAULT 0,
	assigned_at      TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_partition_instance ON outbox_partition (instance_id);
`
