package sqlite

// schemaSQL mirrors the Postgres schema with SQLite-compatible types
// (TEXT timestamps, no BYTEA). Bootstrap is idempotent.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS outbox_record (
	id                TEXT PRIMARY KEY,
	key               TEXT NOT NULL,
	partition         INTEGER NOT NULL,
	handler_id        TEXT NOT NULL,
	record_type       TEXT NOT NULL,
	payload           BLOB NOT NULL,
	status            TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	completed_at      TEXT,
	failure_count     INTEGER NOT NULL DEFAULT 0,
	next_retry_at     TEXT NOT NULL,
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
	started_at     TEXT NOT NULL,
	last_heartbeat TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_instance_last_heartbeat ON outbox_instance (last_heartbeat);
CREATE INDEX IF NOT EXISTS idx_outbox_instance_status_heartbeat ON outbox_instance (status, last_heartbeat);

CREATE TABLE IF NOT EXISTS outbox_partition (
	partition_number INTEGER PRIMARY KEY,
	instance_id      TEXT,
	version          INTEGER NOT NULL DEFAULT 0,
	assigned_at      TEXT,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_partition_instance ON outbox_partition (instance_id);
`
