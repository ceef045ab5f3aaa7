// Package sqlite implements the outbox engine's store interfaces on top of
// modernc.org/sqlite (CGO-free), the same way the teacher's
// internal/storage/sqlite package gives the Spanner-backed storage a local,
// dependency-free substitute.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database file and enables WAL mode plus
// foreign keys, mirroring the teacher's sqlite.Open.
func Open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time avoids SQLITE_BUSY
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates the outbox schema if it does not already exist.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

// NewRecordStore returns a store.RecordStore backed by db.
func NewRecordStore(db *sql.DB) *recordStore { return &recordStore{db: db} }

// NewInstanceStore returns a store.InstanceStore backed by db.
func NewInstanceStore(db *sql.DB) *instanceStore { return &instanceStore{db: db} }

// NewPartitionStore returns a store.PartitionStore backed by db.
func NewPartitionStore(db *sql.DB) *partitionStore { return &partitionStore{db: db} }

// Pinger implements health.HealthPinger over a sqlite *sql.DB.
type Pinger struct{ DB *sql.DB }

func (p *Pinger) HealthPing(ctx context.Context) error { return p.DB.PingContext(ctx) }
