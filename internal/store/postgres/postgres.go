// Package postgres implements the outbox engine's store interfaces on top
// of PostgreSQL via the pgx stdlib driver, following the same Open/Bootstrap
// shape as the teacher's internal/store/postgres package.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
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

// Pinger implements health.HealthPinger over a postgres *sql.DB.
type Pinger struct{ DB *sql.DB }

func (p *Pinger) HealthPing(ctx context.Context) error { return p.DB.PingContext(ctx) }
