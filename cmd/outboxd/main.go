// Command outboxd runs the transactional outbox engine as a standalone
// process: one instance in a fleet that shares the 256 partitions via the
// partition coordinator (spec.md §4.10-4.11), grounded on the teacher's
// cmd/outbox-worker entrypoint shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outboxware/outbox"
	"github.com/outboxware/outbox/internal/config"
	"github.com/outboxware/outbox/internal/health"
	"github.com/outboxware/outbox/internal/platform/logger"
	"github.com/outboxware/outbox/internal/store"
	"github.com/outboxware/outbox/internal/store/postgres"
	"github.com/outboxware/outbox/internal/store/sqlite"
)

func main() {
	log := logger.New("outboxd")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	records, instances, partitions, pinger, closeDB, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer closeDB()

	storeChecker := health.NewDBHealthChecker(cfg.DBDriver, pinger, log, 5*time.Second)

	engine, err := outbox.New(cfg, records, instances, partitions, outbox.Options{
		Log: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	// The store probe alone can't see an instance that can ping the DB but
	// can no longer write its own membership row, so the service health
	// flag aggregates it with the instance's own heartbeat pinger.
	instanceChecker := health.NewDBHealthChecker("instance-heartbeat", engine.InstanceHealthPinger(), log, 5*time.Second)
	svcHealth := health.NewServiceHealthChecker(log, storeChecker, instanceChecker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go storeChecker.Start(ctx, 10*time.Second)
	go instanceChecker.Start(ctx, 10*time.Second)
	go svcHealth.Start(ctx, 10*time.Second)

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start engine")
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("engine stop")
		os.Exit(1)
	}
}

// openStore resolves the three store interfaces from cfg.DBDriver, the
// same substitutable-backend shape storetest.Backend verifies in tests.
func openStore(cfg *config.Config) (store.RecordStore, store.InstanceStore, store.PartitionStore, health.HealthPinger, func(), error) {
	switch cfg.DBDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, func() {}, err
		}
		if err := sqlite.Bootstrap(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, nil, nil, nil, func() {}, err
		}
		return sqlite.NewRecordStore(db), sqlite.NewInstanceStore(db), sqlite.NewPartitionStore(db),
			&sqlite.Pinger{DB: db}, func() { _ = db.Close() }, nil
	default:
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, func() {}, err
		}
		if err := postgres.Bootstrap(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, nil, nil, nil, func() {}, err
		}
		return postgres.NewRecordStore(db), postgres.NewInstanceStore(db), postgres.NewPartitionStore(db),
			&postgres.Pinger{DB: db}, func() { _ = db.Close() }, nil
	}
}
