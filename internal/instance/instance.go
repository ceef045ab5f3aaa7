// Package instance implements the fleet membership lifecycle: register,
// heartbeat, stale detection, graceful shutdown (spec.md §4.10).
package instance

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/platform/clock"
	"github.com/outboxware/outbox/internal/store"
)

// Registry manages this process's membership row and observes peers.
type Registry struct {
	store      store.InstanceStore
	clock      clock.Clock
	log        zerolog.Logger
	instanceID string
	hostname   string
	port       int
}

// New builds a Registry with a freshly generated instance id, per
// spec.md §4.10 "register(): compute instanceId (UUID generated once)".
func New(s store.InstanceStore, clk clock.Clock, port int, log zerolog.Logger) *Registry {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Registry{
		store:      s,
		clock:      clk,
		log:        log,
		instanceID: uuid.New().String(),
		hostname:   hostname,
		port:       port,
	}
}

// InstanceID returns this process's stable membership id.
func (r *Registry) InstanceID() string { return r.instanceID }

// Register inserts (or refreshes) this instance's row with status ACTIVE.
func (r *Registry) Register(ctx context.Context) error {
	now := r.clock.Now()
	inst := &model.OutboxInstance{
		InstanceID:    r.instanceID,
		Hostname:      r.hostname,
		Port:          r.port,
		Status:        model.InstanceActive,
		StartedAt:     now,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.Register(ctx, inst); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	r.log.Info().Str("instance_id", r.instanceID).Str("hostname", r.hostname).Msg("instance registered")
	return nil
}

// Heartbeat refreshes this instance's LastHeartbeat; if the row is gone
// (e.g. reaped as stale by a peer) it re-registers, per spec.md §4.10.
func (r *Registry) Heartbeat(ctx context.Context) error {
	n, err := r.store.Heartbeat(ctx, r.instanceID, r.clock.Now())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if n == 0 {
		r.log.Warn().Str("instance_id", r.instanceID).Msg("heartbeat found no row, re-registering")
		return r.Register(ctx)
	}
	return nil
}

// DetectStale finds peer rows whose heartbeat is older than staleTimeout
// and deletes them (idempotent: a concurrent deletion by another peer is
// not an error). Self is never reaped by this call.
func (r *Registry) DetectStale(ctx context.Context, staleTimeout time.Duration) ([]string, error) {
	all, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	now := r.clock.Now()

	var reaped []string
	for _, inst := range all {
		if inst.InstanceID == r.instanceID {
			continue
		}
		if !inst.Stale(now, staleTimeout) {
			continue
		}
		if err := r.store.Delete(ctx, inst.InstanceID); err != nil {
			return reaped, fmt.Errorf("delete stale instance %s: %w", inst.InstanceID, err)
		}
		r.log.Warn().Str("instance_id", inst.InstanceID).Msg("reaped stale instance")
		reaped = append(reaped, inst.InstanceID)
	}
	return reaped, nil
}

// RunHeartbeatLoop runs heartbeat+stale-detection on interval until ctx is
// done, matching spec.md §4.10's "a single scheduled task runs both
// heartbeat and stale-cleanup".
func (r *Registry) RunHeartbeatLoop(ctx context.Context, interval, staleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		if err := r.Heartbeat(ctx); err != nil {
			r.log.Error().Err(err).Msg("heartbeat failed")
		}
		if _, err := r.DetectStale(ctx, staleTimeout); err != nil {
			r.log.Error().Err(err).Msg("stale detection failed")
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// HealthPing satisfies health.HealthPinger by reusing the heartbeat write:
// an instance that can no longer refresh its own row is unfit to claim or
// hold partitions, which is exactly what the service health check should
// catch alongside the raw store.Pinger probe.
func (r *Registry) HealthPing(ctx context.Context) error {
	return r.Heartbeat(ctx)
}

// Shutdown marks this instance SHUTTING_DOWN, waits gracefulShutdownTimeout
// for peers to observe the status, then deletes its own row.
func (r *Registry) Shutdown(ctx context.Context, gracefulShutdownTimeout time.Duration) error {
	if err := r.store.UpdateStatus(ctx, r.instanceID, model.InstanceShuttingDown, r.clock.Now()); err != nil {
		return fmt.Errorf("mark shutting down: %w", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(gracefulShutdownTimeout):
	}
	if err := r.store.Delete(ctx, r.instanceID); err != nil {
		return fmt.Errorf("delete self on shutdown: %w", err)
	}
	r.log.Info().Str("instance_id", r.instanceID).Msg("instance shut down")
	return nil
}

// ListActiveIDs returns the ids of every ACTIVE instance (used by the
// partition coordinator to compute live membership, spec.md §4.11 step 1).
func (r *Registry) ListActiveIDs(ctx context.Context) ([]string, error) {
	all, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	var ids []string
	for _, inst := range all {
		if inst.Status == model.InstanceActive {
			ids = append(ids, inst.InstanceID)
		}
	}
	return ids, nil
}
