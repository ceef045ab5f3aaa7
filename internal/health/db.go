package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DBHealthChecker monitors a HealthPinger (typically a store backend) via
// periodic probes, the same shape as the teacher's StoreHealthChecker.
type DBHealthChecker struct {
	target       HealthPinger
	name         string
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

// NewDBHealthChecker creates a checker named name over target.
func NewDBHealthChecker(name string, target HealthPinger, log zerolog.Logger, probeTimeout time.Duration) *DBHealthChecker {
	hc := &DBHealthChecker{target: target, name: name, log: log, probeTimeout: probeTimeout}
	hc.healthy.Store(0)
	return hc
}

// Name returns the checker name.
func (hc *DBHealthChecker) Name() string { return hc.name }

// IsHealthy returns the cached health status (non-blocking).
func (hc *DBHealthChecker) IsHealthy() bool { return hc.healthy.Load() == 1 }

// Start begins periodic health checking until ctx is done.
func (hc *DBHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check := func() {
		to := hc.probeTimeout
		if to <= 0 {
			to = 2 * time.Second
		}
		checkCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()

		if err := hc.target.HealthPing(checkCtx); err != nil {
			hc.healthy.Store(0)
			hc.log.Error().Stack().Str("checker", hc.name).Err(err).Msg("db health check failed")
			return
		}
		hc.healthy.Store(1)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

var _ HealthChecker = (*DBHealthChecker)(nil)
