// Package partition implements the coordinator that assigns the 256
// partitions across live instances, rebalancing on membership change and
// claiming stale partitions under optimistic concurrency (spec.md §4.11).
package partition

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/platform/clock"
	"github.com/outboxware/outbox/internal/store"
)

// InstanceLister supplies the live membership set; implemented by
// instance.Registry.
type InstanceLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// Coordinator owns the rebalance algorithm and publishes the set of
// partitions this instance currently owns via an atomic snapshot that the
// scheduler reads without locking (spec.md §4.11 step 7, §5).
type Coordinator struct {
	store      store.PartitionStore
	instances  InstanceLister
	clock      clock.Clock
	selfID     string
	log       zerolog.Logger
	owned     atomic.Value // []int
	rebalance chan struct{}
}

// New builds a Coordinator for selfID.
func New(s store.PartitionStore, instances InstanceLister, clk clock.Clock, selfID string, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		store:     s,
		instances: instances,
		clock:     clk,
		selfID:    selfID,
		log:       log,
		rebalance: make(chan struct{}, 1),
	}
	c.owned.Store([]int{})
	return c
}

// Owned returns a snapshot of the partitions this instance currently owns.
// Safe to call concurrently with Rebalance.
func (c *Coordinator) Owned() []int {
	return c.owned.Load().([]int)
}

// SignalRebalance requests a rebalance on the next opportunity
// (level-triggered: multiple signals before the next run collapse to one),
// matching spec.md §4.11 "rebalanceSignal".
func (c *Coordinator) SignalRebalance() {
	select {
	case c.rebalance <- struct{}{}:
	default:
	}
}

// Bootstrap ensures all 256 partition rows exist (spec.md §4.11
// "bootstrap: on a fresh database... insert any missing rows").
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	if err := c.store.EnsureBootstrapped(ctx); err != nil {
		return fmt.Errorf("bootstrap partitions: %w", err)
	}
	return nil
}

// Rebalance runs one pass of the algorithm in spec.md §4.11 steps 1-7.
func (c *Coordinator) Rebalance(ctx context.Context) error {
	activeIDs, err := c.instances.ListActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active instances: %w", err)
	}
	if !contains(activeIDs, c.selfID) {
		// Not yet visible in our own membership read; count self as live
		// anyway so this round still computes and claims our share.
		activeIDs = append(activeIDs, c.selfID)
	}
	sort.Strings(activeIDs)
	alive := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		alive[id] = true
	}

	assignments, err := c.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	var mine, stale []*model.PartitionAssignment
	for _, a := range assignments {
		switch {
		case a.Owned(c.selfID):
			mine = append(mine, a)
		case a.Unassigned():
			stale = append(stale, a)
		case !alive[*a.InstanceID]:
			stale = append(stale, a)
		}
	}

	mineTarget := targetCount(activeIDs, c.selfID)
	now := c.clock.Now()

	if len(mine) < mineTarget {
		need := mineTarget - len(mine)
		for i := 0; i < len(stale) && need > 0; i++ {
			a := stale[i]
			if err := c.store.Claim(ctx, a.PartitionNumber, c.selfID, a.Version, now); err != nil {
				if err == store.ErrVersionConflict {
					continue // another instance won the race; try again next signal
				}
				return fmt.Errorf("claim partition %d: %w", a.PartitionNumber, err)
			}
			mine = append(mine, a)
			need--
		}
	} else if len(mine) > mineTarget {
		foreignAliveCount := 0
		for _, a := range assignments {
			if !a.Unassigned() && !a.Owned(c.selfID) && alive[*a.InstanceID] {
				foreignAliveCount++
			}
		}
		if foreignAliveCount+len(stale) < (model.PartitionCount - mineTarget) {
			release := len(mine) - mineTarget
			for i := 0; i < release && i < len(mine); i++ {
				a := mine[i]
				if err := c.store.Release(ctx, a.PartitionNumber, a.Version, now); err != nil && err != store.ErrVersionConflict {
					return fmt.Errorf("release partition %d: %w", a.PartitionNumber, err)
				}
			}
			mine = mine[release:]
		}
	}

	owned := make([]int, 0, len(mine))
	for _, a := range mine {
		owned = append(owned, a.PartitionNumber)
	}
	sort.Ints(owned)
	c.owned.Store(owned)

	c.log.Info().Str("instance_id", c.selfID).Int("owned", len(owned)).Int("target", mineTarget).Msg("rebalance complete")
	return nil
}

// RunLoop runs Rebalance whenever SignalRebalance fires, until ctx is done. The
// caller is expected to call SignalRebalance on a bootstrap tick and a
// periodic interval ticker (spec.md §4.11 "runs periodically and on
// demand").
func (c *Coordinator) RunLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.rebalance:
			if err := c.Rebalance(ctx); err != nil {
				c.log.Error().Err(err).Msg("rebalance failed")
			}
		}
	}
}

// targetCount computes this instance's share of the 256 partitions per
// spec.md §4.11 step 4: ceil(256/|I|) for the first (256 mod |I|)
// instances in sorted order, floor(256/|I|) for the rest.
func targetCount(sortedActiveIDs []string, selfID string) int {
	n := len(sortedActiveIDs)
	if n == 0 {
		return 0
	}
	idx := sort.SearchStrings(sortedActiveIDs, selfID)
	base := model.PartitionCount / n
	remainder := model.PartitionCount % n
	if idx < remainder {
		return base + 1
	}
	return base
}

func contains(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
