package services

import (
	"context"
	"fmt"
	"time"

	"rental-crawler/storage"
	"rental-crawler/utils"
)

// Sweeper deactivates listings that have disappeared from the marketplace.
type Sweeper struct {
	store  storage.ListingStore
	policy storage.SweepPolicy
	logger *utils.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper applying policy on every Run.
func NewSweeper(store storage.ListingStore, policy storage.SweepPolicy, logger *utils.Logger) *Sweeper {
	return &Sweeper{store: store, policy: policy, logger: logger, now: time.Now}
}

// Run performs one sweep and returns the ids deactivated by it.
func (s *Sweeper) Run(ctx context.Context) ([]int64, error) {
	started := s.now()
	policy := s.policy
	if policy.Now.IsZero() {
		policy.Now = started
	}

	ids, err := s.store.Sweep(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("sweeper: %w", err)
	}
	s.logger.Info("[sweeper] Deactivated %d listings (missed>=%d, stale>%s, availability grace %s)",
		len(ids), policy.MissedPasses, policy.StaleAfter, policy.AvailabilityGrace)
	s.logger.Duration("sweep", started)
	return ids, nil
}
