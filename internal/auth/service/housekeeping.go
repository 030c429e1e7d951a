package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/store"
)

// Sweeper is implemented by challenge stores that hold expired entries in
// process memory until someone clears them.
type Sweeper interface {
	Sweep() int
}

// HousekeepingService deletes records nothing can use any more. It runs
// once per call; scheduling it (cron, a CLI invocation) is up to the host.
type HousekeepingService struct {
	Store      store.Store
	Challenges Sweeper // optional
	Logger     *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// PruneResult counts what a Prune removed.
type PruneResult struct {
	RedeemedTokens int64
	Challenges     int
}

// Prune removes ledger rows for tokens that have expired anyway and sweeps
// expired challenges. Each step runs even if an earlier one failed.
func (s *HousekeepingService) Prune(ctx context.Context) (PruneResult, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		res  PruneResult
		errs []error
	)

	n, err := s.Store.RedeemedTokens().DeleteExpired(ctx, now)
	if err != nil {
		logger.Error("failed to delete expired redeemed tokens", "error", err)
		errs = append(errs, err)
	} else {
		res.RedeemedTokens = n
		logger.Debug("deleted expired redeemed tokens", "count", n)
	}

	if s.Challenges != nil {
		res.Challenges = s.Challenges.Sweep()
		logger.Debug("swept expired challenges", "count", res.Challenges)
	}

	logger.Info("housekeeping completed",
		"redeemed_tokens", res.RedeemedTokens,
		"challenges", res.Challenges,
	)
	return res, errors.Join(errs...)
}
