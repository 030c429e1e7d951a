package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/challenge"
	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestHousekeeping_Prune(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now()

	ledger := h.store.RedeemedTokens()
	require.NoError(t, ledger.Redeem(ctx, domain.RedeemedToken{JTI: "old", Purpose: "refresh", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, ledger.Redeem(ctx, domain.RedeemedToken{JTI: "live", Purpose: "refresh", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))

	challenges := challenge.NewMemoryStore(2, time.Minute)
	_, err := challenges.Issue(ctx, "auth:someone@school.example")
	require.NoError(t, err)
	challenges.Now = func() time.Time { return now.Add(2 * time.Minute) }

	hk := &HousekeepingService{Store: h.store, Challenges: challenges, Now: func() time.Time { return now }}
	res, err := hk.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, PruneResult{RedeemedTokens: 1, Challenges: 1}, res)

	live, err := ledger.IsRedeemed(ctx, "live")
	require.NoError(t, err)
	require.True(t, live)

	res, err = hk.Prune(ctx)
	require.NoError(t, err)
	require.Zero(t, res.RedeemedTokens)
	require.Zero(t, res.Challenges)
}
