package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
)

type redeemedTokensRepo struct {
	db dbtx
}

func (r *redeemedTokensRepo) Redeem(ctx context.Context, t domain.RedeemedToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO redeemed_tokens (jti, purpose, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		t.JTI, t.Purpose, unixTime(t.ExpiresAt), unixTime(t.CreatedAt))
	return mapConstraint(err)
}

func (r *redeemedTokensRepo) IsRedeemed(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM redeemed_tokens WHERE jti = ?`, jti).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redeemedTokensRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM redeemed_tokens WHERE expires_at < ?`, unixTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
