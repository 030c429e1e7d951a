package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/store"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/ratex"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

// ResetService issues and redeems password reset tokens. Getting the token
// to its owner (email, SMS) is someone else's job.
type ResetService struct {
	Store   store.Store
	Codec   *jwtx.Codec
	Hasher  cryptox.Hasher
	Metrics *Metrics

	// Limiter throttles requests per identifier. Nil disables it.
	Limiter *ratex.Limiter

	// TTL is the token lifetime, capped at jwtx.MaxResetTokenTTL.
	TTL time.Duration
}

func (s *ResetService) ttl() time.Duration {
	if s.TTL <= 0 || s.TTL > jwtx.MaxResetTokenTTL {
		return jwtx.MaxResetTokenTTL
	}
	return s.TTL
}

// Request mints a reset token for identifier. The token carries only the
// subject and role, never a display name.
func (s *ResetService) Request(ctx context.Context, identifier string) (token string, err error) {
	ctx, finish := track(ctx, s.Metrics, "reset_request")
	defer func() { finish(err) }()

	identifier = domain.NormalizeIdentifier(identifier)
	if err := throttle(s.Limiter, "reset:"+identifier); err != nil {
		return "", err
	}

	p, err := (&Resolver{Store: s.Store}).ByIdentifier(ctx, identifier)
	if err != nil {
		return "", err
	}

	claims := s.Codec.Mint(p.ID, string(p.Role), jwtx.KindAccess, s.ttl())
	claims.Scope = jwtx.ScopePasswordReset
	token, err = s.Codec.Encode(claims)
	if err != nil {
		return "", err
	}

	slogx.FromContext(ctx).Info("reset token issued",
		slog.String("principal", p.Key()),
		slog.String("jti", claims.ID),
	)
	return token, nil
}

// Consume redeems a reset token and replaces the principal's secret. Each
// token works once: its jti is recorded in the same transaction that writes
// the new digest.
func (s *ResetService) Consume(ctx context.Context, token, newSecret string) (err error) {
	ctx, finish := track(ctx, s.Metrics, "reset_consume")
	defer func() { finish(err) }()
	l := slogx.FromContext(ctx)

	claims, err := s.Codec.Decode(token)
	if err != nil {
		l.Debug("reset token rejected", slog.Any("err", err))
		return ErrInvalidToken
	}
	if claims.ExpectKind(jwtx.KindAccess) != nil || claims.ExpectScope(jwtx.ScopePasswordReset) != nil {
		return ErrInvalidToken
	}
	role := domain.Role(claims.Role)
	if !role.Valid() {
		return ErrInvalidToken
	}
	if newSecret == "" {
		return ErrWeakSecret
	}

	digest, err := s.Hasher.Hash(newSecret)
	if err != nil {
		if errors.Is(err, cryptox.ErrSecretTooLong) {
			return ErrWeakSecret
		}
		return err
	}

	now := time.Now()
	if s.Codec.Now != nil {
		now = s.Codec.Now()
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.RedeemedTokens().Redeem(ctx, domain.RedeemedToken{
			JTI:       claims.ID,
			Purpose:   jwtx.ScopePasswordReset,
			ExpiresAt: claims.ExpiresAt.Time,
			CreatedAt: now,
		})
		if err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrInvalidToken
			}
			return err
		}

		p, err := (&Resolver{Store: tx}).ByID(ctx, role, claims.Subject)
		if err != nil {
			return err
		}

		repo, err := store.PrincipalsFor(tx, p.Role)
		if err != nil {
			return err
		}
		return repo.UpdateSecretHash(ctx, p.ID, digest)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			l.Warn("reset token reused", slog.String("jti", claims.ID))
		}
		return err
	}

	l.Info("secret reset", slog.String("principal", string(role)+":"+claims.Subject))
	return nil
}
