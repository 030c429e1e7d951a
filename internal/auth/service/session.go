package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/store"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/ratex"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

// SessionService turns proven identities into token pairs.
type SessionService struct {
	Store   store.Store
	Codec   *jwtx.Codec
	Hasher  cryptox.Hasher
	Metrics *Metrics

	// Limiter throttles login attempts per identifier. Nil disables it.
	Limiter *ratex.Limiter

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ReuseRefresh hands the presented refresh token back from Refresh
	// instead of rotating it.
	ReuseRefresh bool

	dummyOnce   sync.Once
	dummyDigest string
}

func (s *SessionService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *SessionService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

func (s *SessionService) now() time.Time {
	if s.Codec.Now != nil {
		return s.Codec.Now()
	}
	return time.Now()
}

func (s *SessionService) resolver() *Resolver { return &Resolver{Store: s.Store} }

// Login checks identifier and secret and issues a token pair. An unknown
// identifier and a wrong secret both return ErrInvalidCredentials, and the
// unknown case still pays for one hash verification.
func (s *SessionService) Login(ctx context.Context, identifier, secret string) (pair domain.TokenPair, err error) {
	ctx, finish := track(ctx, s.Metrics, "login")
	defer func() { finish(err) }()
	l := slogx.FromContext(ctx)

	identifier = domain.NormalizeIdentifier(identifier)
	if err := throttle(s.Limiter, "login:"+identifier); err != nil {
		return domain.TokenPair{}, err
	}

	p, err := s.resolver().ByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnVerify(secret)
			return domain.TokenPair{}, ErrInvalidCredentials
		}
		return domain.TokenPair{}, err
	}
	ctx = slogx.With(ctx, slog.String("principal", p.Key()))
	l = slogx.FromContext(ctx)

	ok, err := s.Hasher.Verify(secret, p.SecretHash)
	if err != nil {
		l.Warn("stored digest unreadable", slog.Any("err", err))
		return domain.TokenPair{}, ErrInvalidCredentials
	}
	if !ok {
		return domain.TokenPair{}, ErrInvalidCredentials
	}
	if !p.Active {
		return domain.TokenPair{}, ErrInactiveAccount
	}

	if s.Limiter != nil {
		s.Limiter.Reset("login:" + identifier)
	}
	s.upgradeDigest(ctx, p, secret)

	l.Info("login succeeded")
	return s.IssueFor(ctx, p)
}

// burnVerify spends the same time a real verification would.
func (s *SessionService) burnVerify(secret string) {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = s.Hasher.Hash("rollcall-dummy-secret")
	})
	if s.dummyDigest != "" {
		_, _ = s.Hasher.Verify(secret, s.dummyDigest)
	}
}

// upgradeDigest re-hashes secret when the stored digest was made with
// different parameters. Failure only costs the upgrade.
func (s *SessionService) upgradeDigest(ctx context.Context, p domain.Principal, secret string) {
	if !s.Hasher.NeedsRehash(p.SecretHash) {
		return
	}
	l := slogx.FromContext(ctx)

	digest, err := s.Hasher.Hash(secret)
	if err != nil {
		l.Warn("rehash failed", slog.Any("err", err))
		return
	}
	repo, err := store.PrincipalsFor(s.Store, p.Role)
	if err != nil {
		return
	}
	if err := repo.UpdateSecretHash(ctx, p.ID, digest); err != nil {
		l.Warn("rehash not stored", slog.Any("err", err))
		return
	}
	l.Info("digest upgraded")
}

// IssueFor mints a fresh pair for a principal whose identity has already
// been proven. The access token carries the display name; the refresh token
// only the role.
func (s *SessionService) IssueFor(ctx context.Context, p domain.Principal) (domain.TokenPair, error) {
	access, err := s.mintAccess(p)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refresh, err := s.Codec.Encode(s.Codec.Mint(p.ID, string(p.Role), jwtx.KindRefresh, s.refreshTTL()))
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    domain.TokenType,
		ExpiresIn:    s.accessTTL(),
	}, nil
}

func (s *SessionService) mintAccess(p domain.Principal) (string, error) {
	claims := s.Codec.Mint(p.ID, string(p.Role), jwtx.KindAccess, s.accessTTL())
	claims.Name = p.DisplayName
	return s.Codec.Encode(claims)
}

// Refresh exchanges a refresh token for a new pair. Unless ReuseRefresh is
// set the presented token is redeemed, so each refresh token works once.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (pair domain.TokenPair, err error) {
	ctx, finish := track(ctx, s.Metrics, "refresh")
	defer func() { finish(err) }()
	l := slogx.FromContext(ctx)

	claims, err := s.Codec.Decode(refreshToken)
	if err != nil {
		l.Debug("refresh token rejected", slog.Any("err", err))
		return domain.TokenPair{}, ErrInvalidToken
	}
	if err := claims.ExpectKind(jwtx.KindRefresh); err != nil {
		return domain.TokenPair{}, ErrInvalidToken
	}

	p, err := s.resolver().ByID(ctx, domain.Role(claims.Role), claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			return domain.TokenPair{}, ErrInvalidToken
		}
		return domain.TokenPair{}, err
	}
	if !p.Active {
		return domain.TokenPair{}, ErrInactiveAccount
	}

	if s.ReuseRefresh {
		access, err := s.mintAccess(p)
		if err != nil {
			return domain.TokenPair{}, err
		}
		return domain.TokenPair{
			AccessToken:  access,
			RefreshToken: refreshToken,
			TokenType:    domain.TokenType,
			ExpiresIn:    s.accessTTL(),
		}, nil
	}

	err = s.Store.RedeemedTokens().Redeem(ctx, domain.RedeemedToken{
		JTI:       claims.ID,
		Purpose:   string(jwtx.KindRefresh),
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			l.Warn("refresh token reused", slog.String("principal", p.Key()), slog.String("jti", claims.ID))
			return domain.TokenPair{}, ErrInvalidToken
		}
		return domain.TokenPair{}, err
	}

	return s.IssueFor(ctx, p)
}

// Authenticate returns the active principal an access token was issued to.
// Refresh tokens and scoped tokens such as reset tokens are refused.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (domain.Principal, error) {
	claims, err := s.Codec.Decode(accessToken)
	if err != nil {
		return domain.Principal{}, ErrInvalidToken
	}
	if claims.ExpectKind(jwtx.KindAccess) != nil || claims.ExpectScope() != nil {
		return domain.Principal{}, ErrInvalidToken
	}

	p, err := s.resolver().ByID(ctx, domain.Role(claims.Role), claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			return domain.Principal{}, ErrInvalidToken
		}
		return domain.Principal{}, err
	}
	if !p.Active {
		return domain.Principal{}, ErrInactiveAccount
	}
	return p, nil
}

func throttle(l *ratex.Limiter, key string) error {
	if l == nil {
		return nil
	}
	if ok, retry := l.Allow(key); !ok {
		return fmt.Errorf("%w: retry in %s", ErrRateLimited, retry.Round(time.Second))
	}
	return nil
}
