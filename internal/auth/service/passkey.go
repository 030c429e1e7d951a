package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/challenge"
	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/store"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/idx"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
	"github.com/aussiebroadwan/rollcall/pkg/webauthnx"
	"github.com/go-webauthn/webauthn/protocol"
)

const publicKeyType = string(protocol.PublicKeyCredentialType)

// PasskeyService runs the passwordless registration and authentication
// ceremonies. Both flows share Challenges; each finish takes the challenge
// its begin issued, so a response can be redeemed at most once.
type PasskeyService struct {
	Store      store.Store
	Challenges challenge.Store
	Sessions   *SessionService
	Metrics    *Metrics

	RPID    string
	RPName  string
	Origins []string

	// Timeout is advertised to the client. Defaults to challenge.DefaultTTL.
	Timeout time.Duration

	RequireUserVerification bool
}

func registrationKey(p domain.Principal) string { return "reg:" + p.Key() }

func authenticationKey(identifier string) string { return "auth:" + identifier }

func (s *PasskeyService) expectation(c domain.Challenge) webauthnx.Expectation {
	return webauthnx.Expectation{
		Challenge:               c.Value,
		RPID:                    s.RPID,
		Origins:                 s.Origins,
		RequireUserVerification: s.RequireUserVerification,
	}
}

func (s *PasskeyService) options(c domain.Challenge) domain.ChallengeOptions {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = challenge.DefaultTTL
	}
	uv := "preferred"
	if s.RequireUserVerification {
		uv = "required"
	}
	return domain.ChallengeOptions{
		Challenge:        webauthnx.Encode(c.Value),
		RPID:             s.RPID,
		RPName:           s.RPName,
		TimeoutMS:        timeout.Milliseconds(),
		UserVerification: uv,
	}
}

// ListCredentials returns the passkeys registered to p, oldest first.
func (s *PasskeyService) ListCredentials(ctx context.Context, p domain.Principal) ([]domain.Credential, error) {
	return s.Store.Credentials().ListForPrincipal(ctx, p.Role, p.ID)
}

func descriptors(creds []domain.Credential) []domain.CredentialDescriptor {
	out := make([]domain.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		out = append(out, domain.CredentialDescriptor{Type: publicKeyType, ID: webauthnx.Encode(c.CredentialID)})
	}
	return out
}

// BeginRegistration issues a registration challenge for an authenticated
// principal. Credentials it already holds are listed for exclusion.
func (s *PasskeyService) BeginRegistration(ctx context.Context, p domain.Principal) (opts domain.ChallengeOptions, err error) {
	ctx, finish := track(ctx, s.Metrics, "passkey_register_begin")
	defer func() { finish(err) }()

	creds, err := s.ListCredentials(ctx, p)
	if err != nil {
		return domain.ChallengeOptions{}, err
	}

	c, err := s.Challenges.Issue(ctx, registrationKey(p))
	if err != nil {
		return domain.ChallengeOptions{}, err
	}

	opts = s.options(c)
	opts.UserHandle = webauthnx.Encode([]byte(p.Key()))
	opts.UserName = p.Identifier
	opts.DisplayName = p.DisplayName
	opts.ExcludeCredentials = descriptors(creds)
	for _, alg := range cryptox.SupportedAlgorithms {
		opts.PubKeyCredParams = append(opts.PubKeyCredParams, domain.PublicKeyParam{Type: publicKeyType, Alg: alg})
	}
	return opts, nil
}

// FinishRegistration verifies the PublicKeyCredential JSON returned by
// navigator.credentials.create against the outstanding challenge and stores
// the new credential with the COSE_Key from its attested credential data.
func (s *PasskeyService) FinishRegistration(ctx context.Context, p domain.Principal, body []byte) (cred domain.Credential, err error) {
	ctx, finish := track(ctx, s.Metrics, "passkey_register_finish")
	defer func() { finish(err) }()
	l := slogx.FromContext(ctx)

	c, ok, err := s.Challenges.Take(ctx, registrationKey(p))
	if err != nil {
		return domain.Credential{}, err
	}
	if !ok {
		return domain.Credential{}, ErrNoChallenge
	}

	vc, err := webauthnx.VerifyRegistration(s.expectation(c), body)
	if err != nil {
		l.Info("registration response rejected", slog.String("principal", p.Key()), slog.Any("err", err))
		return domain.Credential{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	cred = domain.Credential{
		ID:            idx.New().String(),
		PrincipalRole: p.Role,
		PrincipalID:   p.ID,
		CredentialID:  vc.ID,
		PublicKey:     vc.PublicKey,
		Algorithm:     vc.Algorithm,
		SignCount:     vc.SignCount,
		CreatedAt:     time.Now(),
	}
	if err := s.Store.Credentials().Create(ctx, cred); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Credential{}, fmt.Errorf("%w: credential already registered", ErrVerificationFailed)
		}
		return domain.Credential{}, err
	}

	l.Info("passkey registered",
		slog.String("principal", p.Key()),
		slog.String("credential", cred.ID),
		slog.String("alg", cryptox.AlgorithmName(cred.Algorithm)),
		slog.String("attestation", vc.Format),
	)
	return cred, nil
}

// BeginAuthentication issues an authentication challenge for identifier.
// A challenge is issued whether or not the identifier resolves; an unknown
// identifier looks like a principal with no passkeys.
func (s *PasskeyService) BeginAuthentication(ctx context.Context, identifier string) (opts domain.ChallengeOptions, err error) {
	ctx, finish := track(ctx, s.Metrics, "passkey_login_begin")
	defer func() { finish(err) }()

	identifier = domain.NormalizeIdentifier(identifier)
	if identifier == "" {
		return domain.ChallengeOptions{}, ErrInvalidInput
	}

	allow := []domain.CredentialDescriptor{}
	p, err := (&Resolver{Store: s.Store}).ByIdentifier(ctx, identifier)
	switch {
	case err == nil:
		creds, err := s.ListCredentials(ctx, p)
		if err != nil {
			return domain.ChallengeOptions{}, err
		}
		allow = descriptors(creds)
	case errors.Is(err, ErrNotFound):
	default:
		return domain.ChallengeOptions{}, err
	}

	c, err := s.Challenges.Issue(ctx, authenticationKey(identifier))
	if err != nil {
		return domain.ChallengeOptions{}, err
	}

	opts = s.options(c)
	opts.AllowCredentials = allow
	return opts, nil
}

// FinishAuthentication verifies the PublicKeyCredential JSON returned by
// navigator.credentials.get for identifier and, on success, issues a token
// pair exactly as a password login would.
//
// The signature counter is checked before the signature itself, so a
// non-advancing counter is ErrReplayDetected whatever the signature says.
func (s *PasskeyService) FinishAuthentication(ctx context.Context, identifier string, body []byte) (pair domain.TokenPair, err error) {
	ctx, finish := track(ctx, s.Metrics, "passkey_login_finish")
	defer func() { finish(err) }()
	l := slogx.FromContext(ctx)

	identifier = domain.NormalizeIdentifier(identifier)

	c, ok, err := s.Challenges.Take(ctx, authenticationKey(identifier))
	if err != nil {
		return domain.TokenPair{}, err
	}
	if !ok {
		return domain.TokenPair{}, ErrNoChallenge
	}

	p, err := (&Resolver{Store: s.Store}).ByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.TokenPair{}, ErrUnknownCredential
		}
		return domain.TokenPair{}, err
	}
	if !p.Active {
		return domain.TokenPair{}, ErrInactiveAccount
	}

	assertion, err := webauthnx.ParseAssertion(body)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	cred, err := s.Store.Credentials().GetByCredentialID(ctx, assertion.CredentialID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrUnknownCredential
		}
		return domain.TokenPair{}, err
	}
	if !cred.BelongsTo(p) {
		l.Warn("credential presented for another principal", slog.String("principal", p.Key()), slog.String("credential", cred.ID))
		return domain.TokenPair{}, ErrUnknownCredential
	}
	if handle := assertion.UserHandle(); len(handle) > 0 && string(handle) != p.Key() {
		return domain.TokenPair{}, ErrUnknownCredential
	}

	presented := assertion.SignCount()
	if !counterAdvances(cred.SignCount, presented) {
		l.Warn("signature counter did not advance",
			slog.String("credential", cred.ID),
			slog.Uint64("stored", uint64(cred.SignCount)),
			slog.Uint64("presented", uint64(presented)),
		)
		return domain.TokenPair{}, ErrReplayDetected
	}

	if err := assertion.Verify(s.expectation(c), cred.PublicKey); err != nil {
		l.Info("assertion rejected", slog.String("credential", cred.ID), slog.Any("err", err))
		return domain.TokenPair{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	err = s.Store.Credentials().UpdateSignCount(ctx, cred.CredentialID, cred.SignCount, presented, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.TokenPair{}, ErrReplayDetected
		}
		return domain.TokenPair{}, err
	}

	return s.Sessions.IssueFor(ctx, p)
}

// counterAdvances applies the signature counter rule: the presented counter
// must be strictly greater than the stored one, except that an authenticator
// which has never counted (both zero) is accepted.
func counterAdvances(stored, presented uint32) bool {
	if stored == 0 && presented == 0 {
		return true
	}
	return presented > stored
}
