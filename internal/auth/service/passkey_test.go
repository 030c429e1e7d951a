package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/webauthnx"
	"github.com/aussiebroadwan/rollcall/pkg/webauthnx/webauthnxtest"
	"github.com/stretchr/testify/require"
)

func TestPasskey_AliceRegistersThenReplays(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, domain.RolePrimaryUser, "alice@example.com", "pw")

	auth := h.registerPasskey(t, alice, cryptox.AlgES256)

	opts, err := h.passkeys.BeginAuthentication(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, []domain.CredentialDescriptor{
		{Type: "public-key", ID: webauthnx.Encode(auth.CredentialID)},
	}, opts.AllowCredentials)

	captured := auth.Assert(decodeChallenge(t, opts)).JSON()

	pair, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", captured)
	require.NoError(t, err)
	access := mustDecode(t, h, pair.AccessToken)
	require.Equal(t, alice.ID, access.Subject)
	require.Equal(t, string(domain.RolePrimaryUser), access.Role)

	// Straight replay: the challenge is gone.
	_, err = h.passkeys.FinishAuthentication(ctx, "alice@example.com", captured)
	require.ErrorIs(t, err, ErrNoChallenge)

	// Replay against a fresh challenge: the counter has not moved.
	_, err = h.passkeys.BeginAuthentication(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = h.passkeys.FinishAuthentication(ctx, "alice@example.com", captured)
	require.ErrorIs(t, err, ErrReplayDetected)
}

func TestPasskey_AllAlgorithms(t *testing.T) {
	ctx := context.Background()

	for _, alg := range cryptox.SupportedAlgorithms {
		t.Run(cryptox.AlgorithmName(alg), func(t *testing.T) {
			h := newHarness(t)
			p := h.register(t, domain.RoleStaff, "t@school.example", "pw")
			auth := h.registerPasskey(t, p, alg)

			for range 3 {
				opts, err := h.passkeys.BeginAuthentication(ctx, p.Identifier)
				require.NoError(t, err)
				_, err = h.passkeys.FinishAuthentication(ctx, p.Identifier, auth.Assert(decodeChallenge(t, opts)).JSON())
				require.NoError(t, err)
			}

			creds, err := h.passkeys.ListCredentials(ctx, p)
			require.NoError(t, err)
			require.Len(t, creds, 1)
			require.Equal(t, uint32(3), creds[0].SignCount)
			require.NotNil(t, creds[0].LastUsedAt)
		})
	}
}

func TestPasskey_StoresAttestedKey(t *testing.T) {
	ctx := context.Background()

	for _, alg := range cryptox.SupportedAlgorithms {
		t.Run(cryptox.AlgorithmName(alg), func(t *testing.T) {
			h := newHarness(t)
			p := h.register(t, domain.RoleStaff, "t@school.example", "pw")
			auth := h.registerPasskey(t, p, alg)

			creds, err := h.passkeys.ListCredentials(ctx, p)
			require.NoError(t, err)
			require.Len(t, creds, 1)
			require.Equal(t, auth.CredentialID, creds[0].CredentialID)
			require.Equal(t, auth.PublicKey(), creds[0].PublicKey)
			require.Equal(t, alg, creds[0].Algorithm)
		})
	}
}

func TestPasskey_CounterMustAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.register(t, domain.RoleStaff, "t@school.example", "pw")
	auth := h.registerPasskey(t, p, cryptox.AlgEdDSA)

	assertWith := func(count uint32, tamper bool) error {
		opts, err := h.passkeys.BeginAuthentication(ctx, p.Identifier)
		require.NoError(t, err)
		resp := auth.AssertWithCounter(decodeChallenge(t, opts), count)
		if tamper {
			resp.Signature[0] ^= 0xff
		}
		_, err = h.passkeys.FinishAuthentication(ctx, p.Identifier, resp.JSON())
		return err
	}

	require.NoError(t, assertWith(5, false))

	tests := []struct {
		name   string
		count  uint32
		tamper bool
		want   error
	}{
		{"equal", 5, false, ErrReplayDetected},
		{"lower", 4, false, ErrReplayDetected},
		{"zero", 0, false, ErrReplayDetected},
		{"lower with bad signature", 3, true, ErrReplayDetected},
		{"higher with bad signature", 9, true, ErrVerificationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, assertWith(tt.count, tt.tamper), tt.want)
		})
	}

	// Failed attempts never moved the stored counter.
	require.NoError(t, assertWith(6, false))
}

func TestPasskey_CounterlessAuthenticator(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.register(t, domain.RoleGuardian, "g@home.example", "pw")

	opts, err := h.passkeys.BeginRegistration(ctx, p)
	require.NoError(t, err)
	auth := webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256)
	auth.Counterless = true
	_, err = h.passkeys.FinishRegistration(ctx, p, auth.Register(decodeChallenge(t, opts)).JSON())
	require.NoError(t, err)

	for range 2 {
		opts, err := h.passkeys.BeginAuthentication(ctx, p.Identifier)
		require.NoError(t, err)
		_, err = h.passkeys.FinishAuthentication(ctx, p.Identifier, auth.Assert(decodeChallenge(t, opts)).JSON())
		require.NoError(t, err)
	}
}

func TestPasskey_ConcurrentFinishSingleWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.register(t, domain.RolePrimaryUser, "alice@example.com", "pw")
	auth := h.registerPasskey(t, p, cryptox.AlgES256)

	opts, err := h.passkeys.BeginAuthentication(ctx, p.Identifier)
	require.NoError(t, err)
	resp := auth.Assert(decodeChallenge(t, opts)).JSON()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.passkeys.FinishAuthentication(ctx, p.Identifier, resp)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Len(t, failures, n-1)
	for _, err := range failures {
		require.True(t, errors.Is(err, ErrNoChallenge) || errors.Is(err, ErrReplayDetected), "unexpected error: %v", err)
	}
}

func TestPasskey_Registration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.register(t, domain.RoleStaff, "t@school.example", "pw")

	t.Run("no challenge", func(t *testing.T) {
		auth := webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256)
		_, err := h.passkeys.FinishRegistration(ctx, p, auth.Register(make([]byte, 32)).JSON())
		require.ErrorIs(t, err, ErrNoChallenge)
	})

	t.Run("options", func(t *testing.T) {
		first := h.registerPasskey(t, p, cryptox.AlgRS256)

		opts, err := h.passkeys.BeginRegistration(ctx, p)
		require.NoError(t, err)
		require.Equal(t, testRPID, opts.RPID)
		require.Equal(t, "Rollcall", opts.RPName)
		require.Equal(t, p.Identifier, opts.UserName)
		require.Equal(t, webauthnx.Encode([]byte("staff:"+p.ID)), opts.UserHandle)
		require.Len(t, opts.PubKeyCredParams, len(cryptox.SupportedAlgorithms))
		require.Equal(t, []domain.CredentialDescriptor{
			{Type: "public-key", ID: webauthnx.Encode(first.CredentialID)},
		}, opts.ExcludeCredentials)
		require.Positive(t, opts.TimeoutMS)

		// Re-registering the same authenticator is refused.
		_, err = h.passkeys.FinishRegistration(ctx, p, first.Register(decodeChallenge(t, opts)).JSON())
		require.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("mismatches", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(a *webauthnxtest.Authenticator)
		}{
			{"origin", func(a *webauthnxtest.Authenticator) { a.Origin = "https://evil.example" }},
			{"rp id", func(a *webauthnxtest.Authenticator) { a.RPID = "evil.example" }},
			{"user not present", func(a *webauthnxtest.Authenticator) { a.Flags = 0 }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				opts, err := h.passkeys.BeginRegistration(ctx, p)
				require.NoError(t, err)

				auth := webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256)
				tt.mutate(auth)
				_, err = h.passkeys.FinishRegistration(ctx, p, auth.Register(decodeChallenge(t, opts)).JSON())
				require.ErrorIs(t, err, ErrVerificationFailed)

				// The failed attempt consumed the challenge.
				_, err = h.passkeys.FinishRegistration(ctx, p, auth.Register(decodeChallenge(t, opts)).JSON())
				require.ErrorIs(t, err, ErrNoChallenge)
			})
		}
	})

	t.Run("posted id differs from attested id", func(t *testing.T) {
		opts, err := h.passkeys.BeginRegistration(ctx, p)
		require.NoError(t, err)

		auth := webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256)
		reg := auth.Register(decodeChallenge(t, opts))
		reg.CredentialID = webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256).CredentialID
		_, err = h.passkeys.FinishRegistration(ctx, p, reg.JSON())
		require.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("wrong challenge", func(t *testing.T) {
		_, err := h.passkeys.BeginRegistration(ctx, p)
		require.NoError(t, err)

		auth := webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256)
		_, err = h.passkeys.FinishRegistration(ctx, p, auth.Register([]byte("not the issued challenge")).JSON())
		require.ErrorIs(t, err, ErrVerificationFailed)
	})
}

func TestPasskey_AuthenticationRejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, domain.RolePrimaryUser, "alice@example.com", "pw")
	bob := h.register(t, domain.RolePrimaryUser, "bob@example.com", "pw")
	aliceKey := h.registerPasskey(t, alice, cryptox.AlgES256)
	h.registerPasskey(t, bob, cryptox.AlgES256)

	begin := func(identifier string) []byte {
		opts, err := h.passkeys.BeginAuthentication(ctx, identifier)
		require.NoError(t, err)
		return decodeChallenge(t, opts)
	}

	t.Run("unknown identifier gets a challenge", func(t *testing.T) {
		opts, err := h.passkeys.BeginAuthentication(ctx, "ghost@example.com")
		require.NoError(t, err)
		require.NotEmpty(t, opts.Challenge)
		require.Empty(t, opts.AllowCredentials)

		_, err = h.passkeys.FinishAuthentication(ctx, "ghost@example.com", aliceKey.Assert(decodeChallenge(t, opts)).JSON())
		require.ErrorIs(t, err, ErrUnknownCredential)
	})

	t.Run("empty identifier", func(t *testing.T) {
		_, err := h.passkeys.BeginAuthentication(ctx, " ")
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("no challenge", func(t *testing.T) {
		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", aliceKey.Assert(make([]byte, 32)).JSON())
		require.ErrorIs(t, err, ErrNoChallenge)
	})

	t.Run("someone else's credential", func(t *testing.T) {
		_, err := h.passkeys.FinishAuthentication(ctx, "bob@example.com", aliceKey.Assert(begin("bob@example.com")).JSON())
		require.ErrorIs(t, err, ErrUnknownCredential)
	})

	t.Run("unregistered credential", func(t *testing.T) {
		stranger := webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256)
		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", stranger.Assert(begin("alice@example.com")).JSON())
		require.ErrorIs(t, err, ErrUnknownCredential)
	})

	t.Run("challenge issued for another identifier", func(t *testing.T) {
		resp := aliceKey.Assert(begin("bob@example.com")).JSON()
		_, err := h.passkeys.BeginAuthentication(ctx, "alice@example.com")
		require.NoError(t, err)

		_, err = h.passkeys.FinishAuthentication(ctx, "alice@example.com", resp)
		require.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("wrong origin", func(t *testing.T) {
		aliceKey.Origin = "https://evil.example"
		t.Cleanup(func() { aliceKey.Origin = testOrigin })

		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", aliceKey.Assert(begin("alice@example.com")).JSON())
		require.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("user handle of another principal", func(t *testing.T) {
		resp := aliceKey.Assert(begin("alice@example.com"))
		resp.UserHandle = []byte(bob.Key())

		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", resp.JSON())
		require.ErrorIs(t, err, ErrUnknownCredential)
	})

	t.Run("key swapped under the same credential id", func(t *testing.T) {
		impostor := *aliceKey
		impostor.Key = webauthnxtest.MustNew(testRPID, testOrigin, cryptox.AlgES256).Key

		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", impostor.Assert(begin("alice@example.com")).JSON())
		require.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("malformed body", func(t *testing.T) {
		begin("alice@example.com")
		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", []byte(`{"id":"","type":"public-key"}`))
		require.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("inactive principal", func(t *testing.T) {
		require.NoError(t, h.principals.SetActive(ctx, alice.Role, alice.ID, false))
		t.Cleanup(func() { _ = h.principals.SetActive(ctx, alice.Role, alice.ID, true) })

		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", aliceKey.Assert(begin("alice@example.com")).JSON())
		require.ErrorIs(t, err, ErrInactiveAccount)
	})

	t.Run("still works afterwards", func(t *testing.T) {
		_, err := h.passkeys.FinishAuthentication(ctx, "alice@example.com", aliceKey.Assert(begin("alice@example.com")).JSON())
		require.NoError(t, err)
	})
}

func TestCounterAdvances(t *testing.T) {
	tests := []struct {
		stored, presented uint32
		want              bool
	}{
		{0, 0, true},
		{0, 1, true},
		{1, 2, true},
		{1, 1, false},
		{2, 1, false},
		{7, 0, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, counterAdvances(tt.stored, tt.presented), "stored=%d presented=%d", tt.stored, tt.presented)
	}
}
