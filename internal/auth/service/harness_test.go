package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/challenge"
	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/webauthnx"
	"github.com/aussiebroadwan/rollcall/pkg/webauthnx/webauthnxtest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testRPID   = "school.example"
	testOrigin = "https://school.example"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type harness struct {
	store      *sqlite.Store
	codec      *jwtx.Codec
	hasher     *cryptox.BcryptHasher
	challenges *challenge.MemoryStore

	principals *PrincipalService
	sessions   *SessionService
	resets     *ResetService
	passkeys   *PasskeyService

	// now drives the token codec clock.
	now *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	codec, err := jwtx.NewCodec(testSecret, "rollcall-test")
	require.NoError(t, err)
	now := time.Now().Truncate(time.Second)
	codec.Now = func() time.Time { return now }

	hasher, err := cryptox.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	challenges := challenge.NewMemoryStore(4, challenge.DefaultTTL)

	sessions := &SessionService{
		Store:      st,
		Codec:      codec,
		Hasher:     hasher,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}

	return &harness{
		store:      st,
		codec:      codec,
		hasher:     hasher,
		challenges: challenges,
		principals: &PrincipalService{Store: st, Hasher: hasher},
		sessions:   sessions,
		resets:     &ResetService{Store: st, Codec: codec, Hasher: hasher},
		passkeys: &PasskeyService{
			Store:      st,
			Challenges: challenges,
			Sessions:   sessions,
			RPID:       testRPID,
			RPName:     "Rollcall",
			Origins:    []string{testOrigin},
		},
		now: &now,
	}
}

func (h *harness) advance(d time.Duration) { *h.now = h.now.Add(d) }

func (h *harness) register(t *testing.T, role domain.Role, identifier, secret string) domain.Principal {
	t.Helper()

	p, err := h.principals.Register(context.Background(), RegisterInput{
		Role:        role,
		Identifier:  identifier,
		Secret:      secret,
		DisplayName: "Test " + string(role),
	})
	require.NoError(t, err)
	return p
}

// registerPasskey runs a full registration ceremony for p and returns the
// authenticator holding the new credential.
func (h *harness) registerPasskey(t *testing.T, p domain.Principal, alg int) *webauthnxtest.Authenticator {
	t.Helper()
	ctx := context.Background()

	opts, err := h.passkeys.BeginRegistration(ctx, p)
	require.NoError(t, err)

	auth := webauthnxtest.MustNew(testRPID, testOrigin, alg)
	_, err = h.passkeys.FinishRegistration(ctx, p, auth.Register(decodeChallenge(t, opts)).JSON())
	require.NoError(t, err)
	return auth
}

func decodeChallenge(t *testing.T, opts domain.ChallengeOptions) []byte {
	t.Helper()

	raw, err := webauthnx.Decode(opts.Challenge)
	require.NoError(t, err)
	require.Len(t, raw, challenge.Size)
	return raw
}
