package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "rollcall-auth", cfg.Issuer)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 15*time.Minute, cfg.ResetTTL)
	assert.True(t, cfg.RefreshRotation)
	assert.Equal(t, "bcrypt", cfg.HashAlgorithm)
	assert.Zero(t, cfg.HashCost)
	assert.Equal(t, ChallengeBackendMemory, cfg.ChallengeBackend)
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.Origins)
	assert.Equal(t, "auth.db", cfg.DatabaseFile)

	hasher, err := cfg.NewHasher()
	require.NoError(t, err)
	require.IsType(t, &cryptox.BcryptHasher{}, hasher)
	assert.Equal(t, cryptox.DefaultBcryptCost, hasher.(*cryptox.BcryptHasher).Cost)

	_, err = cfg.Secret()
	require.ErrorIs(t, err, ErrNoSigningSecret)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("AUTH_SIGNING_SECRET", goodSecret)
	t.Setenv("AUTH_ACCESS_TTL", "5m")
	t.Setenv("AUTH_REFRESH_ROTATION", "false")
	t.Setenv("AUTH_ORIGINS", "https://school.example,https://admin.school.example")
	t.Setenv("AUTH_CHALLENGE_BACKEND", "redis")
	t.Setenv("AUTH_HASH_ALGORITHM", "argon2id")
	t.Setenv("AUTH_HASH_COST", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.RefreshRotation)
	assert.Equal(t, []string{"https://school.example", "https://admin.school.example"}, cfg.Origins)
	assert.Equal(t, ChallengeBackendRedis, cfg.ChallengeBackend)

	codec, err := cfg.NewCodec()
	require.NoError(t, err)
	assert.Equal(t, "HS256", codec.Alg())

	hasher, err := cfg.NewHasher()
	require.NoError(t, err)
	require.IsType(t, &cryptox.Argon2idHasher{}, hasher)
	assert.Equal(t, uint32(3), hasher.(*cryptox.Argon2idHasher).Params.Iterations)
}

func TestLoadConfig_SecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte(goodSecret+"\n"), 0o600))
	t.Setenv("AUTH_SIGNING_SECRET", "ignored-because-the-file-wins-over-env")
	t.Setenv("AUTH_SIGNING_SECRET_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, goodSecret, cfg.SigningSecret)

	t.Setenv("AUTH_SIGNING_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"short secret", "AUTH_SIGNING_SECRET", "short", "SigningSecret"},
		{"reset ttl above cap", "AUTH_RESET_TTL", "1h", "ResetTTL"},
		{"unknown hash", "AUTH_HASH_ALGORITHM", "md5", "HashAlgorithm"},
		{"cost too high", "AUTH_HASH_COST", "32", "HashCost"},
		{"unknown backend", "AUTH_CHALLENGE_BACKEND", "memcached", "ChallengeBackend"},
		{"bad origin", "AUTH_ORIGINS", "not a url", "Origins[0]"},
		{"zero shards", "AUTH_CHALLENGE_SHARDS", "0", "ChallengeShards"},
		{"bad log level", "LOG_LEVEL", "loud", "LogLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "'"+tt.field+"'")
		})
	}

	t.Run("unparseable duration", func(t *testing.T) {
		t.Setenv("AUTH_ACCESS_TTL", "soon")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "parse config"))
	})
}

func TestConfig_DSN(t *testing.T) {
	assert.Equal(t, ":memory:", Config{DatabaseFile: ":memory:"}.DSN())
	assert.Equal(t, "file:x.db?mode=ro", Config{DatabaseFile: "file:x.db?mode=ro"}.DSN())
	assert.Equal(t, "file:auth.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", Config{DatabaseFile: "auth.db"}.DSN())
}
