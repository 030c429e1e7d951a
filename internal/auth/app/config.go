package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/validx"
	"github.com/caarlos0/env/v10"
)

// Challenge store backends.
const (
	ChallengeBackendMemory = "memory"
	ChallengeBackendRedis  = "redis"
)

// ErrNoSigningSecret is returned when a token codec is needed but neither
// AUTH_SIGNING_SECRET nor AUTH_SIGNING_SECRET_FILE is set.
var ErrNoSigningSecret = errors.New("app: no signing secret configured")

type Config struct {
	// Token signing. The secret may come from the environment directly or
	// from a file (e.g. a mounted secret); the file wins when both are set.
	SigningSecret     string        `env:"AUTH_SIGNING_SECRET" validate:"omitempty,min=32"`
	SigningSecretFile string        `env:"AUTH_SIGNING_SECRET_FILE"`
	Issuer            string        `env:"AUTH_ISSUER" envDefault:"rollcall-auth"`
	AccessTTL         time.Duration `env:"AUTH_ACCESS_TTL" envDefault:"15m" validate:"gt=0s"`
	RefreshTTL        time.Duration `env:"AUTH_REFRESH_TTL" envDefault:"168h" validate:"gt=0s"`
	ResetTTL          time.Duration `env:"AUTH_RESET_TTL" envDefault:"15m" validate:"gt=0s,lte=15m"`
	RefreshRotation   bool          `env:"AUTH_REFRESH_ROTATION" envDefault:"true"`

	// Secret hashing.
	HashAlgorithm string `env:"AUTH_HASH_ALGORITHM" envDefault:"bcrypt" validate:"oneof=bcrypt argon2id"`
	// HashCost is the bcrypt work factor or the argon2id pass count; unset
	// selects the algorithm's default (bcrypt 12, argon2id 2).
	HashCost int `env:"AUTH_HASH_COST" validate:"omitempty,gte=1,lte=31"`

	// Passwordless ceremony.
	RPID                    string   `env:"AUTH_RP_ID" envDefault:"localhost" validate:"required"`
	RPName                  string   `env:"AUTH_RP_NAME" envDefault:"Rollcall"`
	Origins                 []string `env:"AUTH_ORIGINS" envDefault:"http://localhost:8080" envSeparator:"," validate:"min=1,dive,url"`
	RequireUserVerification bool     `env:"AUTH_REQUIRE_USER_VERIFICATION" envDefault:"false"`

	// Challenge store.
	ChallengeTTL     time.Duration `env:"AUTH_CHALLENGE_TTL" envDefault:"5m" validate:"gt=0s"`
	ChallengeBackend string        `env:"AUTH_CHALLENGE_BACKEND" envDefault:"memory" validate:"oneof=memory redis"`
	ChallengeShards  int           `env:"AUTH_CHALLENGE_SHARDS" envDefault:"32" validate:"gte=1,lte=4096"`
	RedisAddr        string        `env:"AUTH_REDIS_ADDR" envDefault:"localhost:6379" validate:"required_if=ChallengeBackend redis"`
	RedisPassword    string        `env:"AUTH_REDIS_PASSWORD"`
	RedisDB          int           `env:"AUTH_REDIS_DB" envDefault:"0" validate:"gte=0"`
	RedisPrefix      string        `env:"AUTH_REDIS_PREFIX" envDefault:"rc:chal"`

	// Throttling, per identifier. Zero disables.
	LoginAttempts   int           `env:"AUTH_LOGIN_ATTEMPTS" envDefault:"5" validate:"gte=0"`
	ResetRequests   int           `env:"AUTH_RESET_REQUESTS" envDefault:"3" validate:"gte=0"`
	RateLimitWindow time.Duration `env:"AUTH_RATE_LIMIT_WINDOW" envDefault:"1m" validate:"gt=0s"`

	DatabaseFile string `env:"AUTH_DATABASE_FILE" envDefault:"auth.db" validate:"required"`
	Env          string `env:"ENV" envDefault:"dev"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
}

// LoadConfig reads the configuration from the environment and validates it.
// A missing signing secret is not an error here; see Config.Secret.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.SigningSecretFile != "" {
		raw, err := os.ReadFile(cfg.SigningSecretFile)
		if err != nil {
			return Config{}, fmt.Errorf("read signing secret: %w", err)
		}
		cfg.SigningSecret = strings.TrimSpace(string(raw))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validx.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Secret returns the signing secret, or ErrNoSigningSecret.
func (c Config) Secret() ([]byte, error) {
	if c.SigningSecret == "" {
		return nil, ErrNoSigningSecret
	}
	return []byte(c.SigningSecret), nil
}

// NewCodec builds the token codec from the signing secret and issuer.
func (c Config) NewCodec() (*jwtx.Codec, error) {
	secret, err := c.Secret()
	if err != nil {
		return nil, err
	}
	return jwtx.NewCodec(secret, c.Issuer)
}

// NewHasher builds the configured secret hasher.
func (c Config) NewHasher() (cryptox.Hasher, error) {
	return cryptox.NewHasher(c.HashAlgorithm, c.HashCost)
}

// DSN is the sqlite data source for DatabaseFile.
func (c Config) DSN() string {
	if strings.Contains(c.DatabaseFile, ":memory:") || strings.HasPrefix(c.DatabaseFile, "file:") {
		return c.DatabaseFile
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", c.DatabaseFile)
}
