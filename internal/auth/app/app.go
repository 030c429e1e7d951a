package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/rollcall/internal/auth/challenge"
	"github.com/aussiebroadwan/rollcall/internal/auth/service"
	"github.com/aussiebroadwan/rollcall/internal/auth/store"
	"github.com/aussiebroadwan/rollcall/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/ratex"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the auth core with all its dependencies wired. It has
// no transport of its own; hosts call the exported services directly.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         store.Store
	redis      redis.UniversalClient // nil with the memory backend
	challenges challenge.Store
	codec      *jwtx.Codec
	hasher     cryptox.Hasher
	registry   *prometheus.Registry
	metrics    *service.Metrics

	// Services
	Sessions     *service.SessionService
	Passkeys     *service.PasskeyService
	Resets       *service.ResetService
	Principals   *service.PrincipalService
	Housekeeping *service.HousekeepingService
}

// NewLogger builds the process logger from cfg and installs it as default.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "rollcall-auth",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// New creates an Application with every dependency initialized. The caller
// must Close it.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg:      cfg,
		logger:   NewLogger(cfg),
		registry: prometheus.NewRegistry(),
	}

	var err error
	if app.codec, err = cfg.NewCodec(); err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}
	if app.hasher, err = cfg.NewHasher(); err != nil {
		return nil, fmt.Errorf("failed to initialize hasher: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initChallenges(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.metrics = service.NewMetrics(app.registry)
	app.initServices()

	return app, nil
}

// OpenStore opens the sqlite store and applies migrations.
func OpenStore(cfg Config) (*sqlite.Store, error) {
	db, err := sqlite.NewStore(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	return db, nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := OpenStore(app.cfg)
	if err != nil {
		return err
	}
	app.db = db

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initChallenges() error {
	switch app.cfg.ChallengeBackend {
	case ChallengeBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", app.cfg.RedisAddr, err)
		}
		app.redis = client
		app.challenges = challenge.NewRedisStore(client, app.cfg.RedisPrefix, app.cfg.ChallengeTTL)
	default:
		app.challenges = challenge.NewMemoryStore(app.cfg.ChallengeShards, app.cfg.ChallengeTTL)
	}

	app.logger.Info("challenge store ready", "backend", app.cfg.ChallengeBackend)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.Sessions = &service.SessionService{
		Store:        app.db,
		Codec:        app.codec,
		Hasher:       app.hasher,
		Metrics:      app.metrics,
		Limiter:      newLimiter(app.cfg.LoginAttempts, app.cfg),
		AccessTTL:    app.cfg.AccessTTL,
		RefreshTTL:   app.cfg.RefreshTTL,
		ReuseRefresh: !app.cfg.RefreshRotation,
	}

	app.Passkeys = &service.PasskeyService{
		Store:                   app.db,
		Challenges:              app.challenges,
		Sessions:                app.Sessions,
		Metrics:                 app.metrics,
		RPID:                    app.cfg.RPID,
		RPName:                  app.cfg.RPName,
		Origins:                 app.cfg.Origins,
		Timeout:                 app.cfg.ChallengeTTL,
		RequireUserVerification: app.cfg.RequireUserVerification,
	}

	app.Resets = &service.ResetService{
		Store:   app.db,
		Codec:   app.codec,
		Hasher:  app.hasher,
		Metrics: app.metrics,
		Limiter: newLimiter(app.cfg.ResetRequests, app.cfg),
		TTL:     app.cfg.ResetTTL,
	}

	app.Principals = &service.PrincipalService{
		Store:   app.db,
		Hasher:  app.hasher,
		Metrics: app.metrics,
	}

	app.Housekeeping = &service.HousekeepingService{
		Store:  app.db,
		Logger: app.logger,
	}
	if sw, ok := app.challenges.(service.Sweeper); ok {
		app.Housekeeping.Challenges = sw
	}
}

func newLimiter(requests int, cfg Config) *ratex.Limiter {
	if requests <= 0 {
		return nil
	}
	return ratex.New(ratex.Config{Requests: requests, Window: cfg.RateLimitWindow, Burst: requests})
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// Codec returns the token codec.
func (app *Application) Codec() *jwtx.Codec { return app.codec }

// Registry returns the registry holding the auth metrics, for a host to
// expose however it exposes metrics.
func (app *Application) Registry() *prometheus.Registry { return app.registry }

// Close releases the database and redis connections.
func (app *Application) Close() error {
	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
			errs = append(errs, err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
