package factory

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/mcoot/logingate/internal/config"
	"github.com/mcoot/logingate/internal/dependencies/clock"
	"github.com/mcoot/logingate/internal/dependencies/random"
	"github.com/mcoot/logingate/internal/services/gate"
	"github.com/mcoot/logingate/internal/services/hasher"
	"github.com/mcoot/logingate/internal/services/notify"
	"github.com/mcoot/logingate/internal/services/ratelimit"
	"github.com/mcoot/logingate/internal/storage"
	"github.com/mcoot/logingate/internal/storage/memory"
	redisstorage "github.com/mcoot/logingate/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory = config.StoreMemory
	StorageTypeRedis  = config.StoreRedis
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Hashers  *hasher.Pool
	Limiter  *ratelimit.Limiter
	Notifier *notify.Notifier
	Gate     *gate.Gate

	logger *slog.Logger
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// GateConfig is passed through; zero durations take defaults.
	// Use gate.DefaultConfig() as a base to keep auto-login enabled.
	GateConfig gate.Config
	// HasherConfig selects the hash algorithm; zero value means argon2id defaults
	HasherConfig hasher.Config
	// HashConcurrency bounds concurrent hashing (0 = GOMAXPROCS)
	HashConcurrency int
	// RateLimitConfig holds the failed-attempt policy; zero fields take defaults
	RateLimitConfig ratelimit.Config
}

// FromConfig maps loaded daemon configuration onto the factory
func FromConfig(c *config.Config, logger *slog.Logger) Config {
	redisCfg := redisstorage.DefaultConfig()
	redisCfg.URL = c.Store.URL
	redisCfg.KeyPrefix = c.Store.KeyPrefix
	if c.Store.PoolSize > 0 {
		redisCfg.PoolSize = c.Store.PoolSize
	}
	redisCfg.MinIdleConns = c.Store.MinIdleConns

	hashCfg := hasher.DefaultConfig()
	hashCfg.Algorithm = c.Hash.Algorithm
	if c.Hash.WorkFactor > 0 {
		hashCfg.WorkFactor = c.Hash.WorkFactor
	} else if c.Hash.Algorithm == hasher.AlgorithmBcrypt {
		hashCfg.WorkFactor = 0
	}

	return Config{
		Logger:      logger,
		StorageType: c.Store.Type,
		RedisConfig: &redisCfg,
		GateConfig: gate.Config{
			ServerID:             c.ServerID,
			SessionTTL:           c.Session.TTL,
			AutoLoginOnReconnect: c.Session.AutoLogin,
			StoreTimeout:         c.Store.Timeout,
			CacheTTL:             c.Session.CacheTTL,
			RecheckInterval:      c.Session.RecheckInterval,
			CodeLength:           c.Code.Length,
			CodeValidity:         c.Code.Validity,
			WebCodeValidity:      c.Code.WebValidity,
			CodeURL:              c.Code.WebsiteURL,
		},
		HasherConfig:    hashCfg,
		HashConcurrency: c.Hash.Concurrency,
		RateLimitConfig: ratelimit.Config{
			Threshold: c.RateLimit.Threshold,
			Window:    c.RateLimit.Window,
		},
	}
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Create external dependencies
	clk := clock.New()
	rnd := random.New()

	// Create storage based on type
	var store storage.Storage
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		store = memory.New(clk)
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig, clk, logger)
		if err != nil {
			return nil, err
		}
		store = redisStore
	default:
		return nil, errors.New("invalid StorageType: must be 'memory' or 'redis'")
	}

	h, err := hasher.New(cfg.HasherConfig, rnd)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return newWithDependencies(store, clk, rnd, h, cfg, logger), nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(store storage.Storage, clk clock.Clock, rnd random.Random, h hasher.Hasher, cfg Config, logger *slog.Logger) *App {
	gateCfg := cfg.GateConfig
	if gateCfg.ServerID == "" {
		gateCfg.ServerID = "gate-" + rnd.String(8, random.ServerIDAlphabet)
	}

	hashers := hasher.NewPool(h, cfg.HashConcurrency)
	limiter := ratelimit.New(store, cfg.RateLimitConfig, logger)
	notifier := notify.New(store, notify.Config{ServerID: gateCfg.ServerID}, logger)
	g := gate.New(store, hashers, limiter, notifier, clk, rnd, gateCfg, logger)

	return &App{
		Storage:  store,
		Clock:    clk,
		Random:   rnd,
		Hashers:  hashers,
		Limiter:  limiter,
		Notifier: notifier,
		Gate:     g,
		logger:   logger,
	}
}

// Start subscribes to session events from other servers
func (a *App) Start(ctx context.Context) error {
	return a.Notifier.Start(ctx, a.Gate)
}

// Ready reports whether the shared store answers
func (a *App) Ready(ctx context.Context) bool {
	return a.Storage.Ping(ctx) == nil
}

// Close stops the notifier and releases the store connection
func (a *App) Close() error {
	a.Notifier.Stop()
	if err := a.Storage.Close(); err != nil {
		a.logger.Warn("error closing storage", slog.String("error", err.Error()))
		return err
	}
	return nil
}
