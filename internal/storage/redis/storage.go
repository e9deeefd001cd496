package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/mcoot/logingate/internal/dependencies/clock"
	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a new Redis storage instance
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storeErr("ping", "", err)
	}

	return NewWithClient(client, cfg, clk, logger), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config, clk clock.Clock, logger *slog.Logger) *Storage {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &Storage{
		client: client,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String("component", "redis-storage")),
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the store round trip
func (s *Storage) Ping(ctx context.Context) error {
	return storeErr("ping", "", s.client.Ping(ctx).Err())
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// storeErr marks a driver failure as model.ErrStoreUnavailable.
// Only the operation and principal are attached; values never are.
func storeErr(op string, principal model.Principal, err error) error {
	if err == nil {
		return nil
	}
	builder := oops.In("redis").Code("STORE_UNAVAILABLE").With("op", op)
	if principal != "" {
		builder = builder.With("principal", string(principal))
	}
	return builder.Wrap(fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err))
}

// isNil reports whether err is the go-redis "no such key" reply
func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
