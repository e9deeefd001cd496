package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/storage"
)

// Config holds rate limit settings
type Config struct {
	// Threshold is the number of failures within Window after which a key is blocked
	Threshold int64
	// Window is the sliding TTL re-armed by every failure
	Window time.Duration
}

// DefaultConfig returns default rate limit configuration
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Window:    15 * time.Minute,
	}
}

// Limiter tracks failed attempts per key in the shared store
type Limiter struct {
	store  storage.AttemptStore
	cfg    Config
	logger *slog.Logger
}

// New creates a new Limiter
func New(store storage.AttemptStore, cfg Config, logger *slog.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Limiter{
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ratelimit")),
	}
}

// RecordFailure increments the counter for key and reports whether it is now blocked
func (l *Limiter) RecordFailure(ctx context.Context, key model.AttemptKey) (bool, error) {
	counter, err := l.store.IncrementAttempts(ctx, key, l.cfg.Window)
	if err != nil {
		return false, err
	}

	blocked := counter.Count >= l.cfg.Threshold
	if blocked {
		l.logger.Warn("attempt threshold reached",
			slog.String("kind", string(key.Kind)),
			slog.String("key", key.Value),
			slog.Int64("count", counter.Count))
	}
	return blocked, nil
}

// IsBlocked reports whether key has hit the threshold within the window
func (l *Limiter) IsBlocked(ctx context.Context, key model.AttemptKey) (bool, error) {
	counter, err := l.store.GetAttempts(ctx, key)
	if err != nil {
		return false, err
	}
	return counter.Count >= l.cfg.Threshold, nil
}

// IsAnyBlocked checks each key independently so neither axis can mask the other
func (l *Limiter) IsAnyBlocked(ctx context.Context, keys ...model.AttemptKey) (bool, error) {
	for _, key := range keys {
		blocked, err := l.IsBlocked(ctx, key)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}
	return false, nil
}

// Reset clears the counter for key
func (l *Limiter) Reset(ctx context.Context, key model.AttemptKey) error {
	return l.store.ResetAttempts(ctx, key)
}

// Threshold returns the configured failure threshold
func (l *Limiter) Threshold() int64 {
	return l.cfg.Threshold
}
