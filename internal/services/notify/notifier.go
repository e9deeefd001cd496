// Package notify carries session changes between servers over the shared
// store's pub/sub channel.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/logingate/internal/metrics"
	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/storage"
)

// ErrAlreadyStarted is returned by Start on a running notifier
var ErrAlreadyStarted = errors.New("notifier already started")

// PeerHandler applies session events from other servers
type PeerHandler interface {
	HandlePeerEvent(ctx context.Context, event model.SessionEvent) bool
	// Recheck re-reads every local lease; called after a resubscribe since
	// events may have been lost while the subscription was down
	Recheck(ctx context.Context) int
}

// Config holds notifier settings
type Config struct {
	// ServerID is this server's origin; events carrying it are skipped
	ServerID string
	// PublishTimeout bounds a single publish
	PublishTimeout time.Duration
	// ResubscribeDelay is the wait between subscribe attempts after a loss
	ResubscribeDelay time.Duration
}

// DefaultConfig returns default notifier configuration
func DefaultConfig() Config {
	return Config{
		ServerID:         "server-1",
		PublishTimeout:   time.Second,
		ResubscribeDelay: time.Second,
	}
}

// Notifier publishes this server's session events and feeds other
// servers' events to a PeerHandler
type Notifier struct {
	bus    storage.EventBus
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Notifier
func New(bus storage.EventBus, cfg Config, logger *slog.Logger) *Notifier {
	def := DefaultConfig()
	if cfg.ServerID == "" {
		cfg.ServerID = def.ServerID
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = def.ResubscribeDelay
	}
	return &Notifier{
		bus:    bus,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Publish sends event to the other servers. It is fire-and-forget: a
// failure is logged and otherwise ignored, since missed events heal on the
// next lease read.
func (n *Notifier) Publish(ctx context.Context, event model.SessionEvent) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.PublishTimeout)
	defer cancel()
	if err := n.bus.PublishSessionEvent(ctx, event); err != nil {
		n.logger.Warn("failed to publish session event",
			slog.String("principal", string(event.Principal)),
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()))
	}
}

// Start subscribes and delivers foreign events to handler on a background
// goroutine until Stop is called or ctx is done. The subscription is live
// when Start returns.
func (n *Notifier) Start(ctx context.Context, handler PeerHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := n.bus.SubscribeSessionEvents(ctx)
	if err != nil {
		cancel()
		return err
	}

	n.cancel = cancel
	n.done = make(chan struct{})
	go n.run(ctx, sub, handler, n.done)
	n.logger.Info("session notifier started", slog.String("server_id", n.cfg.ServerID))
	return nil
}

// Stop ends the subscription and waits for the delivery goroutine to exit
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	n.logger.Info("session notifier stopped")
}

func (n *Notifier) run(ctx context.Context, sub storage.Subscription, handler PeerHandler, done chan struct{}) {
	defer close(done)
	for {
		n.consume(ctx, sub, handler)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}

		n.logger.Warn("session event subscription lost, resubscribing")
		sub = n.resubscribe(ctx)
		if sub == nil {
			return
		}
		if demoted := handler.Recheck(ctx); demoted > 0 {
			n.logger.Info("recheck after resubscribe demoted connections", slog.Int("count", demoted))
		}
	}
}

// consume returns when ctx is done or the subscription channel closes
func (n *Notifier) consume(ctx context.Context, sub storage.Subscription, handler PeerHandler) {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			foreign := event.OriginServerID != n.cfg.ServerID
			metrics.RecordPeerEvent(string(event.Kind), foreign)
			if !foreign {
				continue
			}
			handler.HandlePeerEvent(ctx, event)
		}
	}
}

// resubscribe retries until it succeeds or ctx is done
func (n *Notifier) resubscribe(ctx context.Context) storage.Subscription {
	timer := time.NewTimer(n.cfg.ResubscribeDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		sub, err := n.bus.SubscribeSessionEvents(ctx)
		if err == nil {
			n.logger.Info("session event subscription restored")
			return sub
		}
		n.logger.Warn("resubscribe failed", slog.String("error", err.Error()))
		timer.Reset(n.cfg.ResubscribeDelay)
	}
}
