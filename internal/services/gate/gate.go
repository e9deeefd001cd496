// Package gate is the per-connection auth state machine. It decides whether
// a connecting principal may play, using the shared store as the only
// source of truth and keeping a short-lived local view per connection.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mcoot/logingate/internal/dependencies/clock"
	"github.com/mcoot/logingate/internal/dependencies/random"
	"github.com/mcoot/logingate/internal/metrics"
	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/services/hasher"
	"github.com/mcoot/logingate/internal/services/ratelimit"
	"github.com/mcoot/logingate/internal/storage"
)

// Config holds configuration for the gate
type Config struct {
	// ServerID identifies this process in leases and session events
	ServerID string
	// SessionTTL is the lifetime of a lease from login or last touch
	SessionTTL time.Duration
	// AutoLoginOnReconnect lets OnConnect resume a live lease without a prompt
	AutoLoginOnReconnect bool
	// StoreTimeout bounds every store round trip
	StoreTimeout time.Duration
	// CacheTTL bounds how long a local authenticated marker is trusted
	// without re-reading the lease
	CacheTTL time.Duration
	// RecheckInterval is the period of RunRecheck
	RecheckInterval time.Duration
	// CodeLength is the number of characters in a one-time code
	CodeLength int
	// CodeValidity is how long a login code stays claimable
	CodeValidity time.Duration
	// WebCodeValidity is how long a web code stays redeemable
	WebCodeValidity time.Duration
	// CodeURL is the website login URL; "{code}" is replaced with the code
	CodeURL string
}

// DefaultConfig returns default gate configuration
func DefaultConfig() Config {
	return Config{
		ServerID:             "server-1",
		SessionTTL:           time.Hour,
		AutoLoginOnReconnect: true,
		StoreTimeout:         2 * time.Second,
		CacheTTL:             30 * time.Second,
		RecheckInterval:      10 * time.Second,
		CodeLength:           8,
		CodeValidity:         5 * time.Minute,
		WebCodeValidity:      10 * time.Minute,
	}
}

// Publisher sends session events to the other servers. Implementations
// must not block the caller on delivery failures.
type Publisher interface {
	Publish(ctx context.Context, event model.SessionEvent)
}

// DemoteFunc is called when a locally authenticated connection loses its
// authorization outside a direct call from the host
type DemoteFunc func(principal model.Principal, decision model.Decision)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.SessionEvent) {}

// connection is the local view of one player connection
type connection struct {
	principal      model.Principal
	address        string
	state          model.ConnState
	leaseID        model.LeaseID
	leaseExpiresAt time.Time
	verifiedAt     time.Time
	// peerEvents counts foreign session events seen for this principal
	peerEvents uint64
}

// Gate handles authentication for the connections on this server
type Gate struct {
	store     storage.Storage
	hashers   *hasher.Pool
	limiter   *ratelimit.Limiter
	publisher Publisher
	clock     clock.Clock
	random    random.Random
	cfg       Config
	logger    *slog.Logger

	mu            sync.RWMutex
	conns         map[model.Principal]*connection
	authenticated int
	onDemote      []DemoteFunc
}

// New creates a new Gate. A nil publisher disables cross-server events.
func New(
	store storage.Storage,
	hashers *hasher.Pool,
	limiter *ratelimit.Limiter,
	publisher Publisher,
	clk clock.Clock,
	rnd random.Random,
	cfg Config,
	logger *slog.Logger,
) *Gate {
	def := DefaultConfig()
	if cfg.ServerID == "" {
		cfg.ServerID = def.ServerID
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = def.RecheckInterval
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.CodeValidity <= 0 {
		cfg.CodeValidity = def.CodeValidity
	}
	if cfg.WebCodeValidity <= 0 {
		cfg.WebCodeValidity = def.WebCodeValidity
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Gate{
		store:     store,
		hashers:   hashers,
		limiter:   limiter,
		publisher: publisher,
		clock:     clk,
		random:    rnd,
		cfg:       cfg,
		logger: logger.With(
			slog.String("component", "gate"),
			slog.String("server_id", cfg.ServerID)),
		conns: make(map[model.Principal]*connection),
	}
}

// ServerID returns the ID this gate stamps on leases and events
func (g *Gate) ServerID() string {
	return g.cfg.ServerID
}

// Config returns the effective configuration
func (g *Gate) Config() Config {
	return g.cfg
}

// AddDemoteHandler registers fn to be told about demotions caused by peers,
// rechecks, or touches that find the lease gone. Every registered handler
// is called, in registration order.
func (g *Gate) AddDemoteHandler(fn DemoteFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.onDemote = append(g.onDemote, fn)
	g.mu.Unlock()
}

// IsAuthorized reports the local view for principal. It is true only while
// the connection is authenticated, its lease has not expired, and the
// marker was verified against the store within CacheTTL.
func (g *Gate) IsAuthorized(principal model.Principal) bool {
	now := g.clock.Now()
	g.mu.RLock()
	defer g.mu.RUnlock()
	conn, ok := g.conns[principal]
	if !ok || conn.state != model.ConnStateAuthenticated {
		return false
	}
	return now.Before(conn.leaseExpiresAt) && now.Before(conn.verifiedAt.Add(g.cfg.CacheTTL))
}

// State returns the connection state for principal, if connected
func (g *Gate) State(principal model.Principal) (model.ConnState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conn, ok := g.conns[principal]
	if !ok {
		return "", false
	}
	return conn.state, true
}

// Disconnect drops the local connection. Any in-flight operation for it
// still completes against the store but its result is not applied locally.
func (g *Gate) Disconnect(principal model.Principal) {
	g.mu.Lock()
	conn, ok := g.conns[principal]
	if ok {
		g.setStateLocked(conn, model.ConnStateUnverified)
		delete(g.conns, principal)
	}
	g.mu.Unlock()
	if ok {
		g.logger.Debug("connection closed", slog.String("principal", string(principal)))
	}
}

// attach registers a fresh connection for principal, replacing any previous one
func (g *Gate) attach(principal model.Principal, address string) *connection {
	conn := &connection{
		principal: principal,
		address:   address,
		state:     model.ConnStateUnverified,
	}
	g.mu.Lock()
	if prev, ok := g.conns[principal]; ok {
		g.setStateLocked(prev, model.ConnStateUnverified)
	}
	g.conns[principal] = conn
	g.mu.Unlock()
	return conn
}

// current returns the live connection for principal, attaching one in
// AWAITING_CREDENTIAL if the host skipped OnConnect
func (g *Gate) current(principal model.Principal, address string) *connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn, ok := g.conns[principal]
	if !ok {
		conn = &connection{principal: principal, address: address, state: model.ConnStateAwaitingCredential}
		g.conns[principal] = conn
	}
	if address != "" {
		conn.address = address
	}
	return conn
}

// transition applies state to conn if it is still the registered
// connection. Returns false when the connection went away meanwhile.
func (g *Gate) transition(conn *connection, state model.ConnState, lease *model.SessionLease) bool {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns[conn.principal] != conn {
		return false
	}
	g.setStateLocked(conn, state)
	if lease != nil {
		conn.leaseID = lease.ID
		conn.leaseExpiresAt = lease.ExpiresAt
		conn.verifiedAt = now
	} else if state != model.ConnStateAuthenticated {
		conn.leaseID = ""
		conn.leaseExpiresAt = time.Time{}
	}
	return true
}

// commitLogin marks conn authenticated with lease unless a foreign session
// event arrived since seq was taken. Returns whether conn is still
// registered and whether the commit was held back.
func (g *Gate) commitLogin(conn *connection, lease *model.SessionLease, seq uint64) (applied, superseded bool) {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns[conn.principal] != conn {
		return false, false
	}
	if conn.peerEvents != seq {
		return true, true
	}
	g.setStateLocked(conn, model.ConnStateAuthenticated)
	conn.leaseID = lease.ID
	conn.leaseExpiresAt = lease.ExpiresAt
	conn.verifiedAt = now
	return true, false
}

func (g *Gate) peerSeq(conn *connection) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return conn.peerEvents
}

// setStateLocked must be called with mu held
func (g *Gate) setStateLocked(conn *connection, state model.ConnState) {
	was := conn.state == model.ConnStateAuthenticated
	is := state == model.ConnStateAuthenticated
	conn.state = state
	switch {
	case is && !was:
		g.authenticated++
	case was && !is:
		g.authenticated--
	}
	metrics.SetAuthenticatedConnections(g.authenticated)
}

// demote drops an authenticated connection back to AWAITING_CREDENTIAL.
// leaseID guards against demoting a connection that re-authenticated in
// the meantime; an empty leaseID demotes unconditionally.
func (g *Gate) demote(principal model.Principal, leaseID model.LeaseID, reason string) bool {
	g.mu.Lock()
	conn, ok := g.conns[principal]
	if !ok || conn.state != model.ConnStateAuthenticated || (leaseID != "" && conn.leaseID != leaseID) {
		g.mu.Unlock()
		return false
	}
	g.setStateLocked(conn, model.ConnStateAwaitingCredential)
	conn.leaseID = ""
	conn.leaseExpiresAt = time.Time{}
	handlers := g.onDemote
	g.mu.Unlock()

	g.logger.Info("session demoted",
		slog.String("principal", string(principal)),
		slog.String("reason", reason))
	for _, fn := range handlers {
		fn(principal, model.Deny(reason))
	}
	return true
}

// storeCtx bounds a single store round trip
func (g *Gate) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.cfg.StoreTimeout)
}

// storeErr maps deadline and cancellation to ErrStoreUnavailable so the
// caller fails closed
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if errors.Is(err, model.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return err
}

func (g *Gate) getSession(ctx context.Context, principal model.Principal) (*model.SessionLease, error) {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	lease, err := g.store.GetSession(ctx, principal)
	return lease, storeErr(err)
}

func (g *Gate) getCredential(ctx context.Context, principal model.Principal) (*model.CredentialRecord, error) {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	record, err := g.store.GetCredential(ctx, principal)
	return record, storeErr(err)
}

func (g *Gate) deleteSession(ctx context.Context, principal model.Principal) error {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	return storeErr(g.store.DeleteSession(ctx, principal))
}

// newLease builds a lease issued now by this server
func (g *Gate) newLease(principal model.Principal, now time.Time) *model.SessionLease {
	return &model.SessionLease{
		ID:             model.LeaseID(ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()),
		Principal:      principal,
		IssuedAt:       now,
		ExpiresAt:      now.Add(g.cfg.SessionTTL),
		OriginServerID: g.cfg.ServerID,
	}
}

// publish sends an event stamped with this server's ID
func (g *Gate) publish(ctx context.Context, kind model.SessionEventKind, principal model.Principal, leaseID model.LeaseID) {
	g.publisher.Publish(context.WithoutCancel(ctx), model.SessionEvent{
		Kind:           kind,
		Principal:      principal,
		LeaseID:        leaseID,
		OriginServerID: g.cfg.ServerID,
		At:             g.clock.Now(),
	})
}

// verify checks a credential on the hashing pool
func (g *Gate) verify(ctx context.Context, record *model.CredentialRecord, credential string) (bool, error) {
	start := time.Now()
	ok, err := g.hashers.Verify(ctx, record.Algorithm, credential, record.PasswordHash, record.Salt)
	metrics.RecordHashDuration("verify", time.Since(start))
	if err != nil {
		if errors.Is(err, hasher.ErrInvalidHash) {
			g.logger.Error("stored credential unusable", slog.String("principal", string(record.Principal)))
		}
		return false, storeErr(err)
	}
	return ok, nil
}

// rehash upgrades a verified record to the configured algorithm and
// parameters. Failure leaves the old, still valid, record in place.
func (g *Gate) rehash(ctx context.Context, record *model.CredentialRecord, credential string) {
	if !g.hashers.NeedsRehash(record.Algorithm, record.PasswordHash) {
		return
	}

	hash, salt, err := g.hash(ctx, credential)
	if err != nil {
		g.logger.Warn("credential rehash failed",
			slog.String("principal", string(record.Principal)),
			slog.String("error", err.Error()))
		return
	}
	from := record.Algorithm
	upgraded := *record
	upgraded.PasswordHash = hash
	upgraded.Salt = salt
	upgraded.Algorithm = g.hashers.Algorithm()

	sctx, cancel := g.storeCtx(ctx)
	err = g.store.UpdateCredential(sctx, &upgraded)
	cancel()
	if err != nil {
		g.logger.Warn("credential rehash not stored",
			slog.String("principal", string(record.Principal)),
			slog.String("error", err.Error()))
		return
	}
	g.logger.Info("credential rehashed",
		slog.String("principal", string(record.Principal)),
		slog.String("from", from),
		slog.String("to", upgraded.Algorithm))
}

// hash hashes a new credential on the hashing pool
func (g *Gate) hash(ctx context.Context, credential string) (string, string, error) {
	start := time.Now()
	hash, salt, err := g.hashers.Hash(ctx, credential)
	metrics.RecordHashDuration("hash", time.Since(start))
	return hash, salt, storeErr(err)
}

func validateCredential(credential string) error {
	if credential == "" {
		return model.ErrEmptyCredential
	}
	return nil
}

// deny records and returns a denial for err
func deny(op string, err error) (model.Decision, error) {
	decision := model.Deny(model.ReasonFor(err))
	metrics.RecordDecision(op, false, decision.Reason)
	return decision, err
}
