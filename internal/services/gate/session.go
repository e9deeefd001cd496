package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mcoot/logingate/internal/metrics"
	"github.com/mcoot/logingate/internal/model"
)

// Logout deletes the lease for principal and tells the other servers.
// Logging out an already logged-out principal succeeds.
func (g *Gate) Logout(ctx context.Context, principal model.Principal) error {
	if err := principal.Validate(); err != nil {
		return g.accountErr(metrics.OpLogout, err)
	}
	if err := g.revoke(ctx, principal); err != nil {
		return g.accountErr(metrics.OpLogout, err)
	}
	g.logger.Info("logged out", slog.String("principal", string(principal)))
	metrics.RecordSuccess(metrics.OpLogout)
	return nil
}

// Touch refreshes the lease on player activity. A connection whose lease
// has gone, or now belongs to another server, drops back to
// AWAITING_CREDENTIAL.
func (g *Gate) Touch(ctx context.Context, principal model.Principal) (model.Decision, error) {
	if err := principal.Validate(); err != nil {
		return deny(metrics.OpTouch, err)
	}

	g.mu.RLock()
	conn, ok := g.conns[principal]
	var leaseID model.LeaseID
	authenticated := ok && conn.state == model.ConnStateAuthenticated
	if authenticated {
		leaseID = conn.leaseID
	}
	g.mu.RUnlock()
	if !authenticated {
		metrics.RecordDecision(metrics.OpTouch, false, model.ReasonLoginRequired)
		return model.Deny(model.ReasonLoginRequired), nil
	}

	lease, err := g.getSession(ctx, principal)
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		return g.touchLost(principal, leaseID, model.ReasonLoginRequired)
	case err != nil:
		return deny(metrics.OpTouch, err)
	case lease.ID != leaseID:
		return g.touchLost(principal, leaseID, model.ReasonLoggedOutByPeer)
	}

	expiry := g.clock.Now().Add(g.cfg.SessionTTL)
	sctx, cancel := g.storeCtx(ctx)
	err = storeErr(g.store.RefreshSession(sctx, principal, expiry))
	cancel()
	if errors.Is(err, model.ErrSessionNotFound) {
		return g.touchLost(principal, leaseID, model.ReasonLoginRequired)
	}
	if err != nil {
		return deny(metrics.OpTouch, err)
	}

	g.mu.Lock()
	if conn, ok := g.conns[principal]; ok && conn.leaseID == leaseID {
		conn.leaseExpiresAt = expiry
		conn.verifiedAt = g.clock.Now()
	}
	g.mu.Unlock()

	metrics.RecordDecision(metrics.OpTouch, true, "")
	return model.Allow(""), nil
}

func (g *Gate) touchLost(principal model.Principal, leaseID model.LeaseID, reason string) (model.Decision, error) {
	g.demote(principal, leaseID, reason)
	metrics.RecordDecision(metrics.OpTouch, false, reason)
	return model.Deny(reason), nil
}

// HandlePeerEvent applies a session event from another server. Events are
// hints: a foreign grant of a different lease, or a revocation, evicts the
// local authenticated marker and the lease is re-read from the store. The
// connection is demoted unless its own lease is still the live one.
// Events from this server are ignored. Returns whether a connection was demoted.
func (g *Gate) HandlePeerEvent(ctx context.Context, event model.SessionEvent) bool {
	if event.OriginServerID == g.cfg.ServerID {
		return false
	}

	g.mu.Lock()
	conn, ok := g.conns[event.Principal]
	if !ok {
		g.mu.Unlock()
		return false
	}
	conn.peerEvents++
	leaseID := conn.leaseID
	stale := conn.state == model.ConnStateAuthenticated &&
		(event.Kind == model.SessionRevoked || event.LeaseID != leaseID)
	if stale {
		conn.verifiedAt = time.Time{}
	}
	g.mu.Unlock()
	if !stale {
		return false
	}

	if g.confirmLease(ctx, event.Principal, leaseID) {
		return false
	}
	if !g.demote(event.Principal, leaseID, model.ReasonLoggedOutByPeer) {
		return false
	}
	g.logger.Info("session taken over by peer",
		slog.String("principal", string(event.Principal)),
		slog.String("origin", event.OriginServerID),
		slog.String("kind", string(event.Kind)))
	metrics.RecordPeerEviction()
	return true
}

// confirmLease re-reads the lease and, if leaseID is still live, marks the
// local connection verified again. Store errors count as not confirmed.
func (g *Gate) confirmLease(ctx context.Context, principal model.Principal, leaseID model.LeaseID) bool {
	lease, err := g.getSession(ctx, principal)
	if err != nil {
		if !errors.Is(err, model.ErrSessionNotFound) {
			g.logger.Warn("lease re-read failed",
				slog.String("principal", string(principal)),
				slog.String("error", err.Error()))
		}
		return false
	}
	if lease.ID != leaseID {
		return false
	}

	now := g.clock.Now()
	g.mu.Lock()
	if conn, ok := g.conns[principal]; ok && conn.leaseID == leaseID {
		conn.leaseExpiresAt = lease.ExpiresAt
		conn.verifiedAt = now
	}
	g.mu.Unlock()
	return true
}

type authenticatedConn struct {
	principal model.Principal
	leaseID   model.LeaseID
}

// Recheck re-reads the authoritative lease for every locally authenticated
// connection. It heals missed events: a missing lease or a lease issued
// elsewhere demotes the connection. Store errors leave the connection to
// age out via CacheTTL. Returns the number of demoted connections.
func (g *Gate) Recheck(ctx context.Context) int {
	g.mu.RLock()
	conns := make([]authenticatedConn, 0, g.authenticated)
	for principal, conn := range g.conns {
		if conn.state == model.ConnStateAuthenticated {
			conns = append(conns, authenticatedConn{principal: principal, leaseID: conn.leaseID})
		}
	}
	g.mu.RUnlock()

	demoted := 0
	for _, c := range conns {
		if ctx.Err() != nil {
			break
		}
		lease, err := g.getSession(ctx, c.principal)
		switch {
		case errors.Is(err, model.ErrSessionNotFound):
			if g.demote(c.principal, c.leaseID, model.ReasonLoginRequired) {
				demoted++
			}
		case err != nil:
			g.logger.Warn("recheck failed",
				slog.String("principal", string(c.principal)),
				slog.String("error", err.Error()))
		case lease.ID != c.leaseID:
			if g.demote(c.principal, c.leaseID, model.ReasonLoggedOutByPeer) {
				demoted++
			}
		default:
			now := g.clock.Now()
			g.mu.Lock()
			if conn, ok := g.conns[c.principal]; ok && conn.leaseID == c.leaseID {
				conn.leaseExpiresAt = lease.ExpiresAt
				conn.verifiedAt = now
			}
			g.mu.Unlock()
		}
	}
	return demoted
}

// RunRecheck calls Recheck every interval until ctx is done.
// A non-positive interval uses the configured RecheckInterval.
func (g *Gate) RunRecheck(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = g.cfg.RecheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("recheck loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("recheck loop stopped")
			return
		case <-ticker.C:
			if n := g.Recheck(ctx); n > 0 {
				g.logger.Info("recheck demoted connections", slog.Int("count", n))
			}
		}
	}
}
