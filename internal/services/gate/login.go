package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mcoot/logingate/internal/metrics"
	"github.com/mcoot/logingate/internal/model"
)

// OnConnect starts a connection for principal. A live lease resumes the
// session when auto-login is enabled; otherwise the connection waits for
// a credential.
func (g *Gate) OnConnect(ctx context.Context, principal model.Principal, address string) (model.Decision, error) {
	if err := principal.Validate(); err != nil {
		return deny(metrics.OpConnect, err)
	}

	conn := g.attach(principal, address)

	if !g.cfg.AutoLoginOnReconnect {
		g.transition(conn, model.ConnStateAwaitingCredential, nil)
		return g.loginRequired()
	}

	lease, err := g.getSession(ctx, principal)
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		g.transition(conn, model.ConnStateAwaitingCredential, nil)
		return g.loginRequired()
	case err != nil:
		g.transition(conn, model.ConnStateAwaitingCredential, nil)
		g.logger.Warn("lease lookup failed on connect",
			slog.String("principal", string(principal)),
			slog.String("error", err.Error()))
		return deny(metrics.OpConnect, err)
	}

	if !g.transition(conn, model.ConnStateAuthenticated, lease) {
		return g.loginRequired()
	}
	g.logger.Info("session resumed",
		slog.String("principal", string(principal)),
		slog.String("origin", lease.OriginServerID))
	metrics.RecordDecision(metrics.OpConnect, true, model.ReasonSessionResumed)
	return model.Allow(model.ReasonSessionResumed), nil
}

func (g *Gate) loginRequired() (model.Decision, error) {
	metrics.RecordDecision(metrics.OpConnect, false, model.ReasonLoginRequired)
	return model.Deny(model.ReasonLoginRequired), nil
}

// AttemptLogin verifies credential for principal and, on success, takes
// the cluster-wide lease for it. The lease replaces any lease held
// elsewhere, evicting that session.
func (g *Gate) AttemptLogin(ctx context.Context, principal model.Principal, address, credential string) (model.Decision, error) {
	if err := principal.Validate(); err != nil {
		return deny(metrics.OpLogin, err)
	}
	if err := validateCredential(credential); err != nil {
		return deny(metrics.OpLogin, err)
	}

	conn := g.current(principal, address)
	seq := g.peerSeq(conn)
	keys := attemptKeys(principal, address)

	blocked, err := g.isBlocked(ctx, keys)
	if err != nil {
		return g.failLogin(conn, err)
	}
	if blocked {
		g.transition(conn, model.ConnStateRejected, nil)
		g.logger.Warn("login rate limited",
			slog.String("principal", string(principal)),
			slog.String("address", address))
		return deny(metrics.OpLogin, model.ErrRateLimited)
	}

	record, err := g.getCredential(ctx, principal)
	if errors.Is(err, model.ErrUnknownPrincipal) {
		// Count against the address so it cannot enumerate principals freely
		if address != "" {
			g.recordFailures(ctx, model.AddressAttemptKey(address))
		}
		g.transition(conn, model.ConnStateAwaitingCredential, nil)
		return deny(metrics.OpLogin, err)
	}
	if err != nil {
		return g.failLogin(conn, err)
	}

	ok, err := g.verify(ctx, record, credential)
	if err != nil {
		return g.failLogin(conn, err)
	}
	if !ok {
		g.recordFailures(ctx, keys...)
		g.transition(conn, model.ConnStateRejected, nil)
		g.logger.Info("login rejected",
			slog.String("principal", string(principal)),
			slog.String("address", address),
			slog.String("reason", model.ReasonBadCredential))
		return deny(metrics.OpLogin, model.ErrBadCredential)
	}
	g.rehash(ctx, record, credential)

	return g.grant(ctx, metrics.OpLogin, conn, principal, address, seq)
}

// grant takes the lease for a verified principal, announces it, and commits
// it to the connection unless a peer superseded it meanwhile. op labels the
// metrics and logs.
func (g *Gate) grant(ctx context.Context, op string, conn *connection, principal model.Principal, address string, seq uint64) (model.Decision, error) {
	lease, err := g.acquireLease(ctx, principal)
	if err != nil {
		return g.failAttempt(op, conn, err)
	}

	g.publish(ctx, model.SessionGranted, principal, lease.ID)
	// The address axis only clears by window so one good account cannot
	// launder failures against others
	g.resetFailures(ctx, model.PrincipalAttemptKey(principal))

	for {
		applied, superseded := g.commitLogin(conn, lease, seq)
		if !superseded {
			if !applied {
				g.logger.Info("connection closed during login, result discarded",
					slog.String("principal", string(principal)))
			} else {
				g.logger.Info("login succeeded",
					slog.String("principal", string(principal)),
					slog.String("address", address),
					slog.String("via", op))
			}
			break
		}
		// A peer touched this principal mid-login; the store decides
		seq = g.peerSeq(conn)
		current, err := g.getSession(ctx, principal)
		if err != nil || current.ID != lease.ID {
			g.transition(conn, model.ConnStateAwaitingCredential, nil)
			g.logger.Info("login superseded by peer",
				slog.String("principal", string(principal)))
			metrics.RecordPeerEviction()
			metrics.RecordDecision(op, false, model.ReasonLoggedOutByPeer)
			return model.Deny(model.ReasonLoggedOutByPeer), nil
		}
	}
	metrics.RecordDecision(op, true, "")
	return model.Allow(""), nil
}

// acquireLease writes a new lease for principal. The first write replaces
// whatever lease was observed. Losing that race re-reads the winner and
// retries exactly once with a pure put-if-absent-or-expired; a second loss
// surfaces ErrStoreConflict.
func (g *Gate) acquireLease(ctx context.Context, principal model.Principal) (*model.SessionLease, error) {
	observed, err := g.getSession(ctx, principal)
	if err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		return nil, err
	}

	lease := g.newLease(principal, g.clock.Now())
	if observed != nil {
		err = g.replaceSession(ctx, observed.ID, lease)
	} else {
		err = g.putSession(ctx, lease)
	}
	if err == nil {
		if observed != nil && observed.OriginServerID != g.cfg.ServerID {
			g.logger.Info("evicting session held by another server",
				slog.String("principal", string(principal)),
				slog.String("origin", observed.OriginServerID))
		}
		return lease, nil
	}
	if !errors.Is(err, model.ErrStoreConflict) {
		return nil, err
	}

	winner, err := g.getSession(ctx, principal)
	switch {
	case err == nil:
		g.logger.Info("lost lease race",
			slog.String("principal", string(principal)),
			slog.String("winner", winner.OriginServerID))
	case !errors.Is(err, model.ErrSessionNotFound):
		return nil, err
	}

	lease = g.newLease(principal, g.clock.Now())
	if err := g.putSession(ctx, lease); err != nil {
		if errors.Is(err, model.ErrStoreConflict) {
			metrics.RecordConflict(false)
		}
		return nil, err
	}
	metrics.RecordConflict(true)
	return lease, nil
}

func (g *Gate) putSession(ctx context.Context, lease *model.SessionLease) error {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	return storeErr(g.store.PutSessionIfAbsentOrExpired(ctx, lease))
}

func (g *Gate) replaceSession(ctx context.Context, expected model.LeaseID, lease *model.SessionLease) error {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	return storeErr(g.store.ReplaceSession(ctx, expected, lease))
}

// failLogin fails the attempt closed on an infrastructure error
func (g *Gate) failLogin(conn *connection, err error) (model.Decision, error) {
	return g.failAttempt(metrics.OpLogin, conn, err)
}

func (g *Gate) failAttempt(op string, conn *connection, err error) (model.Decision, error) {
	g.transition(conn, model.ConnStateAwaitingCredential, nil)
	g.logger.Warn("login failed closed",
		slog.String("principal", string(conn.principal)),
		slog.String("op", op),
		slog.String("reason", model.ReasonFor(err)),
		slog.String("error", err.Error()))
	return deny(op, err)
}

func attemptKeys(principal model.Principal, address string) []model.AttemptKey {
	keys := []model.AttemptKey{model.PrincipalAttemptKey(principal)}
	if address != "" {
		keys = append(keys, model.AddressAttemptKey(address))
	}
	return keys
}

func (g *Gate) isBlocked(ctx context.Context, keys []model.AttemptKey) (bool, error) {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	blocked, err := g.limiter.IsAnyBlocked(ctx, keys...)
	return blocked, storeErr(err)
}

// recordFailures counts a failure on every key. Errors are logged only:
// the attempt is already being denied.
func (g *Gate) recordFailures(ctx context.Context, keys ...model.AttemptKey) {
	for _, key := range keys {
		sctx, cancel := g.storeCtx(ctx)
		_, err := g.limiter.RecordFailure(sctx, key)
		cancel()
		if err != nil {
			g.logger.Warn("failed to record attempt",
				slog.String("kind", string(key.Kind)),
				slog.String("error", err.Error()))
		}
	}
}

func (g *Gate) resetFailures(ctx context.Context, keys ...model.AttemptKey) {
	for _, key := range keys {
		sctx, cancel := g.storeCtx(ctx)
		err := g.limiter.Reset(sctx, key)
		cancel()
		if err != nil {
			g.logger.Warn("failed to reset attempts",
				slog.String("kind", string(key.Kind)),
				slog.String("error", err.Error()))
		}
	}
}
