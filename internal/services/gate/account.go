package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mcoot/logingate/internal/metrics"
	"github.com/mcoot/logingate/internal/model"
)

// Register creates the credential record for principal. It never
// authenticates the connection; an explicit login must follow.
func (g *Gate) Register(ctx context.Context, principal model.Principal, credential string) error {
	if err := principal.Validate(); err != nil {
		return g.accountErr(metrics.OpRegister, err)
	}
	if err := validateCredential(credential); err != nil {
		return g.accountErr(metrics.OpRegister, err)
	}

	// Cheap pre-check so a taken name does not cost a hash
	_, err := g.getCredential(ctx, principal)
	if err == nil {
		return g.accountErr(metrics.OpRegister, model.ErrAlreadyRegistered)
	}
	if !errors.Is(err, model.ErrUnknownPrincipal) {
		return g.accountErr(metrics.OpRegister, err)
	}

	hash, salt, err := g.hash(ctx, credential)
	if err != nil {
		return g.accountErr(metrics.OpRegister, err)
	}

	now := g.clock.Now()
	record := &model.CredentialRecord{
		Principal:     principal,
		PasswordHash:  hash,
		Salt:          salt,
		Algorithm:     g.hashers.Algorithm(),
		CreatedAt:     now,
		LastChangedAt: now,
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := storeErr(g.store.CreateCredentialIfAbsent(sctx, record)); err != nil {
		return g.accountErr(metrics.OpRegister, err)
	}

	g.logger.Info("principal registered", slog.String("principal", string(principal)))
	metrics.RecordSuccess(metrics.OpRegister)
	return nil
}

// ChangePassword verifies the current credential, stores a rehash of the
// new one with a fresh salt, and revokes the lease everywhere
func (g *Gate) ChangePassword(ctx context.Context, principal model.Principal, current, next string) error {
	if err := principal.Validate(); err != nil {
		return g.accountErr(metrics.OpChangePassword, err)
	}
	if err := validateCredential(current); err != nil {
		return g.accountErr(metrics.OpChangePassword, err)
	}
	if err := validateCredential(next); err != nil {
		return g.accountErr(metrics.OpChangePassword, err)
	}

	record, err := g.checkCredential(ctx, principal, current)
	if err != nil {
		return g.accountErr(metrics.OpChangePassword, err)
	}

	hash, salt, err := g.hash(ctx, next)
	if err != nil {
		return g.accountErr(metrics.OpChangePassword, err)
	}
	record.PasswordHash = hash
	record.Salt = salt
	record.Algorithm = g.hashers.Algorithm()
	record.LastChangedAt = g.clock.Now()

	sctx, cancel := g.storeCtx(ctx)
	err = storeErr(g.store.UpdateCredential(sctx, record))
	cancel()
	if err != nil {
		return g.accountErr(metrics.OpChangePassword, err)
	}

	if err := g.revoke(ctx, principal); err != nil {
		return g.accountErr(metrics.OpChangePassword, err)
	}

	g.logger.Info("password changed", slog.String("principal", string(principal)))
	metrics.RecordSuccess(metrics.OpChangePassword)
	return nil
}

// RemoveAccount verifies credential, then revokes any lease for principal
// and deletes the credential record
func (g *Gate) RemoveAccount(ctx context.Context, principal model.Principal, credential string) error {
	if err := principal.Validate(); err != nil {
		return g.accountErr(metrics.OpRemoveAccount, err)
	}
	if err := validateCredential(credential); err != nil {
		return g.accountErr(metrics.OpRemoveAccount, err)
	}

	if _, err := g.checkCredential(ctx, principal, credential); err != nil {
		return g.accountErr(metrics.OpRemoveAccount, err)
	}

	// Revoke first: a failed revoke must leave the account intact, never a
	// live lease for a principal that no longer exists
	if err := g.revoke(ctx, principal); err != nil {
		return g.accountErr(metrics.OpRemoveAccount, err)
	}

	sctx, cancel := g.storeCtx(ctx)
	err := storeErr(g.store.DeleteCredential(sctx, principal))
	cancel()
	if err != nil {
		return g.accountErr(metrics.OpRemoveAccount, err)
	}
	g.resetFailures(ctx, model.PrincipalAttemptKey(principal))

	g.logger.Info("account removed", slog.String("principal", string(principal)))
	metrics.RecordSuccess(metrics.OpRemoveAccount)
	return nil
}

// checkCredential runs the rate-limited verify used by account changes
func (g *Gate) checkCredential(ctx context.Context, principal model.Principal, credential string) (*model.CredentialRecord, error) {
	key := model.PrincipalAttemptKey(principal)
	blocked, err := g.isBlocked(ctx, []model.AttemptKey{key})
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, model.ErrRateLimited
	}

	record, err := g.getCredential(ctx, principal)
	if err != nil {
		return nil, err
	}

	ok, err := g.verify(ctx, record, credential)
	if err != nil {
		return nil, err
	}
	if !ok {
		g.recordFailures(ctx, key)
		return nil, model.ErrBadCredential
	}
	return record, nil
}

// revoke deletes the lease, demotes any local connection and tells peers
func (g *Gate) revoke(ctx context.Context, principal model.Principal) error {
	if err := g.deleteSession(ctx, principal); err != nil {
		return err
	}
	g.mu.Lock()
	if conn, ok := g.conns[principal]; ok {
		g.setStateLocked(conn, model.ConnStateAwaitingCredential)
		conn.leaseID = ""
	}
	g.mu.Unlock()
	g.publish(ctx, model.SessionRevoked, principal, "")
	return nil
}

func (g *Gate) accountErr(op string, err error) error {
	reason := model.ReasonFor(err)
	if reason == model.ReasonStoreUnavailable || reason == model.ReasonStoreConflict {
		g.logger.Warn("account operation failed",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
	metrics.RecordError(op, reason)
	return err
}
