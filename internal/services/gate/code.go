package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mcoot/logingate/internal/metrics"
	"github.com/mcoot/logingate/internal/model"
)

// codeIssueAttempts bounds redraws when a fresh code collides with a live one
const codeIssueAttempts = 3

// Codes are secrets: logs name the principal and kind, never the code.

// IssueLoginCode returns a code principal can take to the website. A live
// code already issued to principal is reused and its validity restarted.
func (g *Gate) IssueLoginCode(ctx context.Context, principal model.Principal) (*model.OneTimeCode, error) {
	if err := principal.Validate(); err != nil {
		return nil, g.accountErr(metrics.OpIssueCode, err)
	}

	existing, err := g.findLoginCode(ctx, principal)
	switch {
	case err == nil:
		expiry := g.clock.Now().Add(g.cfg.CodeValidity)
		err = g.extendCode(ctx, existing, expiry)
		if err == nil {
			existing.ExpiresAt = expiry
			g.logger.Info("login code reissued", slog.String("principal", string(principal)))
			metrics.RecordSuccess(metrics.OpIssueCode)
			return existing, nil
		}
		if !errors.Is(err, model.ErrCodeNotFound) {
			return nil, g.accountErr(metrics.OpIssueCode, err)
		}
		// Lapsed between the read and the extend
	case !errors.Is(err, model.ErrCodeNotFound):
		return nil, g.accountErr(metrics.OpIssueCode, err)
	}

	return g.issueCode(ctx, model.CodeKindLogin, principal, g.cfg.CodeValidity)
}

// IssueWebCode returns a fresh code that authenticates principal when typed
// in game. The caller vouches for principal.
func (g *Gate) IssueWebCode(ctx context.Context, principal model.Principal) (*model.OneTimeCode, error) {
	if err := principal.Validate(); err != nil {
		return nil, g.accountErr(metrics.OpIssueCode, err)
	}
	return g.issueCode(ctx, model.CodeKindWeb, principal, g.cfg.WebCodeValidity)
}

// LoginURL fills the configured website URL with code. It is empty when no
// URL is configured.
func (g *Gate) LoginURL(code string) string {
	if g.cfg.CodeURL == "" {
		return ""
	}
	return strings.ReplaceAll(g.cfg.CodeURL, "{code}", url.QueryEscape(code))
}

// ClaimLoginCode consumes a login code and returns the principal it was
// issued to. Failures count against address.
func (g *Gate) ClaimLoginCode(ctx context.Context, address, code string) (model.Principal, error) {
	if !model.ValidCode(code, g.cfg.CodeLength) {
		return "", g.accountErr(metrics.OpClaimCode, model.ErrInvalidCode)
	}

	var keys []model.AttemptKey
	if address != "" {
		keys = append(keys, model.AddressAttemptKey(address))
	}
	blocked, err := g.isBlocked(ctx, keys)
	if err != nil {
		return "", g.accountErr(metrics.OpClaimCode, err)
	}
	if blocked {
		g.logger.Warn("code claim rate limited", slog.String("address", address))
		return "", g.accountErr(metrics.OpClaimCode, model.ErrRateLimited)
	}

	taken, err := g.takeCode(ctx, model.CodeKindLogin, code)
	if errors.Is(err, model.ErrCodeNotFound) {
		g.recordFailures(ctx, keys...)
		return "", g.accountErr(metrics.OpClaimCode, model.ErrInvalidCode)
	}
	if err != nil {
		return "", g.accountErr(metrics.OpClaimCode, err)
	}

	g.logger.Info("login code claimed",
		slog.String("principal", string(taken.Principal)),
		slog.String("address", address))
	metrics.RecordSuccess(metrics.OpClaimCode)
	return taken.Principal, nil
}

// RedeemCode authenticates principal's connection with a web code instead
// of a credential. A code is consumed by any redemption that names it, so
// one presented for the wrong principal is burned as well as rejected.
func (g *Gate) RedeemCode(ctx context.Context, principal model.Principal, address, code string) (model.Decision, error) {
	if err := principal.Validate(); err != nil {
		return deny(metrics.OpRedeemCode, err)
	}
	if !model.ValidCode(code, g.cfg.CodeLength) {
		return deny(metrics.OpRedeemCode, model.ErrInvalidCode)
	}

	conn := g.current(principal, address)
	seq := g.peerSeq(conn)
	keys := attemptKeys(principal, address)

	blocked, err := g.isBlocked(ctx, keys)
	if err != nil {
		return g.failAttempt(metrics.OpRedeemCode, conn, err)
	}
	if blocked {
		g.transition(conn, model.ConnStateRejected, nil)
		g.logger.Warn("code redeem rate limited",
			slog.String("principal", string(principal)),
			slog.String("address", address))
		return deny(metrics.OpRedeemCode, model.ErrRateLimited)
	}

	taken, err := g.takeCode(ctx, model.CodeKindWeb, code)
	if err != nil && !errors.Is(err, model.ErrCodeNotFound) {
		return g.failAttempt(metrics.OpRedeemCode, conn, err)
	}
	if err != nil || taken.Principal != principal {
		g.recordFailures(ctx, keys...)
		g.transition(conn, model.ConnStateRejected, nil)
		g.logger.Info("code redeem rejected",
			slog.String("principal", string(principal)),
			slog.String("address", address),
			slog.String("reason", model.ReasonInvalidCode))
		return deny(metrics.OpRedeemCode, model.ErrInvalidCode)
	}

	return g.grant(ctx, metrics.OpRedeemCode, conn, principal, address, seq)
}

func (g *Gate) issueCode(ctx context.Context, kind model.CodeKind, principal model.Principal, validity time.Duration) (*model.OneTimeCode, error) {
	for range codeIssueAttempts {
		now := g.clock.Now()
		code := &model.OneTimeCode{
			Code:      g.random.String(g.cfg.CodeLength, model.CodeAlphabet),
			Kind:      kind,
			Principal: principal,
			IssuedAt:  now,
			ExpiresAt: now.Add(validity),
		}

		sctx, cancel := g.storeCtx(ctx)
		err := storeErr(g.store.PutCodeIfAbsent(sctx, code))
		cancel()
		if err == nil {
			g.logger.Info("code issued",
				slog.String("principal", string(principal)),
				slog.String("kind", string(kind)))
			metrics.RecordSuccess(metrics.OpIssueCode)
			return code, nil
		}
		if !errors.Is(err, model.ErrStoreConflict) {
			return nil, g.accountErr(metrics.OpIssueCode, err)
		}
	}
	return nil, g.accountErr(metrics.OpIssueCode, model.ErrStoreConflict)
}

func (g *Gate) findLoginCode(ctx context.Context, principal model.Principal) (*model.OneTimeCode, error) {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	code, err := g.store.FindLoginCode(ctx, principal)
	return code, storeErr(err)
}

func (g *Gate) extendCode(ctx context.Context, code *model.OneTimeCode, expiry time.Time) error {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	return storeErr(g.store.ExtendCode(ctx, code, expiry))
}

func (g *Gate) takeCode(ctx context.Context, kind model.CodeKind, code string) (*model.OneTimeCode, error) {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()
	taken, err := g.store.TakeCode(ctx, kind, code)
	return taken, storeErr(err)
}
