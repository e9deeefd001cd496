package storage

import (
	"context"
	"time"

	"github.com/mcoot/logingate/internal/model"
)

// CredentialStore persists hashed credential records, one per principal
type CredentialStore interface {
	// GetCredential returns model.ErrUnknownPrincipal when no record exists
	GetCredential(ctx context.Context, principal model.Principal) (*model.CredentialRecord, error)
	// CreateCredentialIfAbsent returns model.ErrAlreadyRegistered when a record exists
	CreateCredentialIfAbsent(ctx context.Context, record *model.CredentialRecord) error
	// UpdateCredential returns model.ErrUnknownPrincipal when no record exists
	UpdateCredential(ctx context.Context, record *model.CredentialRecord) error
	DeleteCredential(ctx context.Context, principal model.Principal) error
}

// SessionStore persists session leases. Every write is a single atomic
// conditional operation on the store; no caller-side locking is involved.
type SessionStore interface {
	// GetSession returns model.ErrSessionNotFound when no live lease exists
	GetSession(ctx context.Context, principal model.Principal) (*model.SessionLease, error)
	// PutSessionIfAbsentOrExpired writes the lease only if no live lease exists.
	// Returns model.ErrStoreConflict if a live lease is present.
	PutSessionIfAbsentOrExpired(ctx context.Context, lease *model.SessionLease) error
	// ReplaceSession swaps the live lease with ID expected for lease.
	// Returns model.ErrStoreConflict if the stored lease is no longer expected.
	ReplaceSession(ctx context.Context, expected model.LeaseID, lease *model.SessionLease) error
	// RefreshSession extends a live lease. Returns model.ErrSessionNotFound if absent.
	RefreshSession(ctx context.Context, principal model.Principal, newExpiry time.Time) error
	// DeleteSession is idempotent
	DeleteSession(ctx context.Context, principal model.Principal) error
}

// AttemptStore holds self-expiring failed-attempt counters
type AttemptStore interface {
	// IncrementAttempts bumps the counter and re-arms its TTL to window
	IncrementAttempts(ctx context.Context, key model.AttemptKey, window time.Duration) (*model.AttemptCounter, error)
	// GetAttempts returns a zero counter when none exists
	GetAttempts(ctx context.Context, key model.AttemptKey) (*model.AttemptCounter, error)
	ResetAttempts(ctx context.Context, key model.AttemptKey) error
}

// CodeStore holds one-time codes. Codes lapse on their own and the first
// TakeCode consumes them.
type CodeStore interface {
	// PutCodeIfAbsent stores code until its ExpiresAt. Login codes are also
	// indexed by principal. Returns model.ErrStoreConflict if the code is taken.
	PutCodeIfAbsent(ctx context.Context, code *model.OneTimeCode) error
	// FindLoginCode returns the live login code last issued to principal.
	// Returns model.ErrCodeNotFound if there is none.
	FindLoginCode(ctx context.Context, principal model.Principal) (*model.OneTimeCode, error)
	// ExtendCode moves a live code's expiry. Returns model.ErrCodeNotFound if it is gone.
	ExtendCode(ctx context.Context, code *model.OneTimeCode, newExpiry time.Time) error
	// TakeCode removes and returns a live code; of concurrent callers only
	// one gets it. Returns model.ErrCodeNotFound if absent or expired.
	TakeCode(ctx context.Context, kind model.CodeKind, code string) (*model.OneTimeCode, error)
}

// EventBus carries session events between servers
type EventBus interface {
	PublishSessionEvent(ctx context.Context, event model.SessionEvent) error
	// SubscribeSessionEvents delivers events until ctx is cancelled or the
	// subscription is closed. The returned channel is closed on exit.
	SubscribeSessionEvents(ctx context.Context) (Subscription, error)
}

// Subscription is a live event subscription
type Subscription interface {
	Events() <-chan model.SessionEvent
	Close() error
}

// Storage bundles every store the gate needs
type Storage interface {
	CredentialStore
	SessionStore
	AttemptStore
	CodeStore
	EventBus
	Ping(ctx context.Context) error
	Close() error
}
