package model

import (
	"strings"
	"time"
)

// MaxPrincipalLength bounds principal keys so they stay sane as store keys
const MaxPrincipalLength = 64

// Principal uniquely identifies a player account (e.g. a stable account UUID)
type Principal string

// Validate checks that a principal is usable as a store key
func (p Principal) Validate() error {
	s := string(p)
	if s == "" || len(s) > MaxPrincipalLength {
		return ErrInvalidPrincipal
	}
	if strings.ContainsAny(s, " \t\r\n:{}*") {
		return ErrInvalidPrincipal
	}
	return nil
}

// CredentialRecord holds the hashed credential for a registered principal.
// Never log or render this struct.
type CredentialRecord struct {
	Principal     Principal `json:"principal"`
	PasswordHash  string    `json:"password_hash"`
	Salt          string    `json:"salt"`
	Algorithm     string    `json:"algorithm"`
	CreatedAt     time.Time `json:"created_at"`
	LastChangedAt time.Time `json:"last_changed_at"`
}

// LeaseID identifies one issued session lease
type LeaseID string

// SessionLease marks a principal as authenticated until ExpiresAt
type SessionLease struct {
	ID             LeaseID   `json:"id"`
	Principal      Principal `json:"principal"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	OriginServerID string    `json:"origin_server_id"`
}

// IsExpired reports whether the lease has lapsed at the given instant
func (l *SessionLease) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining returns how long the lease stays valid, never negative
func (l *SessionLease) Remaining(now time.Time) time.Duration {
	d := l.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// AttemptKind is the axis a failed-attempt counter is tracked on
type AttemptKind string

const (
	AttemptKindPrincipal AttemptKind = "principal"
	AttemptKindAddress   AttemptKind = "address"
)

// AttemptKey identifies one failed-attempt counter
type AttemptKey struct {
	Kind  AttemptKind
	Value string
}

// PrincipalAttemptKey builds the counter key for a principal
func PrincipalAttemptKey(p Principal) AttemptKey {
	return AttemptKey{Kind: AttemptKindPrincipal, Value: string(p)}
}

// AddressAttemptKey builds the counter key for a source address
func AddressAttemptKey(address string) AttemptKey {
	return AttemptKey{Kind: AttemptKindAddress, Value: address}
}

// AttemptCounter is the state of a self-expiring failure counter
type AttemptCounter struct {
	Key             AttemptKey
	Count           int64
	WindowExpiresAt time.Time
}
