package model

// Reasons carried by a Decision
const (
	ReasonSessionResumed    = "session-resumed"
	ReasonLoginRequired     = "login-required"
	ReasonBadCredential     = "bad-credential"
	ReasonUnknownPrincipal  = "unknown-principal"
	ReasonAlreadyRegistered = "already-registered"
	ReasonRateLimited       = "rate-limited"
	ReasonStoreUnavailable  = "store-unavailable"
	ReasonStoreConflict     = "store-conflict"
	ReasonLoggedOutByPeer   = "logged-out-by-peer"
	ReasonInvalidInput      = "invalid-input"
	ReasonInvalidCode       = "invalid-code"
)

// Decision is the authorization verdict handed back to the host.
// It is a value object and is never persisted.
type Decision struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

// Allow returns an authorizing decision
func Allow(reason string) Decision {
	return Decision{Authorized: true, Reason: reason}
}

// Deny returns a denying decision with the given reason
func Deny(reason string) Decision {
	return Decision{Authorized: false, Reason: reason}
}

// ConnState is the per-connection auth state
type ConnState string

const (
	ConnStateUnverified         ConnState = "UNVERIFIED"
	ConnStateAwaitingCredential ConnState = "AWAITING_CREDENTIAL"
	ConnStateAuthenticated      ConnState = "AUTHENTICATED"
	ConnStateRejected           ConnState = "REJECTED"
)
