// Package metrics holds the prometheus collectors for the login gate.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels
const (
	OpConnect        = "connect"
	OpLogin          = "login"
	OpRegister       = "register"
	OpLogout         = "logout"
	OpTouch          = "touch"
	OpChangePassword = "change_password"
	OpRemoveAccount  = "remove_account"
	OpIssueCode      = "issue_code"
	OpClaimCode      = "claim_code"
	OpRedeemCode     = "redeem_code"
)

// Outcome labels
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
	OutcomeOK      = "ok"
)

// Decisions counts gate decisions by operation and reason.
// Use RegisterMetrics to register this with a Prometheus registry.
var Decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "logingate_decisions_total",
		Help: "Total number of authorization decisions",
	},
	[]string{"op", "outcome", "reason"},
)

// StoreConflicts counts lost conditional writes, labelled by whether the retry also lost.
var StoreConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "logingate_store_conflicts_total",
		Help: "Total number of lost conditional session writes",
	},
	[]string{"resolved"},
)

// PeerEvictions counts local connections demoted by another server's session event
var PeerEvictions = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "logingate_peer_evictions_total",
		Help: "Total number of local sessions demoted by a peer server",
	},
)

// PeerEvents counts session events received from the bus
var PeerEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "logingate_peer_events_total",
		Help: "Total number of session events received",
	},
	[]string{"kind", "origin"},
)

// HashDuration observes time spent hashing or verifying credentials
var HashDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "logingate_hash_duration_seconds",
		Help:    "Password hash and verify duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

// AuthenticatedConnections is the number of locally authenticated connections
var AuthenticatedConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "logingate_authenticated_connections",
		Help: "Connections currently authenticated on this server",
	},
)

// RegisterMetrics registers all gate collectors with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Decisions)
	reg.MustRegister(StoreConflicts)
	reg.MustRegister(PeerEvictions)
	reg.MustRegister(PeerEvents)
	reg.MustRegister(HashDuration)
	reg.MustRegister(AuthenticatedConnections)
}

// RecordDecision increments the decision counter
func RecordDecision(op string, authorized bool, reason string) {
	outcome := OutcomeDenied
	if authorized {
		outcome = OutcomeAllowed
	}
	Decisions.WithLabelValues(op, outcome, reason).Inc()
}

// RecordSuccess counts an account operation that completed
func RecordSuccess(op string) {
	Decisions.WithLabelValues(op, OutcomeOK, "").Inc()
}

// RecordError counts an operation that returned an error without a decision
func RecordError(op, reason string) {
	Decisions.WithLabelValues(op, OutcomeError, reason).Inc()
}

// RecordConflict counts a lost conditional write
func RecordConflict(resolved bool) {
	label := "false"
	if resolved {
		label = "true"
	}
	StoreConflicts.WithLabelValues(label).Inc()
}

// RecordPeerEvent counts an event received from the bus
func RecordPeerEvent(kind string, foreign bool) {
	origin := "self"
	if foreign {
		origin = "peer"
	}
	PeerEvents.WithLabelValues(kind, origin).Inc()
}

// RecordPeerEviction counts a demotion caused by another server
func RecordPeerEviction() {
	PeerEvictions.Inc()
}

// RecordHashDuration observes one hash or verify call
func RecordHashDuration(op string, d time.Duration) {
	HashDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetAuthenticatedConnections sets the local authenticated gauge
func SetAuthenticatedConnections(n int) {
	AuthenticatedConnections.Set(float64(n))
}
