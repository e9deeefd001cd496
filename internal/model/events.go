package model

import "time"

// SessionEventKind identifies what happened to a principal's lease
type SessionEventKind string

const (
	// SessionGranted is published after a new lease is written
	SessionGranted SessionEventKind = "granted"
	// SessionRevoked is published after a lease is deleted
	SessionRevoked SessionEventKind = "revoked"
)

// SessionEvent is broadcast on the shared channel whenever a lease changes
type SessionEvent struct {
	Kind           SessionEventKind `json:"kind"`
	Principal      Principal        `json:"principal"`
	LeaseID        LeaseID          `json:"lease_id,omitempty"`
	OriginServerID string           `json:"origin_server_id"`
	At             time.Time        `json:"at"`
}
