package response

import (
	"time"

	"github.com/mcoot/logingate/internal/model"
)

// Decision is the gate's verdict for a connection
type Decision struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

// DecisionFromModel converts model.Decision
func DecisionFromModel(d model.Decision) Decision {
	return Decision{
		Authorized: d.Authorized,
		Reason:     d.Reason,
	}
}

// Account is returned after registration
type Account struct {
	Principal string `json:"principal"`
}

// Code is a freshly issued or reissued one-time code
type Code struct {
	Principal string    `json:"principal"`
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
	// URL is the website login link, for login codes when one is configured
	URL string `json:"url,omitempty"`
}

// CodeFromModel converts model.OneTimeCode
func CodeFromModel(c *model.OneTimeCode, url string) Code {
	return Code{
		Principal: string(c.Principal),
		Code:      c.Code,
		Kind:      string(c.Kind),
		ExpiresAt: c.ExpiresAt,
		URL:       url,
	}
}

// Status describes what this server knows about a principal's connection
type Status struct {
	Principal  string `json:"principal"`
	Connected  bool   `json:"connected"`
	State      string `json:"state,omitempty"`
	Authorized bool   `json:"authorized"`
	ServerID   string `json:"server_id"`
}

// Health is the body of the health endpoint
type Health struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id"`
}
