package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Decision:
		o.printDecision(v)
	case Status:
		o.printStatus(v)
	case HealthResult:
		o.printHealthResult(v)
	case Code:
		o.printCode(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Decision response type (matches API)
type Decision struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

// Status response type
type Status struct {
	Principal  string `json:"principal"`
	Connected  bool   `json:"connected"`
	State      string `json:"state,omitempty"`
	Authorized bool   `json:"authorized"`
	ServerID   string `json:"server_id"`
}

// Account response type
type Account struct {
	Principal string `json:"principal"`
}

// Code response type
type Code struct {
	Principal string    `json:"principal"`
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url,omitempty"`
}

// HealthResult response type
type HealthResult struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id"`
}

func (o *Output) printDecision(d Decision) {
	verdict := "denied"
	if d.Authorized {
		verdict = "authorized"
	}
	if d.Reason != "" {
		_, _ = fmt.Fprintf(o.w, "%s (%s)\n", verdict, d.Reason)
		return
	}
	_, _ = fmt.Fprintln(o.w, verdict)
}

func (o *Output) printStatus(s Status) {
	_, _ = fmt.Fprintf(o.w, "Principal:  %s\n", s.Principal)
	_, _ = fmt.Fprintf(o.w, "Server:     %s\n", s.ServerID)
	if !s.Connected {
		_, _ = fmt.Fprintln(o.w, "Connected:  no")
		return
	}
	_, _ = fmt.Fprintf(o.w, "State:      %s\n", s.State)
	_, _ = fmt.Fprintf(o.w, "Authorized: %t\n", s.Authorized)
}

func (o *Output) printHealthResult(h HealthResult) {
	_, _ = fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	_, _ = fmt.Fprintf(o.w, "Server: %s\n", h.ServerID)
}

func (o *Output) printCode(c Code) {
	_, _ = fmt.Fprintf(o.w, "Code:    %s\n", c.Code)
	_, _ = fmt.Fprintf(o.w, "For:     %s\n", c.Principal)
	_, _ = fmt.Fprintf(o.w, "Expires: %s\n", c.ExpiresAt.Format(time.RFC3339))
	if c.URL != "" {
		_, _ = fmt.Fprintf(o.w, "URL:     %s\n", c.URL)
	}
}
