package sse

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/logingate/internal/model"
)

// EventDemoted is sent when this server demotes a connection
const EventDemoted = "demoted"

// Demotion is the payload of a demoted event
type Demotion struct {
	Principal string `json:"principal"`
	Reason    string `json:"reason"`
	ServerID  string `json:"server_id"`
}

// Notifier turns gate demotions into events on a hub
type Notifier struct {
	hub      *Hub
	serverID string
}

// NewNotifier creates a Notifier for the given server
func NewNotifier(hub *Hub, serverID string) *Notifier {
	return &Notifier{hub: hub, serverID: serverID}
}

// Demoted matches gate.DemoteFunc
func (n *Notifier) Demoted(principal model.Principal, decision model.Decision) {
	data, err := json.Marshal(Demotion{
		Principal: string(principal),
		Reason:    decision.Reason,
		ServerID:  n.serverID,
	})
	if err != nil {
		return
	}
	n.hub.BroadcastEvent(EventDemoted, string(data))
}

// Handler serves the event stream
func (n *Notifier) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ServeSSE(w, r, n.hub)
	}
}
