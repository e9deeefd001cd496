package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/logingate/internal/api/request"
	"github.com/mcoot/logingate/internal/api/response"
	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/services/gate"
)

// SessionHandler handles connection and session endpoints
type SessionHandler struct {
	gate *gate.Gate
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(g *gate.Gate) *SessionHandler {
	return &SessionHandler{
		gate: g,
	}
}

// Connect handles POST /api/v1/connections
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req request.ConnectRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	decision, err := h.gate.OnConnect(r.Context(), model.Principal(req.Principal), req.Address)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.DecisionFromModel(decision))
}

// Disconnect handles DELETE /api/v1/connections/{principal}
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.gate.Disconnect(principalVar(r))
	response.NoContent(w)
}

// Login handles POST /api/v1/logins
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req request.LoginRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	decision, err := h.gate.AttemptLogin(r.Context(), model.Principal(req.Principal), req.Address, req.Credential)
	if err != nil {
		WriteError(w, err)
		return
	}

	// A login lost to a peer mid-flight is a denial, not an error
	response.JSON(w, http.StatusOK, response.DecisionFromModel(decision))
}

// Logout handles DELETE /api/v1/sessions/{principal}
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Logout(r.Context(), principalVar(r)); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// Touch handles POST /api/v1/sessions/{principal}/touch
func (h *SessionHandler) Touch(w http.ResponseWriter, r *http.Request) {
	decision, err := h.gate.Touch(r.Context(), principalVar(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.DecisionFromModel(decision))
}

// Status handles GET /api/v1/sessions/{principal}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	principal := principalVar(r)
	if err := principal.Validate(); err != nil {
		WriteError(w, err)
		return
	}

	state, connected := h.gate.State(principal)
	response.JSON(w, http.StatusOK, response.Status{
		Principal:  string(principal),
		Connected:  connected,
		State:      string(state),
		Authorized: h.gate.IsAuthorized(principal),
		ServerID:   h.gate.ServerID(),
	})
}

func principalVar(r *http.Request) model.Principal {
	return model.Principal(mux.Vars(r)["principal"])
}
