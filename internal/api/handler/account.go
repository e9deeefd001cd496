package handler

import (
	"net/http"

	"github.com/mcoot/logingate/internal/api/request"
	"github.com/mcoot/logingate/internal/api/response"
	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/services/gate"
)

// AccountHandler handles credential management endpoints
type AccountHandler struct {
	gate *gate.Gate
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(g *gate.Gate) *AccountHandler {
	return &AccountHandler{
		gate: g,
	}
}

// Register handles POST /api/v1/accounts
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	principal := model.Principal(req.Principal)
	if err := h.gate.Register(r.Context(), principal, req.Credential); err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.Account{Principal: string(principal)})
}

// ChangePassword handles PUT /api/v1/accounts/{principal}/password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req request.ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.gate.ChangePassword(r.Context(), principalVar(r), req.Current, req.New); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// Remove handles DELETE /api/v1/accounts/{principal}
func (h *AccountHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req request.RemoveAccountRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.gate.RemoveAccount(r.Context(), principalVar(r), req.Credential); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}
