package handler

import (
	"net/http"

	"github.com/mcoot/logingate/internal/api/request"
	"github.com/mcoot/logingate/internal/api/response"
	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/services/gate"
)

// CodeHandler handles one-time code endpoints
type CodeHandler struct {
	gate *gate.Gate
}

// NewCodeHandler creates a new code handler
func NewCodeHandler(g *gate.Gate) *CodeHandler {
	return &CodeHandler{
		gate: g,
	}
}

// IssueLogin handles POST /api/v1/login-codes
func (h *CodeHandler) IssueLogin(w http.ResponseWriter, r *http.Request) {
	var req request.IssueCodeRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	code, err := h.gate.IssueLoginCode(r.Context(), model.Principal(req.Principal))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.CodeFromModel(code, h.gate.LoginURL(code.Code)))
}

// Claim handles POST /api/v1/login-codes/claim
func (h *CodeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req request.ClaimCodeRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	principal, err := h.gate.ClaimLoginCode(r.Context(), req.Address, req.Code)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Account{Principal: string(principal)})
}

// IssueWeb handles POST /api/v1/web-codes
func (h *CodeHandler) IssueWeb(w http.ResponseWriter, r *http.Request) {
	var req request.IssueCodeRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	code, err := h.gate.IssueWebCode(r.Context(), model.Principal(req.Principal))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.CodeFromModel(code, ""))
}

// Redeem handles POST /api/v1/web-codes/redeem
func (h *CodeHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req request.RedeemCodeRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	decision, err := h.gate.RedeemCode(r.Context(), model.Principal(req.Principal), req.Address, req.Code)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.DecisionFromModel(decision))
}
