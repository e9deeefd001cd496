package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/logingate/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Reason is the decision reason the gate would have denied with
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeUnknownPrincipal  = "UNKNOWN_PRINCIPAL"
	CodeAlreadyRegistered = "ALREADY_REGISTERED"
	CodeBadCredential     = "BAD_CREDENTIAL"
	CodeInvalidCode       = "INVALID_CODE"
	CodeRateLimited       = "RATE_LIMITED"
	CodeLoginRequired     = "LOGIN_REQUIRED"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeStoreConflict     = "STORE_CONFLICT"
	CodeInternalError     = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	if he.status == http.StatusTooManyRequests || he.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status err would be written with
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError. Messages are fixed
// strings so nothing the caller sent is echoed back.
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	reason := model.ReasonFor(err)
	switch {
	case errors.Is(err, model.ErrInvalidPrincipal):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, "Principal is empty, too long or has reserved characters", reason}}
	case errors.Is(err, model.ErrEmptyCredential):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, "Credential is required", reason}}
	case errors.Is(err, model.ErrUnknownPrincipal):
		return &httpError{http.StatusNotFound, APIError{CodeUnknownPrincipal, "Principal is not registered", reason}}
	case errors.Is(err, model.ErrAlreadyRegistered):
		return &httpError{http.StatusConflict, APIError{CodeAlreadyRegistered, "Principal is already registered", reason}}
	case errors.Is(err, model.ErrBadCredential):
		return &httpError{http.StatusUnauthorized, APIError{CodeBadCredential, "Credential does not match", reason}}
	case errors.Is(err, model.ErrInvalidCode), errors.Is(err, model.ErrCodeNotFound):
		return &httpError{http.StatusUnauthorized, APIError{CodeInvalidCode, "Code is invalid, expired or already used", reason}}
	case errors.Is(err, model.ErrRateLimited):
		return &httpError{http.StatusTooManyRequests, APIError{CodeRateLimited, "Too many failed attempts", reason}}
	case errors.Is(err, model.ErrSessionNotFound):
		return &httpError{http.StatusUnauthorized, APIError{CodeLoginRequired, "No live session", reason}}
	case errors.Is(err, model.ErrStoreConflict):
		return &httpError{http.StatusConflict, APIError{CodeStoreConflict, "Concurrent update, retry", reason}}
	case errors.Is(err, model.ErrStoreUnavailable):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeStoreUnavailable, "Session store unavailable", reason}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error", reason}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{Code: CodeInvalidRequest, Message: message, Reason: model.ReasonInvalidInput}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{Code: CodeUnauthorized, Message: "Host key required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{Code: CodeInternalError, Message: "Internal server error"}}
}
