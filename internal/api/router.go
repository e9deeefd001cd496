package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/logingate/internal/api/handler"
	"github.com/mcoot/logingate/internal/api/middleware"
	"github.com/mcoot/logingate/internal/api/response"
	"github.com/mcoot/logingate/internal/api/sse"
	"github.com/mcoot/logingate/internal/services/gate"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger *slog.Logger
	Gate   *gate.Gate
	// HostKey is the bearer token hosts must present; empty disables auth
	HostKey string
	// Events streams demotions to hosts; nil leaves /events unrouted
	Events *sse.Notifier
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	sessionHandler := handler.NewSessionHandler(cfg.Gate)
	accountHandler := handler.NewAccountHandler(cfg.Gate)
	codeHandler := handler.NewCodeHandler(cfg.Gate)

	// Create middleware
	hostKeyMiddleware := middleware.HostKey(cfg.HostKey)
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Health check endpoint (no auth)
	serverID := cfg.Gate.ServerID()
	api.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, response.Health{Status: "ok", ServerID: serverID})
	}).Methods(http.MethodGet)

	// Everything else is for hosts only
	host := api.NewRoute().Subrouter()
	host.Use(hostKeyMiddleware)

	// Connections
	host.HandleFunc("/connections", sessionHandler.Connect).Methods(http.MethodPost)
	host.HandleFunc("/connections/{principal}", sessionHandler.Disconnect).Methods(http.MethodDelete)
	host.HandleFunc("/logins", sessionHandler.Login).Methods(http.MethodPost)

	// Sessions
	host.HandleFunc("/sessions/{principal}", sessionHandler.Status).Methods(http.MethodGet)
	host.HandleFunc("/sessions/{principal}", sessionHandler.Logout).Methods(http.MethodDelete)
	host.HandleFunc("/sessions/{principal}/touch", sessionHandler.Touch).Methods(http.MethodPost)

	// Accounts
	host.HandleFunc("/accounts", accountHandler.Register).Methods(http.MethodPost)
	host.HandleFunc("/accounts/{principal}", accountHandler.Remove).Methods(http.MethodDelete)
	host.HandleFunc("/accounts/{principal}/password", accountHandler.ChangePassword).Methods(http.MethodPut)

	// One-time codes
	host.HandleFunc("/login-codes", codeHandler.IssueLogin).Methods(http.MethodPost)
	host.HandleFunc("/login-codes/claim", codeHandler.Claim).Methods(http.MethodPost)
	host.HandleFunc("/web-codes", codeHandler.IssueWeb).Methods(http.MethodPost)
	host.HandleFunc("/web-codes/redeem", codeHandler.Redeem).Methods(http.MethodPost)

	// Demotion stream
	if cfg.Events != nil {
		host.HandleFunc("/events", cfg.Events.Handler()).Methods(http.MethodGet)
	}

	return r
}
