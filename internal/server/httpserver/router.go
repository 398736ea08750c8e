// Package httpserver provides the HTTP server exposing the versioned
// document API, event log, and auth endpoints.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/qofy/quoteflow/internal/corsrules"
	"github.com/qofy/quoteflow/internal/docstore"
	"github.com/qofy/quoteflow/internal/eventlog"
	"github.com/qofy/quoteflow/internal/identity"
	"github.com/qofy/quoteflow/internal/server/httpserver/handler"
	"github.com/qofy/quoteflow/internal/tokenauth"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Docs     *docstore.Store
	Events   *eventlog.Log
	Identity *identity.Store
	Tokens   *tokenauth.Service

	Logger *slog.Logger

	// CORSRules is the parsed CORS rules file (C9). A nil value denies all
	// cross-origin requests.
	CORSRules *corsrules.Rules

	// AllowLegacyQueryParam permits the ?access_token= fallback on the
	// document and event endpoints.
	AllowLegacyQueryParam bool

	// GlobalRateLimit is the per-IP requests/second limit (0 disables it).
	GlobalRateLimit int

	// EnableAudit enables audit logging for all requests.
	EnableAudit bool
}

// skipAuthPaths are routes reachable without a bearer token: health
// checks and the auth endpoints themselves, which perform their own
// token handling (register/login issue tokens; refresh/reconfirm read
// the refresh/access token directly rather than through the Auth
// middleware).
var skipAuthPaths = []string{"/health", "/ready", "/auth/"}

// NewRouter creates and configures the HTTP router with all routes and
// middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	h := handler.New(cfg.Docs, cfg.Events, cfg.Identity, cfg.Tokens, cfg.Logger)

	rules := cfg.CORSRules
	if rules == nil {
		rules = &corsrules.Rules{}
	}

	middlewareCfg := &MiddlewareConfig{
		Tokens:                cfg.Tokens,
		Logger:                cfg.Logger,
		SkipAuthPaths:         skipAuthPaths,
		AllowLegacyQueryParam: cfg.AllowLegacyQueryParam,
	}

	middlewares := []Middleware{
		Recover(cfg.Logger),
		CORS(rules),
		RequestID(),
	}
	if cfg.GlobalRateLimit > 0 {
		middlewares = append(middlewares, RateLimit(cfg.GlobalRateLimit))
	}
	if cfg.EnableAudit {
		middlewares = append(middlewares, Audit(cfg.Logger))
	}
	middlewares = append(middlewares, Auth(middlewareCfg))

	return Chain(h, middlewares...)
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		AllowLegacyQueryParam: false,
		GlobalRateLimit:       1000,
		EnableAudit:           true,
	}
}
