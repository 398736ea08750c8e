// Package handler provides HTTP request handlers for the document API,
// event log, and auth endpoints.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/qofy/quoteflow/internal/apperr"
	"github.com/qofy/quoteflow/internal/docstore"
	"github.com/qofy/quoteflow/internal/eventlog"
	"github.com/qofy/quoteflow/internal/identity"
	"github.com/qofy/quoteflow/internal/tokenauth"
)

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	docs     *docstore.Store
	events   *eventlog.Log
	identity *identity.Store
	tokens   *tokenauth.Service
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a new Handler with the given components.
func New(docs *docstore.Store, events *eventlog.Log, ident *identity.Store, tokens *tokenauth.Service, logger *slog.Logger) *Handler {
	h := &Handler{
		docs:     docs,
		events:   events,
		identity: ident,
		tokens:   tokens,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all HTTP routes.
func (h *Handler) registerRoutes() {
	// Health endpoints (no auth required)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	// Document endpoints
	h.mux.HandleFunc("GET /documents/{collection}/{key}", h.handleGetDocument)
	h.mux.HandleFunc("PUT /documents/{collection}/{key}", h.handlePutDocument)
	h.mux.HandleFunc("DELETE /documents/{collection}/{key}", h.handleDeleteDocument)

	// Event log endpoint
	h.mux.HandleFunc("GET /events", h.handleListEvents)

	// Auth endpoints
	h.mux.HandleFunc("POST /auth/register", h.handleRegister)
	h.mux.HandleFunc("POST /auth/login", h.handleLogin)
	h.mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	h.mux.HandleFunc("POST /auth/logout", h.handleLogout)
	h.mux.HandleFunc("POST /auth/reconfirm", h.handleReconfirm)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// getRequestID extracts request ID from context or header.
func getRequestID(r *http.Request) string {
	// Try to get from header first (set by middleware)
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return ""
}

// handleServiceError converts domain errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := err.(*apperr.Error); ok {
		status := errorCodeToHTTPStatus(appErr.Code)
		var details any
		if appErr.VersionConflict != nil {
			details = map[string]any{
				"server_version":    appErr.VersionConflict.ServerVersion,
				"server_updated_at": appErr.VersionConflict.ServerUpdatedAt,
			}
		}
		h.writeError(w, r, status, appErr.Code, appErr.Error(), details)
		return
	}

	// Generic internal error
	h.logger.Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, "QF-SYS-5000", "internal server error", nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"), strings.HasSuffix(code, "-4041"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"), strings.HasSuffix(code, "-4091"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4000"), strings.HasSuffix(code, "-4001"), strings.HasSuffix(code, "-4002"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-4010"), strings.HasSuffix(code, "-4011"), strings.HasSuffix(code, "-4012"), strings.HasSuffix(code, "-4013"):
		return http.StatusUnauthorized
	case strings.HasSuffix(code, "-4030"), strings.HasSuffix(code, "-4031"):
		return http.StatusForbidden
	case strings.HasPrefix(code, "QF-SYS-5"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// getClientIP extracts client IP from request.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
