// Package httpserver provides the HTTP server exposing the versioned
// document API, event log, and auth endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/qofy/quoteflow/internal/apperr"
	"github.com/qofy/quoteflow/internal/tokenauth"
)

// Context keys for request-scoped values.
type contextKey string

const (
	// ContextKeyRequestID is the context key for request ID.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyClaims is the context key for the authenticated token claims.
	ContextKeyClaims contextKey = "claims"

	// ContextKeyStartTime is the context key for request start time.
	ContextKeyStartTime contextKey = "start_time"
)

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// MiddlewareConfig holds configuration for middlewares.
type MiddlewareConfig struct {
	Tokens *tokenauth.Service
	Logger *slog.Logger

	// SkipAuthPaths are paths that don't require authentication.
	SkipAuthPaths []string

	// AllowLegacyQueryParam permits the ?access_token= fallback on the
	// endpoints this middleware guards (disabled for most routes).
	AllowLegacyQueryParam bool
}

// RequestID adds a unique request ID to each request.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = "req-" + ulid.Make().String()
			}

			w.Header().Set("X-Request-ID", requestID)

			ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
			ctx = context.WithValue(ctx, ContextKeyStartTime, time.Now())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Auth implements the Request-Auth Middleware (C8): extract a bearer
// token via the Token Service's discovery order, reject on missing or
// invalid, otherwise attach claims to the request context.
func Auth(cfg *MiddlewareConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range cfg.SkipAuthPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			token, ok := tokenauth.ExtractAccessToken(r, cfg.AllowLegacyQueryParam)
			if !ok {
				writeAuthError(w, apperr.ErrUnauthenticated.Code, "authentication required")
				return
			}

			claims, err := cfg.Tokens.Validate(token)
			if err != nil {
				writeAuthError(w, apperr.ErrUnauthenticated.Code, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns a middleware that rejects requests whose attached
// claims lack role. Must run after Auth.
func RequireRole(role string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, apperr.ErrUnauthenticated.Code, "authentication required")
				return
			}
			if !claims.HasRole(role) {
				writeAuthError(w, apperr.ErrForbidden.Code, "insufficient role: "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies global rate limiting (per-IP), using one
// golang.org/x/time/rate.Limiter token bucket per client IP.
func RateLimit(requestsPerSecond int) Middleware {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	limit := rate.Limit(requestsPerSecond)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[ip]
		if !ok {
			l = rate.NewLimiter(limit, requestsPerSecond)
			limiters[ip] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(getClientIP(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeAuthError(w, "QF-SYS-4290", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit logs request/response for audit trail.
func Audit(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			requestID, _ := r.Context().Value(ContextKeyRequestID).(string)
			startTime, _ := r.Context().Value(ContextKeyStartTime).(time.Time)
			claims := GetClaimsFromContext(r.Context())

			duration := time.Since(startTime)

			attrs := []any{
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", duration.Milliseconds(),
				"client_ip", getClientIP(r),
			}

			if claims != nil {
				attrs = append(attrs, "subject", claims.Subject)
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("request completed with error", attrs...)
			case wrapped.statusCode >= 400:
				logger.Warn("request completed with client error", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}

// Recover recovers from panics and returns 500 error.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID, _ := r.Context().Value(ContextKeyRequestID).(string)
					logger.Error("panic recovered",
						"request_id", requestID,
						"error", err,
						"path", r.URL.Path,
					)

					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Error-Code", "QF-SYS-5000")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"code":    "QF-SYS-5000",
						"message": "internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// CORS adds Cross-Origin Resource Sharing headers per a rules set built by
// internal/corsrules.
func CORS(rules interface {
	Allow(origin, method string) bool
}) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && rules.Allow(origin, r.Method) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// GetClaimsFromContext retrieves the authenticated token claims from context.
func GetClaimsFromContext(ctx context.Context) *tokenauth.Claims {
	if claims, ok := ctx.Value(ContextKeyClaims).(tokenauth.Claims); ok {
		return &claims
	}
	return nil
}

// GetRequestIDFromContext retrieves the request ID from context.
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// writeAuthError writes an authentication error response.
func writeAuthError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)

	status := http.StatusUnauthorized
	if strings.Contains(code, "-403") {
		status = http.StatusForbidden
	} else if strings.HasSuffix(code, "-4290") {
		status = http.StatusTooManyRequests
	}

	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
