package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qofy/quoteflow/internal/corsrules"
	"github.com/qofy/quoteflow/internal/tokenauth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHMACTokens(t *testing.T) *tokenauth.Service {
	t.Helper()
	svc, err := tokenauth.New(tokenauth.Config{
		Mode:            tokenauth.ModeHMAC,
		Issuer:          "quoteflow",
		Audience:        "quoteflow-clients",
		TokenTTLSeconds: 900,
		HMACLocalKeyHex: strings.Repeat("ab", 32),
		Logger:          testLogger(),
	})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	return svc
}

// TestRequestID tests the RequestID middleware.
func TestRequestID(t *testing.T) {
	middleware := RequestID()
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestIDFromContext(r.Context())
		if requestID == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		requestID := rec.Header().Get("X-Request-ID")
		if requestID == "" {
			t.Error("expected X-Request-ID header")
		}
		if len(requestID) < 4 || requestID[:4] != "req-" {
			t.Errorf("expected request ID to start with 'req-', got %s", requestID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", "existing-id-123")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		requestID := rec.Header().Get("X-Request-ID")
		if requestID != "existing-id-123" {
			t.Errorf("expected 'existing-id-123', got %s", requestID)
		}
	})
}

// TestChain tests middleware chaining.
func TestChain(t *testing.T) {
	var order []int

	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, 1)
			next.ServeHTTP(w, r)
		})
	}

	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, 2)
			next.ServeHTTP(w, r)
		})
	}

	m3 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, 3)
			next.ServeHTTP(w, r)
		})
	}

	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, 4)
			w.WriteHeader(http.StatusOK)
		}),
		m1, m2, m3,
	)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	expected := []int{1, 2, 3, 4}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("expected order[%d] = %d, got %d", i, v, order[i])
		}
	}
}

// TestRateLimitConcurrency tests the RateLimit middleware under concurrent load.
func TestRateLimitConcurrency(t *testing.T) {
	middleware := RateLimit(100) // 100 requests per second
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	successCount := 0
	failCount := 0
	var mu sync.Mutex

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			mu.Lock()
			if rec.Code == http.StatusOK {
				successCount++
			} else {
				failCount++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	if successCount == 0 {
		t.Error("expected some successful requests")
	}
	if failCount == 0 {
		t.Error("expected some rate-limited requests")
	}
	t.Logf("success: %d, rate-limited: %d", successCount, failCount)
}

// TestRateLimit tests the RateLimit middleware.
func TestRateLimit(t *testing.T) {
	t.Run("allows requests under limit", func(t *testing.T) {
		middleware := RateLimit(10)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("limits requests from same IP", func(t *testing.T) {
		middleware := RateLimit(2)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		testIP := "10.0.0.99:12345"

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = testIP
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("request %d: expected status 200, got %d", i+1, rec.Code)
			}
		}

		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = testIP
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected status 429, got %d", rec.Code)
		}
	})

	t.Run("different IPs have separate limits", func(t *testing.T) {
		middleware := RateLimit(1)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req1 := httptest.NewRequest("GET", "/test", nil)
		req1.RemoteAddr = "192.168.100.1:12345"
		rec1 := httptest.NewRecorder()
		handler.ServeHTTP(rec1, req1)
		if rec1.Code != http.StatusOK {
			t.Errorf("first IP: expected status 200, got %d", rec1.Code)
		}

		req2 := httptest.NewRequest("GET", "/test", nil)
		req2.RemoteAddr = "192.168.100.2:12345"
		rec2 := httptest.NewRecorder()
		handler.ServeHTTP(rec2, req2)
		if rec2.Code != http.StatusOK {
			t.Errorf("second IP: expected status 200, got %d", rec2.Code)
		}
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		middleware := RateLimit(10)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		testIP := "10.0.0.88:12345"

		for i := 0; i < 10; i++ {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = testIP
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
		}

		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = testIP
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected status 429, got %d", rec.Code)
		}

		time.Sleep(200 * time.Millisecond)

		req = httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = testIP
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("after refill: expected status 200, got %d", rec.Code)
		}
	})
}

// TestRecover tests the Recover middleware.
func TestRecover(t *testing.T) {
	logger := testLogger()

	t.Run("recovers from panic", func(t *testing.T) {
		middleware := Recover(logger)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		middleware := Recover(logger)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}

// TestCORS tests the CORS middleware against a compiled corsrules.Rules.
func TestCORS(t *testing.T) {
	rules, err := corsrules.Parse(strings.NewReader("http://example.com ALLOW\n"))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}

	t.Run("adds CORS headers for allowed origin", func(t *testing.T) {
		middleware := CORS(rules)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "http://example.com" {
			t.Error("expected Access-Control-Allow-Origin header")
		}
	})

	t.Run("handles preflight OPTIONS request", func(t *testing.T) {
		middleware := CORS(rules)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rec.Code)
		}
	})

	t.Run("does not add headers for non-allowed origin", func(t *testing.T) {
		middleware := CORS(rules)
		handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "http://notallowed.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("should not add CORS header for non-allowed origin")
		}
	})
}

// TestGetClientIP tests the getClientIP function.
func TestGetClientIP(t *testing.T) {
	t.Run("extracts from X-Forwarded-For", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		req.RemoteAddr = "192.168.1.1:12345"

		ip := getClientIP(req)

		if ip != "10.0.0.1" {
			t.Errorf("expected '10.0.0.1', got '%s'", ip)
		}
	})

	t.Run("extracts from X-Real-IP", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		req.RemoteAddr = "192.168.1.1:12345"

		ip := getClientIP(req)

		if ip != "10.0.0.1" {
			t.Errorf("expected '10.0.0.1', got '%s'", ip)
		}
	})

	t.Run("falls back to RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		ip := getClientIP(req)

		if ip != "192.168.1.1" {
			t.Errorf("expected '192.168.1.1', got '%s'", ip)
		}
	})
}

// TestAuth tests the Auth middleware (C8).
func TestAuth(t *testing.T) {
	tokens := newHMACTokens(t)
	cfg := &MiddlewareConfig{Tokens: tokens, Logger: testLogger(), SkipAuthPaths: []string{"/health"}}

	handler := Auth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaimsFromContext(r.Context())
		if claims == nil {
			t.Error("expected claims in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/documents/foo/bar", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("accepts valid bearer token", func(t *testing.T) {
		token, err := tokens.IssueAccess("user-1", "a@example.com", []string{"user"})
		if err != nil {
			t.Fatalf("issue access: %v", err)
		}

		req := httptest.NewRequest("GET", "/documents/foo/bar", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("skips auth for configured paths", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

// TestRequireRole tests the RequireRole middleware.
func TestRequireRole(t *testing.T) {
	tokens := newHMACTokens(t)
	authCfg := &MiddlewareConfig{Tokens: tokens, Logger: testLogger()}

	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		Auth(authCfg),
		RequireRole("admin"),
	)

	t.Run("rejects a role-less subject", func(t *testing.T) {
		token, _ := tokens.IssueAccess("user-1", "a@example.com", []string{"user"})
		req := httptest.NewRequest("GET", "/documents/foo/bar", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("allows a subject with the required role", func(t *testing.T) {
		token, _ := tokens.IssueAccess("user-2", "b@example.com", []string{"admin"})
		req := httptest.NewRequest("GET", "/documents/foo/bar", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

// TestAudit tests the Audit middleware.
func TestAudit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}),
		RequestID(),
		Audit(logger),
	)

	req := httptest.NewRequest("POST", "/documents/foo/bar", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
}

// TestResponseWriter tests the responseWriter status capture.
func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		wrapped := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		wrapped.WriteHeader(http.StatusCreated)

		if wrapped.statusCode != http.StatusCreated {
			t.Errorf("expected status 201, got %d", wrapped.statusCode)
		}
	})

	t.Run("defaults to 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		wrapped := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		if wrapped.statusCode != http.StatusOK {
			t.Errorf("expected default status 200, got %d", wrapped.statusCode)
		}
	})
}
