// Package httpserver provides the HTTP/HTTPS server exposing the
// versioned document API, event log, and auth endpoints.
//
// This package implements the primary external API using stdlib net/http:
//
//   - Document endpoints: /documents/{collection}/{key}
//   - Event log endpoint: /events
//   - Auth endpoints: /auth/register, /auth/login, /auth/refresh,
//     /auth/logout, /auth/reconfirm
//   - Health endpoints: /health, /ready
//
// Features:
//
//   - TLS support
//   - Middleware chain: Recover, CORS, RequestID, RateLimit, Audit, Auth
//   - Graceful shutdown with configurable timeout
package httpserver
