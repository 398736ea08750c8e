// Package handler provides HTTP request handlers for the document API,
// event log, and auth endpoints.
//
// This package contains handlers for all HTTP endpoints:
//
//   - documents.go: versioned document CRUD
//   - events.go: event log listing
//   - auth.go: register/login/refresh/logout/reconfirm
//   - health.go: health and readiness checks
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate request
//   - Call the relevant component
//   - Format and return response
//   - Handle errors with appropriate HTTP status codes
package handler
