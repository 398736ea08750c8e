// Package apperr defines the structured error type shared by every core
// component. Error codes follow the kinds enumerated in the error handling
// design: NotFound, VersionConflict, Unauthenticated, Forbidden,
// ValidationFailed, StorageError, ReplicationError, SnapshotError.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that want to branch on it without
// string-matching Code.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindVersionConflict Kind = "version_conflict"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindValidation      Kind = "validation_failed"
	KindStorage         Kind = "storage_error"
	KindReplication     Kind = "replication_error"
	KindSnapshot        Kind = "snapshot_error"
)

// Error is a business-domain error with a structured code.
type Error struct {
	Code    string // stable machine-readable tag, e.g. "QF-DOC-4091"
	Kind    Kind
	Message string
	Details string
	Cause   error

	// VersionConflict carries the current server state so a client can
	// re-apply its write. Only populated when Kind == KindVersionConflict.
	VersionConflict *VersionConflictDetails
}

// VersionConflictDetails is the payload a VersionConflict error carries.
type VersionConflictDetails struct {
	ServerVersion   uint64
	ServerUpdatedAt int64 // epoch-milliseconds
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is compares errors by Code so errors.Is(err, ErrDocNotFound) works even
// after WithDetails/WithCause copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code string, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

func (e *Error) WithDetails(details string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithVersionConflict attaches the current server state to a copy of e.
func (e *Error) WithVersionConflict(serverVersion uint64, serverUpdatedAt int64) *Error {
	cp := *e
	cp.VersionConflict = &VersionConflictDetails{
		ServerVersion:   serverVersion,
		ServerUpdatedAt: serverUpdatedAt,
	}
	return &cp
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ============================================================================
// Document store errors (DOC)
// ============================================================================

var (
	ErrDocNotFound       = New("QF-DOC-4040", KindNotFound, "document not found")
	ErrDocVersionConflict = New("QF-DOC-4091", KindVersionConflict, "version conflict")
	ErrDocValidation     = New("QF-DOC-4001", KindValidation, "document validation failed")
)

// ============================================================================
// Identity errors (USER)
// ============================================================================

var (
	ErrUserNotFound  = New("QF-USER-4040", KindNotFound, "user not found")
	ErrUserConflict  = New("QF-USER-4090", KindValidation, "email already registered")
	ErrUserValidation = New("QF-USER-4001", KindValidation, "user validation failed")
)

// ============================================================================
// Authentication errors (AUTH)
// ============================================================================

var (
	ErrUnauthenticated  = New("QF-AUTH-4010", KindUnauthenticated, "missing or invalid credentials")
	ErrTokenExpired     = New("QF-AUTH-4011", KindUnauthenticated, "token expired")
	ErrTokenMalformed   = New("QF-AUTH-4012", KindUnauthenticated, "malformed token")
	ErrForbidden        = New("QF-AUTH-4030", KindForbidden, "insufficient role")
	ErrReconfirmPassword = New("QF-AUTH-4013", KindUnauthenticated, "password did not match")
)

// ============================================================================
// System errors (SYS)
// ============================================================================

var (
	ErrStorage     = New("QF-SYS-5001", KindStorage, "storage error")
	ErrReplication = New("QF-SYS-5002", KindReplication, "replication error")
	ErrSnapshot    = New("QF-SYS-5003", KindSnapshot, "snapshot error")
	ErrBadRequest  = New("QF-SYS-4000", KindValidation, "bad request")
)
