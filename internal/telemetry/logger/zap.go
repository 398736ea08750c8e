// Package logger provides structured logging for quoteflow.
//
// This file is reserved to match the project's approved code layout
// for internal/telemetry/logger.
//
// Current implementation lives in logger.go (based on log/slog).
package logger

