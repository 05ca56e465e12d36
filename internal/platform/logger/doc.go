// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and carries request- or sweep-scoped loggers
// through context.Context for the storage layer.
package logger
