// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for the inbound HTTP request ID
	RequestIDKey contextKey = "request_id"
	// CorrelationIDKey is the context key for the event correlation ID
	CorrelationIDKey contextKey = "correlation_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and correlation_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("request_id", requestID)),
		}
	}

	if correlationID, ok := ctx.Value(CorrelationIDKey).(string); ok && correlationID != "" {
		newLogger = newLogger.WithCorrelationID(correlationID)
	}

	return newLogger
}

// ContextWithCorrelationID stores the event correlation ID in the context
// so WithContext attaches it downstream.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// WithCorrelationID returns a logger with the event correlation ID attached.
func (l *Logger) WithCorrelationID(correlationID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("correlation_id", correlationID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// CRMError logs a failed CRM API call.
func (l *Logger) CRMError(method string, err error) {
	l.Error("crm_error",
		slog.String("method", method),
		slog.String("error", err.Error()),
	)
}

// SyncOutcome logs the outcome of a reconciliation run for one parent record.
func (l *Logger) SyncOutcome(collection string, parentID int64, outcome string) {
	l.Info("sync_outcome",
		slog.String("collection", collection),
		slog.Int64("parent_id", parentID),
		slog.String("outcome", outcome),
	)
}
