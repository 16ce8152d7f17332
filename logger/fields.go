package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across scribe.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"

	// Components
	FieldComponent = "component"
	FieldSymbol    = "symbol"

	// Operations
	FieldMethod = "method"
	FieldPath   = "path"
	FieldStage  = "stage"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"
	FieldDepth = "queue_depth"

	// Status
	FieldStatus   = "status"
	FieldProgress = "progress"

	// Sources and artifacts
	FieldSource = "source"
	FieldURL    = "url"
	FieldFile   = "file"
	FieldBinary = "binary"

	// Network
	FieldAddress = "address"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context as key-value pairs
// suitable for Infow/Errorw.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base with fields extracted from ctx attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger.
// This is the preferred way to get a logger for dependency injection:
//
//	d := pulse.New(opts, logger.ComponentLogger("pulse"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
