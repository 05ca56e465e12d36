package shared

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey namespaces values stored on the request context.
type ContextKey string

const (
	// TraceIDKey holds the per-request trace ID.
	TraceIDKey ContextKey = "traceID"

	// SubjectKey holds the authenticated token subject.
	SubjectKey ContextKey = "subject"

	// TraceIDHeader lets callers supply their own trace ID.
	TraceIDHeader = "X-Trace-Id"
)

// SetTraceID stores traceID on ctx, generating one when it is empty.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID on ctx, or "" if none is set.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// SetSubject stores the authenticated subject on ctx.
func SetSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// GetSubject returns the authenticated subject, if any.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
