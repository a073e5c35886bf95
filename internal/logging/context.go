package logging

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields returns the trace, run, user and request fields stored in
// ctx. Logger methods append them to every entry.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}

	if user := UserFromContext(ctx); user != "" {
		fields = append(fields, zap.String("user.name", user))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type (
	runCtxKey     struct{}
	userCtxKey    struct{}
	requestCtxKey struct{}
)

const (
	maxIDLen   = 128
	maxUserLen = 128
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// RunIDFromContext extracts the indexing run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(runCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRunID adds an indexing run ID to context. Invalid IDs are ignored.
func WithRunID(ctx context.Context, runID string) context.Context {
	if !validID(runID) {
		return ctx
	}
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// UserFromContext extracts the chat user name from context.
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(userCtxKey{}).(string); ok {
		return u
	}
	return ""
}

// WithUser adds the chat user name to context. Names are free text, so
// they are only trimmed and truncated; invalid UTF-8 is ignored.
func WithUser(ctx context.Context, user string) context.Context {
	user = strings.TrimSpace(user)
	if user == "" || !utf8.ValidString(user) {
		return ctx
	}
	if utf8.RuneCountInString(user) > maxUserLen {
		user = string([]rune(user)[:maxUserLen])
	}
	return context.WithValue(ctx, userCtxKey{}, user)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context. Invalid IDs are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !validID(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}
