package logging

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_OTELTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test-operation")
	defer span.End()

	fields := ContextFields(ctx)

	var hasTraceID, hasSpanID bool
	for _, f := range fields {
		if f.Key == "trace_id" {
			hasTraceID = true
			assert.NotEmpty(t, f.String)
		}
		if f.Key == "span_id" {
			hasSpanID = true
			assert.NotEmpty(t, f.String)
		}
	}
	assert.True(t, hasTraceID)
	assert.True(t, hasSpanID)
}

func TestContextFields_OTELSampling(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithBatcher(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "sampled-operation")
	defer span.End()

	fields := ContextFields(ctx)

	assertBoolFieldExists(t, fields, "trace_sampled", true)
}

func TestContextFields_Run(t *testing.T) {
	ctx := context.WithValue(context.Background(), runCtxKey{}, "run_123")

	fields := ContextFields(ctx)

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, "run.id", "run_123")
}

func TestContextFields_User(t *testing.T) {
	ctx := context.WithValue(context.Background(), userCtxKey{}, "Nguyễn Văn A")

	fields := ContextFields(ctx)

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, "user.name", "Nguyễn Văn A")
}

func TestContextFields_Request(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestCtxKey{}, "req_456")

	fields := ContextFields(ctx)

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, "request.id", "req_456")
}

func assertFieldExists(t *testing.T, fields []zap.Field, key, expected string) {
	t.Helper()
	for _, field := range fields {
		if field.Key == key && field.String == expected {
			return
		}
	}
	t.Errorf("field %q with value %q not found", key, expected)
}

func assertBoolFieldExists(t *testing.T, fields []zap.Field, key string, expected bool) {
	t.Helper()
	for _, field := range fields {
		if field.Key == key {
			// zap.Bool stores 1 or 0 in Integer.
			if expected && field.Integer == 1 {
				return
			} else if !expected && field.Integer == 0 {
				return
			}
		}
	}
	t.Errorf("bool field %q with value %v not found", key, expected)
}

func TestWithRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "0b6f5c1e-9d1a-4c3b-8d7e-2f1a0e9b8c7d")
	assert.Equal(t, "0b6f5c1e-9d1a-4c3b-8d7e-2f1a0e9b8c7d", RunIDFromContext(ctx))

	invalid := []string{"", "run 1", "run/1", strings.Repeat("a", 129)}
	for _, id := range invalid {
		ctx := WithRunID(context.Background(), id)
		assert.Empty(t, RunIDFromContext(ctx), "invalid run id %q is ignored", id)
	}
}

func TestWithRequestID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"simple", "req_123", "req_123"},
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", "550e8400-e29b-41d4-a716-446655440000"},
		{"empty", "", ""},
		{"spaces", "req 123", ""},
		{"injection", "req\n123", ""},
		{"too long", strings.Repeat("r", 129), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithRequestID(context.Background(), tt.id)
			assert.Equal(t, tt.want, RequestIDFromContext(ctx))
		})
	}
}

func TestWithUser(t *testing.T) {
	ctx := WithUser(context.Background(), "  Alice  ")
	assert.Equal(t, "Alice", UserFromContext(ctx))

	ctx = WithUser(context.Background(), "")
	assert.Empty(t, UserFromContext(ctx))

	long := strings.Repeat("é", 200)
	ctx = WithUser(context.Background(), long)
	assert.Equal(t, 128, utf8.RuneCountInString(UserFromContext(ctx)), "names are truncated by rune")

	ctx = WithUser(context.Background(), "bad\xffname")
	assert.Empty(t, UserFromContext(ctx), "invalid UTF-8 is ignored")
}
