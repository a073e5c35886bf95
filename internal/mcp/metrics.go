package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

const instrumentationName = "github.com/fyrsmithlabs/ragchat/internal/mcp"

// Metrics records tool calls by tool and outcome.
type Metrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var err error

	if m.calls, err = meter.Int64Counter("ragchat.mcp.tool.calls",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}")); err != nil {
		logger.Warn("creating tool call counter failed", zap.Error(err))
	}
	if m.duration, err = meter.Float64Histogram("ragchat.mcp.tool.duration",
		metric.WithDescription("MCP tool call latency; index_folder covers a whole indexing run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 300)); err != nil {
		logger.Warn("creating tool duration histogram failed", zap.Error(err))
	}
	if m.inFlight, err = meter.Int64UpDownCounter("ragchat.mcp.tool.in_flight",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}")); err != nil {
		logger.Warn("creating in-flight counter failed", zap.Error(err))
	}
	return m
}

// Start marks a call to tool as in flight. The returned function ends it
// and records the outcome of err.
func (m *Metrics) Start(ctx context.Context, tool string) func(error) {
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}

	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		attrs := metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("outcome", outcome(err)),
		)
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}
}

// outcome is "ok", "timeout", "canceled" or the rag error kind.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return string(rag.KindOf(err))
}
