package indexing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragchat/internal/indexing"

// Metrics holds indexing run instruments.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	chunks   metric.Int64Counter
	degraded metric.Int64Counter
}

// NewMetrics creates indexing instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.runs, err = m.meter.Int64Counter(
		"ragchat.indexing.runs_total",
		metric.WithDescription("Indexing runs by final state and whether they were no-ops"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"ragchat.indexing.run_duration_seconds",
		metric.WithDescription("Duration of indexing runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.chunks, err = m.meter.Int64Counter(
		"ragchat.indexing.chunks_stored_total",
		metric.WithDescription("Chunks written to the vector store"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks counter", zap.Error(err))
	}

	m.degraded, err = m.meter.Int64Counter(
		"ragchat.indexing.chunks_degraded_total",
		metric.WithDescription("Stored chunks carrying a substituted vector"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create degraded counter", zap.Error(err))
	}
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, res *Result) {
	if m == nil || res == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("state", string(res.State)),
		attribute.Bool("noop", res.NoOp),
	)
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, res.Duration.Seconds(), attrs)
	}
	if m.chunks != nil && res.Stored > 0 {
		m.chunks.Add(ctx, int64(res.Stored))
	}
	if m.degraded != nil && res.Degraded > 0 {
		m.degraded.Add(ctx, int64(res.Degraded))
	}
}
