package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/ragchat/internal/embeddings"

// Vector kinds used as the "kind" attribute of the degraded counter.
const (
	kindDense  = "dense"
	kindSparse = "sparse"
)

// Metrics records provider calls and the vectors substituted when a batch
// fails. A zero Metrics records nothing.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
	degraded  metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(embeddingsInstrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.duration, err = meter.Float64Histogram("ragchat.embedding.duration",
		metric.WithDescription("Embedding provider call latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	keep(err)
	m.batchSize, err = meter.Int64Histogram("ragchat.embedding.batch.size",
		metric.WithDescription("Texts per provider call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 4, 16, 32, 64, 128, 256, 512))
	keep(err)
	m.errors, err = meter.Int64Counter("ragchat.embedding.errors",
		metric.WithDescription("Failed provider calls by model and operation"),
		metric.WithUnit("{call}"))
	keep(err)
	m.degraded, err = meter.Int64Counter("ragchat.embedding.degraded",
		metric.WithDescription("Texts given a zero or empty vector after their batch failed"),
		metric.WithUnit("{text}"))
	keep(err)

	for _, err := range errs {
		logger.Warn("creating embedding instrument failed", zap.Error(err))
	}
	return m
}

// RecordGeneration records one provider call of n texts.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, took time.Duration, n int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, took.Seconds(), attrs)
	}
	if m.batchSize != nil && n > 0 {
		m.batchSize.Record(ctx, int64(n), attrs)
	}
	if m.errors != nil && err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordDegraded counts n substituted vectors of kind.
func (m *Metrics) RecordDegraded(ctx context.Context, kind string, n int) {
	if m == nil || m.degraded == nil || n <= 0 {
		return
	}
	m.degraded.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}
