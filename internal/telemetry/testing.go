package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is an enabled Telemetry whose spans and metrics stay in
// memory.
type TestTelemetry struct {
	*Telemetry

	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

// NewTestTelemetry creates in-memory providers. They are not global until
// Install is called.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg: cfg,
			tp:  trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			mp:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		recorder: recorder,
		reader:   reader,
	}
}

// Install makes the in-memory providers global and returns the restore
// function. Package tracers obtained from the globals at init are bound to
// the first provider ever installed in the process, so a test binary should
// install at most one TestTelemetry.
func (t *TestTelemetry) Install() func() {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(t.tp)
	otel.SetMeterProvider(t.mp)
	return func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}
}

// Spans returns the ended spans in end order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.recorder.Ended()
}

// Span returns the first ended span called name.
func (t *TestTelemetry) Span(name string) (trace.ReadOnlySpan, bool) {
	for _, s := range t.recorder.Ended() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// SpanNames lists ended span names, for failure messages.
func (t *TestTelemetry) SpanNames() []string {
	var names []string
	for _, s := range t.recorder.Ended() {
		names = append(names, s.Name())
	}
	return names
}

// SpanAttributes flattens the attributes of the first span called name into
// plain Go values. It is nil when no such span ended.
func (t *TestTelemetry) SpanAttributes(name string) map[string]any {
	s, ok := t.Span(name)
	if !ok {
		return nil
	}
	attrs := make(map[string]any, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = plain(kv.Value)
	}
	return attrs
}

// Metric collects and returns the metric called name.
func (t *TestTelemetry) Metric(ctx context.Context, name string) (metricdata.Metrics, bool, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return metricdata.Metrics{}, false, err
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true, nil
			}
		}
	}
	return metricdata.Metrics{}, false, nil
}

func plain(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	}
	return v.AsInterface()
}
