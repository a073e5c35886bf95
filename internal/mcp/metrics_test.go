package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

func TestMetrics_Start(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := newMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(instrumentationName), nil)
	ctx := context.Background()

	m.Start(ctx, ToolChatbotAsk)(nil)
	m.Start(ctx, ToolChatbotAsk)(fmt.Errorf("%w: empty query", rag.ErrValidation))
	pending := m.Start(ctx, ToolIndexFolder)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Aggregation)
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md.Data
	}

	calls, ok := byName["ragchat.mcp.tool.calls"].(metricdata.Sum[int64])
	require.True(t, ok)
	outcomes := make(map[string]int64)
	for _, dp := range calls.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		outcomes[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 1, "validation": 1}, outcomes)

	inFlight, ok := byName["ragchat.mcp.tool.in_flight"].(metricdata.Sum[int64])
	require.True(t, ok)
	active := make(map[string]int64)
	for _, dp := range inFlight.DataPoints {
		v, _ := dp.Attributes.Value("tool")
		active[v.AsString()] = dp.Value
	}
	assert.Equal(t, int64(0), active[ToolChatbotAsk])
	assert.Equal(t, int64(1), active[ToolIndexFolder])

	pending(nil)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("%w: empty query", rag.ErrValidation), "validation"},
		{fmt.Errorf("%w: data/raw", rag.ErrNotFound), "not_found"},
		{rag.ErrUnsupportedFormat, "unsupported"},
		{fmt.Errorf("query: %w", rag.ErrStorage), "storage"},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), "timeout"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcome(tt.err), "%v", tt.err)
	}
}

func TestNilMetricsInstruments(t *testing.T) {
	m := &Metrics{}
	assert.NotPanics(t, func() { m.Start(context.Background(), ToolIndexFolder)(errors.New("boom")) })
}
