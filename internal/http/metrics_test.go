package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(instrumentationName), nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET(routeHealth, func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST(routeChatbot, func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "query required") })
	e.POST(routeIndexing, func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, routeHealth, nil),
		httptest.NewRequest(http.MethodGet, routeHealth, nil),
		httptest.NewRequest(http.MethodPost, routeChatbot, strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodPost, routeIndexing, strings.NewReader("0123456789")),
	} {
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	metrics := collect(t, reader)

	requests, ok := metrics["ragchat.http.requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	counts := make(map[string]int64)
	for _, dp := range requests.DataPoints {
		route, _ := dp.Attributes.Value("http.route")
		status, _ := dp.Attributes.Value("http.response.status_code")
		counts[route.AsString()+" "+status.Emit()] += dp.Value
	}
	assert.Equal(t, map[string]int64{
		"/health 200":      2,
		"/v1/chatbot 400":  1,
		"/v1/indexing 200": 1,
	}, counts)

	latency, ok := metrics["ragchat.http.request.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var observed uint64
	for _, dp := range latency.DataPoints {
		observed += dp.Count
	}
	assert.Equal(t, uint64(4), observed)

	uploads, ok := metrics["ragchat.http.upload.size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, uploads.DataPoints, 1)
	assert.Equal(t, uint64(1), uploads.DataPoints[0].Count)
	assert.Equal(t, int64(10), uploads.DataPoints[0].Sum)

	inFlight, ok := metrics["ragchat.http.requests.in_flight"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range inFlight.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestRouteOf(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/nowhere", nil), httptest.NewRecorder())
	assert.Equal(t, unmatchedRoute, routeOf(c))

	c.SetPath(routeChatbot)
	assert.Equal(t, routeChatbot, routeOf(c))
}
