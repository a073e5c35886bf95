package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragchat/internal/http"

// unmatchedRoute labels requests that matched no route, which keeps the
// route attribute bounded.
const unmatchedRoute = "unmatched"

// HTTPMetrics records per-route request counts, latency, upload sizes and
// in-flight requests.
type HTTPMetrics struct {
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	uploadBytes metric.Int64Histogram
	inFlight    metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(instrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("creating instrument failed", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &HTTPMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("ragchat.http.requests",
		metric.WithDescription("HTTP requests by route, method and status code"),
		metric.WithUnit("{request}"))
	warn("requests", err)

	m.latency, err = meter.Float64Histogram("ragchat.http.request.duration",
		metric.WithDescription("HTTP request latency; chatbot requests include retrieval and generation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	warn("request.duration", err)

	m.uploadBytes, err = meter.Int64Histogram("ragchat.http.upload.size",
		metric.WithDescription("Size of documents uploaded for indexing"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 1<<14, 1<<17, 1<<20, 1<<22, 1<<24, 1<<25))
	warn("upload.size", err)

	m.inFlight, err = meter.Int64UpDownCounter("ragchat.http.requests.in_flight",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	warn("requests.in_flight", err)

	return m
}

// MetricsMiddleware records every request that reaches the router.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			start := time.Now()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error response so the status is final.
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("http.route", routeOf(c)),
				attribute.String("http.request.method", req.Method),
				attribute.Int("http.response.status_code", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.uploadBytes != nil && c.Path() == routeIndexing && req.ContentLength > 0 {
				m.uploadBytes.Record(ctx, req.ContentLength)
			}
			return nil
		}
	}
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return unmatchedRoute
}
