package http

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const instrumentationName = "github.com/fyrsmithlabs/ragpipe/internal/http"

// gatewayMetrics records per-route traffic and pipeline outcomes seen by
// the gateway. Instruments that fail to register stay nil and are skipped.
type gatewayMetrics struct {
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	chunksAdded metric.Int64Counter
	answers     metric.Int64Counter
}

func newGatewayMetrics(meter metric.Meter, logger *zap.Logger) *gatewayMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &gatewayMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("ragpipe.http.requests_total",
		metric.WithDescription("Gateway requests by route and status class"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.latency, err = meter.Float64Histogram("ragpipe.http.request_duration_seconds",
		metric.WithDescription("Gateway request latency by route"),
		metric.WithUnit("s"),
		// Queries wait on generation, which may take minutes.
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300))
	warn("request_duration_seconds", err)

	m.chunksAdded, err = meter.Int64Counter("ragpipe.http.chunks_ingested_total",
		metric.WithDescription("Chunks stored through the ingest route"),
		metric.WithUnit("{chunk}"))
	warn("chunks_ingested_total", err)

	m.answers, err = meter.Int64Counter("ragpipe.http.answers_total",
		metric.WithDescription("Answers returned, split by whether any context was found"),
		metric.WithUnit("{answer}"))
	warn("answers_total", err)

	return m
}

func (m *gatewayMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("route", routeOf(c)),
				attribute.String("status_class", statusClass(c.Response().Status)),
			)
			ctx := c.Request().Context()
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

func (m *gatewayMetrics) recordIngest(ctx context.Context, res rag.IngestResult) {
	if m.chunksAdded != nil && res.OK() {
		m.chunksAdded.Add(ctx, int64(res.ChunksAdded))
	}
}

func (m *gatewayMetrics) recordAnswer(ctx context.Context, res rag.AnswerResult) {
	if m.answers != nil {
		m.answers.Add(ctx, 1, metric.WithAttributes(attribute.Bool("context_used", res.ContextUsed > 0)))
	}
}

// routeOf labels unmatched requests as "unmatched" so that arbitrary paths
// never become label values.
func routeOf(c echo.Context) string {
	if c.Path() == "" {
		return "unmatched"
	}
	return c.Request().Method + " " + c.Path()
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
