package mcp

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const instrumentationName = "github.com/fyrsmithlabs/ragpipe/internal/mcp"

// toolMetrics counts tool calls. A nil instrument is skipped.
type toolMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	check := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &toolMetrics{}
	var err error
	m.calls, err = meter.Int64Counter("ragpipe.mcp.tool.calls_total",
		metric.WithDescription("Tool calls by tool name"),
		metric.WithUnit("{call}"))
	check("calls_total", err)

	m.failures, err = meter.Int64Counter("ragpipe.mcp.tool.failures_total",
		metric.WithDescription("Failed tool calls by tool, reason and pipeline stage"),
		metric.WithUnit("{call}"))
	check("failures_total", err)

	m.latency, err = meter.Float64Histogram("ragpipe.mcp.tool.duration_seconds",
		metric.WithDescription("Tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300))
	check("duration_seconds", err)

	m.inflight, err = meter.Int64UpDownCounter("ragpipe.mcp.tool.inflight",
		metric.WithDescription("Tool calls currently executing"),
		metric.WithUnit("{call}"))
	check("inflight", err)

	return m
}

// begin marks a call to tool as in flight. The returned func must be
// called exactly once with the handler's error.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, attrs)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err == nil || m.failures == nil {
			return
		}
		stage := string(rag.StageOf(err))
		if stage == "" {
			stage = "none"
		}
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("reason", failureReason(err)),
			attribute.String("stage", stage),
		))
	}
}

// failureReason maps err onto a low-cardinality label.
func failureReason(err error) string {
	if err == nil {
		return ""
	}
	switch rag.KindOf(err) {
	case rag.KindInput:
		return "invalid_input"
	case rag.KindConfiguration:
		return "misconfigured"
	case rag.KindBackendUnavailable:
		return "backend_unavailable"
	case rag.KindTimeout:
		return "timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.HasPrefix(msg, "ingest failed"):
		return "ingest_failed"
	case strings.HasPrefix(msg, "reset failed"):
		return "reset_failed"
	}
	return "internal"
}
