package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

const instrumentationName = "github.com/fyrsmithlabs/seagent/internal/mcp"

// toolBuckets reach fifteen minutes because run_create waits for the run.
var toolBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300, 900}

// Metrics instruments tool calls. Instruments that fail to register are
// left nil and skipped.
type Metrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewMetrics registers the tool instruments on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{}
	var errs [4]error
	m.calls, errs[0] = meter.Int64Counter("seagent.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool"),
		metric.WithUnit("{invocation}"))
	m.failures, errs[1] = meter.Int64Counter("seagent.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by tool and error kind"),
		metric.WithUnit("{error}"))
	m.latency, errs[2] = meter.Float64Histogram("seagent.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(toolBuckets...))
	m.inflight, errs[3] = meter.Int64UpDownCounter("seagent.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{request}"))
	if err := errors.Join(errs[:]...); err != nil {
		logger.Warn(context.Background(), "mcp metrics partially registered", zap.Error(err))
	}
	return m
}

// Begin marks a call to tool as in flight. The returned func ends it and
// records the outcome.
func (m *Metrics) Begin(ctx context.Context, tool string) func(error) {
	start := time.Now()
	byTool := metric.WithAttributes(attribute.String("tool", tool))
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, byTool)
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, byTool)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, byTool)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), byTool)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("kind", string(runtime.KindOf(err)))))
		}
	}
}
