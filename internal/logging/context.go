// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RunFields identifies the run a log entry belongs to.
type RunFields struct {
	ThreadID    string
	RunID       string
	AssistantID string
	GraphID     string
}

type runCtxKey struct{}
type stageCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if run, ok := ctx.Value(runCtxKey{}).(RunFields); ok {
		if run.ThreadID != "" {
			fields = append(fields, zap.String("thread_id", run.ThreadID))
		}
		if run.RunID != "" {
			fields = append(fields, zap.String("run_id", run.RunID))
		}
		if run.AssistantID != "" {
			fields = append(fields, zap.String("assistant_id", run.AssistantID))
		}
		if run.GraphID != "" {
			fields = append(fields, zap.String("graph_id", run.GraphID))
		}
	}

	if stage := StageFromContext(ctx); stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

// WithRun attaches run identity to ctx.
func WithRun(ctx context.Context, run RunFields) context.Context {
	return context.WithValue(ctx, runCtxKey{}, run)
}

// RunFromContext returns the run identity attached to ctx, if any.
func RunFromContext(ctx context.Context) (RunFields, bool) {
	run, ok := ctx.Value(runCtxKey{}).(RunFields)
	return run, ok
}

// WithStage attaches the executing stage name to ctx.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// StageFromContext returns the stage name attached to ctx.
func StageFromContext(ctx context.Context) string {
	s, _ := ctx.Value(stageCtxKey{}).(string)
	return s
}

// WithRequestID attaches an HTTP request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id attached to ctx.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
