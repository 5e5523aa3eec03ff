package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/seagent/internal/llm"

// Resilient wraps a Gateway with a shared token-bucket limiter, a
// per-call timeout, and retries of transient failures.
type Resilient struct {
	next    Gateway
	retry   RetryConfig
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logging.Logger

	calls    metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
}

// ResilientOption configures a Resilient gateway.
type ResilientOption func(*Resilient)

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg RetryConfig) ResilientOption {
	return func(r *Resilient) { r.retry = cfg }
}

// WithLimiter overrides the rate limiter. A nil limiter disables limiting.
func WithLimiter(l *rate.Limiter) ResilientOption {
	return func(r *Resilient) { r.limiter = l }
}

// WithTimeout bounds each attempt. Zero disables the bound.
func WithTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.timeout = d }
}

// NewResilient wraps next.
func NewResilient(next Gateway, logger *logging.Logger, opts ...ResilientOption) (*Resilient, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Resilient{
		next:   next,
		retry:  DefaultRetryConfig(),
		logger: logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(r)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if r.calls, err = meter.Int64Counter("seagent.llm.calls",
		metric.WithDescription("Gateway calls by model and outcome"),
		metric.WithUnit("{call}")); err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}
	if r.retries, err = meter.Int64Counter("seagent.llm.retries",
		metric.WithDescription("Retries of transient gateway failures"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, fmt.Errorf("create retries counter: %w", err)
	}
	if r.duration, err = meter.Float64Histogram("seagent.llm.duration",
		metric.WithDescription("Gateway call duration including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 30, 60, 120, 300)); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return r, nil
}

// ResilientFromConfig builds a Resilient gateway from the service LLM section.
func ResilientFromConfig(next Gateway, cfg config.LLMConfig, logger *logging.Logger) (*Resilient, error) {
	rc := DefaultRetryConfig()
	rc.MaxRetries = cfg.MaxRetries
	if cfg.BaseDelay > 0 {
		rc.BaseDelay = cfg.BaseDelay.Duration()
	}
	if cfg.MaxDelay > 0 {
		rc.MaxDelay = cfg.MaxDelay.Duration()
	}

	opts := []ResilientOption{WithRetryConfig(rc), WithTimeout(cfg.Timeout.Duration())}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, WithLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))))
	}
	return NewResilient(next, logger, opts...)
}

// Complete calls the wrapped gateway, retrying transient failures.
func (r *Resilient) Complete(ctx context.Context, model, prompt string) (string, error) {
	var out string
	start := time.Now()

	res := retry(ctx, r.retry, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		r.logger.Trace(ctx, "llm request", zap.String("model", model), zap.String("prompt", prompt))
		text, err := r.next.Complete(callCtx, model, prompt)
		if err != nil {
			// A deadline from our own per-attempt timeout is a gateway timeout,
			// but the caller's cancellation is not.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return Classify(model, err)
		}
		out = text
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
		r.logger.Warn(ctx, "retrying llm call",
			zap.String("model", model),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})

	outcome := "ok"
	if res.LastError != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("outcome", outcome))
	r.calls.Add(ctx, 1, attrs)
	r.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if res.LastError != nil {
		if ctx.Err() == nil {
			r.logger.Error(ctx, "llm call failed",
				zap.String("model", model),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.LastError))
		}
		return "", res.LastError
	}
	r.logger.Trace(ctx, "llm response", zap.String("model", model), zap.String("response", out))
	return out, nil
}
