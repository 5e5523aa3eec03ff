package llm

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures exponential backoff for transient gateway errors.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultRetryConfig suits remote LLM providers, which are slow to recover
// from rate limiting.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// RetryResult describes one retried operation.
type RetryResult struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Reasons       []string
}

// retry runs op until it succeeds, returns a non-retryable error, the
// retries are exhausted, or ctx is done.
func retry(ctx context.Context, cfg RetryConfig, op func() error, onRetry func(attempt int, delay time.Duration, err error)) RetryResult {
	start := time.Now()
	var res RetryResult

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		err := op()
		if err == nil {
			res.LastError = nil
			break
		}
		res.LastError = err
		res.Reasons = append(res.Reasons, err.Error())

		if !IsRetryable(err) || attempt == cfg.MaxRetries {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			res.LastError = ctx.Err()
			res.TotalDuration = time.Since(start)
			return res
		case <-t.C:
		}
	}

	res.TotalDuration = time.Since(start)
	return res
}

// backoffDelay is BaseDelay*Multiplier^attempt, capped at MaxDelay, with
// up to 10% jitter either way.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay += (rand.Float64() - 0.5) * 0.2 * delay
	}
	if delay < 0 {
		delay = float64(cfg.BaseDelay)
	}
	return time.Duration(delay)
}
