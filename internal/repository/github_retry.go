package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/logging"
)

// RetryConfig configures retries of GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the first wait.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, including rate-limit resets.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each retry.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default GitHub retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// withGitHubRetry runs op until it succeeds, fails permanently, or the
// retries run out. Rate-limited responses wait for the reset time.
func withGitHubRetry(ctx context.Context, cfg RetryConfig, op func() (*github.Response, error)) (*github.Response, error) {
	cfg.ApplyDefaults()
	logger := logging.FromContext(ctx).Named("github")

	var (
		lastErr  error
		lastResp *github.Response
		backoff  = cfg.InitialBackoff
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := op()
		if err == nil {
			if attempt > 0 {
				logger.Debug(ctx, "github call recovered", zap.Int("retries", attempt))
			}
			return resp, nil
		}
		lastErr, lastResp = err, resp

		if !retryableGitHubError(resp) || attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if rateLimited(resp) {
			wait = rateLimitWait(resp, cfg.MaxBackoff)
		}
		logger.Warn(ctx, "retrying github call",
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", statusCode(resp)),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff = min(time.Duration(float64(backoff)*cfg.BackoffMultiplier), cfg.MaxBackoff)
	}
	return lastResp, fmt.Errorf("github api: %w", lastErr)
}

// retryableGitHubError reports whether a failed call is worth repeating.
// Calls that failed without a response are network errors and retried.
func retryableGitHubError(resp *github.Response) bool {
	code := statusCode(resp)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		// Secondary rate limits answer 403 with rate headers.
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	default:
		return code >= 500 && code < 600
	}
}

func rateLimited(resp *github.Response) bool {
	code := statusCode(resp)
	return code == http.StatusTooManyRequests ||
		(code == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0)
}

// rateLimitWait waits until one second after the reset time, capped.
func rateLimitWait(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp.Rate.Reset.Time.IsZero() {
		return maxBackoff
	}
	wait := time.Until(resp.Rate.Reset.Time) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return min(wait, maxBackoff)
}

func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}
