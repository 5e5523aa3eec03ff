package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Gateway errors. ErrGatewayTimeout and ErrRateLimited are retryable.
var (
	ErrGatewayTimeout = errors.New("gateway timeout")
	ErrRateLimited    = errors.New("rate limited")
	ErrGatewayError   = errors.New("gateway error")
)

// Configuration errors.
var (
	ErrUnknownProvider = errors.New("unknown llm provider")
	ErrInvalidModel    = errors.New("invalid model name")
)

var (
	rateLimitMarkers = []string{"rate limit", "too many requests", "429", "quota"}
	timeoutMarkers   = []string{
		"timeout", "deadline exceeded", "connection reset", "connection refused",
		"service unavailable", "temporarily unavailable", "broken pipe", "unexpected eof",
		"502", "503", "504",
	}
	contextLimitMarkers = []string{"context length", "token limit", "input is too long", "maximum context"}
)

// Classify wraps a provider error with its gateway kind. Context
// cancellation passes through untouched so callers can tell it apart from
// provider failures.
func Classify(model string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrGatewayError) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrGatewayTimeout, model, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitMarkers):
		return fmt.Errorf("%w: %s: %w", ErrRateLimited, model, err)
	case containsAny(msg, timeoutMarkers):
		return fmt.Errorf("%w: %s: %w", ErrGatewayTimeout, model, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrGatewayError, model, err)
	}
}

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrRateLimited)
}

// IsContextLimit reports whether err means the prompt exceeded the model's
// context window.
func IsContextLimit(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), contextLimitMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
