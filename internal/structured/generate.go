package structured

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/logging"
)

// ErrMalformed means a response could not be decoded or failed its check.
var ErrMalformed = errors.New("malformed structured output")

// ErrAttemptsExhausted wraps ErrMalformed once every attempt has failed.
var ErrAttemptsExhausted = fmt.Errorf("%w: attempts exhausted", ErrMalformed)

// Validator re-prompts a Gateway until its output decodes and passes a
// check, up to MaxAttempts calls in total.
type Validator struct {
	Gateway     llm.Gateway
	MaxAttempts int
	Logger      *logging.Logger
}

// Outcome reports how a Generate call went.
type Outcome struct {
	Attempts int      `json:"attempts"`
	Failures []string `json:"failures,omitempty"`
}

// Check validates a decoded value beyond what its Go type enforces.
type Check[T any] func(*T) error

// Generate calls the gateway with prompt and decodes the response into T.
// A decode or check failure consumes one attempt and re-prompts with the
// failure appended. Gateway errors and cancellation are returned at once
// and do not consume attempts.
func Generate[T any](ctx context.Context, v Validator, model, prompt string, check Check[T]) (T, Outcome, error) {
	var (
		zero    T
		outcome Outcome
	)
	attempts := v.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	logger := v.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	current := prompt
	for outcome.Attempts < attempts {
		if err := ctx.Err(); err != nil {
			return zero, outcome, err
		}
		outcome.Attempts++

		raw, err := v.Gateway.Complete(ctx, model, current)
		if err != nil {
			return zero, outcome, err
		}

		value, err := Decode[T](raw)
		if err == nil && check != nil {
			if cerr := check(&value); cerr != nil {
				err = fmt.Errorf("%w: %w", ErrMalformed, cerr)
			}
		}
		if err == nil {
			return value, outcome, nil
		}

		outcome.Failures = append(outcome.Failures, err.Error())
		logger.Warn(ctx, "structured output rejected",
			zap.String("model", model),
			zap.Int("attempt", outcome.Attempts),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		current = reprompt(prompt, err)
	}

	return zero, outcome, fmt.Errorf("%w after %d attempts: %s",
		ErrAttemptsExhausted, outcome.Attempts, outcome.Failures[len(outcome.Failures)-1])
}

func reprompt(prompt string, err error) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nYour previous response was rejected: ")
	b.WriteString(err.Error())
	b.WriteString("\nRespond again with only a JSON object that follows the format instructions above.")
	return b.String()
}
