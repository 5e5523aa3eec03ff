// Package llm is the gateway between workflow stages and language models.
//
// Stages depend only on Gateway. ProviderGateway resolves "provider/model"
// names to langchaingo clients, and Resilient wraps any Gateway with rate
// limiting, classified errors and bounded exponential backoff.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Gateway executes a prompt against a named model.
type Gateway interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, model, prompt string) (string, error)

// Complete calls f.
func (f GatewayFunc) Complete(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// ModelRef is a parsed "provider/model" selector.
type ModelRef struct {
	Provider string
	Model    string
}

func (r ModelRef) String() string {
	return r.Provider + "/" + r.Model
}

// ParseModel splits a selector such as "openai/gpt-4o" or
// "ollama/qwen2.5-coder:7b". A bare name defaults to openai.
func ParseModel(name string) (ModelRef, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ModelRef{}, fmt.Errorf("%w: empty", ErrInvalidModel)
	}
	provider, model, ok := strings.Cut(name, "/")
	if !ok {
		return ModelRef{Provider: "openai", Model: name}, nil
	}
	if provider == "" || model == "" {
		return ModelRef{}, fmt.Errorf("%w: %q", ErrInvalidModel, name)
	}
	return ModelRef{Provider: strings.ToLower(provider), Model: model}, nil
}
