package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/seagent/internal/config"
)

// ProviderGateway is a Gateway backed by langchaingo clients. Clients are
// created on first use of each selector and reused.
type ProviderGateway struct {
	cfg config.LLMConfig

	mu     sync.Mutex
	models map[string]llms.Model
}

// NewProviderGateway creates a gateway using provider credentials from cfg.
func NewProviderGateway(cfg config.LLMConfig) *ProviderGateway {
	return &ProviderGateway{cfg: cfg, models: make(map[string]llms.Model)}
}

// Complete sends prompt to the model named by selector.
func (g *ProviderGateway) Complete(ctx context.Context, selector, prompt string) (string, error) {
	model, err := g.model(selector)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGatewayError, err)
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, model, prompt, llms.WithTemperature(0))
	if err != nil {
		return "", Classify(selector, err)
	}
	return out, nil
}

func (g *ProviderGateway) model(selector string) (llms.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.models[selector]; ok {
		return m, nil
	}
	ref, err := ParseModel(selector)
	if err != nil {
		return nil, err
	}
	m, err := g.newModel(ref)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", ref, err)
	}
	g.models[selector] = m
	return m, nil
}

func (g *ProviderGateway) newModel(ref ModelRef) (llms.Model, error) {
	switch ref.Provider {
	case "openai":
		return g.openAI(ref.Model, "")
	case "anthropic":
		return anthropic.New(
			anthropic.WithToken(g.cfg.AnthropicAPIKey.Value()),
			anthropic.WithModel(ref.Model),
		)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(ref.Model)}
		if g.cfg.OllamaURL != "" {
			opts = append(opts, ollama.WithServerURL(g.cfg.OllamaURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, ref.Provider)
	}
}

func (g *ProviderGateway) openAI(model, embeddingModel string) (*openai.LLM, error) {
	token := g.cfg.OpenAIAPIKey.Value()
	if token == "" {
		// OpenAI-compatible servers such as TEI accept any token.
		token = "placeholder"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if embeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(embeddingModel))
	}
	if g.cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(g.cfg.OpenAIBaseURL))
	}
	return openai.New(opts...)
}

// NewEmbedder builds an embeddings.Embedder for selector. Only providers
// langchaingo can embed with are accepted.
func (g *ProviderGateway) NewEmbedder(selector string) (embeddings.Embedder, error) {
	ref, err := ParseModel(selector)
	if err != nil {
		return nil, err
	}

	var client embeddings.EmbedderClient
	switch ref.Provider {
	case "openai":
		client, err = g.openAI("", ref.Model)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(ref.Model)}
		if g.cfg.OllamaURL != "" {
			opts = append(opts, ollama.WithServerURL(g.cfg.OllamaURL))
		}
		client, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %q cannot embed", ErrUnknownProvider, ref.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedding client: %w", ref, err)
	}
	return embeddings.NewEmbedder(client)
}
