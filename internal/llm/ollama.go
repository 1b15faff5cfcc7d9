package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/settings"
)

// Ollama talks to a local Ollama server.
type Ollama struct {
	llm *ollama.LLM
}

// NewOllama creates a client for the server at baseURL. model is only the
// default; each request names its own.
func NewOllama(baseURL, model string) (*Ollama, error) {
	c, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: ollama client: %w", err)
	}
	return &Ollama{llm: c}, nil
}

// Generate implements Provider.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt, opts...)
	if err != nil {
		return "", &apperr.ProviderError{Provider: settings.ProviderOllama, Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &apperr.ProviderError{Provider: settings.ProviderOllama, Err: ErrEmptyOutput}
	}
	return out, nil
}

// Name implements Provider.
func (o *Ollama) Name() string { return settings.ProviderOllama }
