package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/starford/mnemo/internal/apperr"
)

// Ollama embeds text through a local Ollama server.
type Ollama struct {
	llm     *ollama.LLM
	model   string
	timeout time.Duration
}

// NewOllama creates an Ollama embedding provider. No request is made until
// the first Embed call.
func NewOllama(cfg Config) (*Ollama, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama client: %w", err)
	}
	return &Ollama{llm: llm, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// Embed implements Provider.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	vecs, err := o.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, &apperr.ProviderError{Provider: ProviderOllama, Err: err}
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, &apperr.ProviderError{Provider: ProviderOllama, Err: fmt.Errorf("got %d vectors for one input", len(vecs))}
	}
	return vecs[0], nil
}

// Model implements Provider.
func (o *Ollama) Model() string { return ProviderOllama + ":" + o.model }

// Close implements Provider.
func (o *Ollama) Close() error { return nil }
