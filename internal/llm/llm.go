// Package llm generates text with a local language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/starford/mnemo/internal/settings"
)

// ErrEmptyOutput is returned when the model produced no text.
var ErrEmptyOutput = errors.New("llm: empty output")

// Request is a single-prompt generation request.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// RequestFrom fills the model parameters of a request from cfg.
func RequestFrom(cfg settings.LLMConfig, system, prompt string) Request {
	return Request{
		System:      system,
		Prompt:      prompt,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// Provider generates a completion for a request.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

type clientKey struct {
	provider string
	baseURL  string
	apiKey   string
}

// Registry caches one client per endpoint. Model, token and temperature
// settings travel with each Request, so changing them needs no new client.
type Registry struct {
	mu      sync.Mutex
	clients map[clientKey]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[clientKey]Provider)}
}

// Provider returns the client for cfg, creating it on first use.
func (r *Registry) Provider(cfg settings.LLMConfig) (Provider, error) {
	key := clientKey{
		provider: strings.ToLower(cfg.Provider),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.clients[key]; ok {
		return p, nil
	}

	var (
		p   Provider
		err error
	)
	switch key.provider {
	case settings.ProviderOllama:
		p, err = NewOllama(key.baseURL, cfg.Model)
	case settings.ProviderOpenAI:
		p = NewOpenAI(key.baseURL, key.apiKey)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	r.clients[key] = p
	return p, nil
}

// Len returns the number of cached clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
