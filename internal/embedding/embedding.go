// Package embedding maps text to fixed-length vectors. The same Provider
// embeds documents at index time and queries at search time, so both live
// in one vector space.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Provider names.
const (
	ProviderOllama    = "ollama"
	ProviderFastEmbed = "fastembed"
	ProviderHashing   = "hashing"
)

// ErrEmptyInput is returned when asked to embed blank text.
var ErrEmptyInput = errors.New("embedding: empty input")

// Provider generates embeddings.
type Provider interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the vector space. Vectors from different models are
	// never compared.
	Model() string
	Close() error
}

// Config selects and configures the embedding provider.
type Config struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	CacheDir  string        `yaml:"cache_dir"`
	Dimension int           `yaml:"dimension"`
	MaxLength int           `yaml:"max_length"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Validate validates the embedding configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderOllama, ProviderFastEmbed, ProviderHashing)),
		validation.Field(&c.Model, validation.When(c.Provider != ProviderHashing, validation.Required)),
		validation.Field(&c.BaseURL, validation.When(c.Provider == ProviderOllama, validation.Required)),
		validation.Field(&c.Dimension, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// DefaultConfig returns the embedding settings of a fresh install.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderOllama,
		Model:    "nomic-embed-text",
		BaseURL:  "http://localhost:11434",
		Timeout:  30 * time.Second,
	}
}

// New creates the provider named by cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderOllama:
		p, err := NewOllama(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderFastEmbed:
		p, err := NewFastEmbed(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderHashing:
		return NewHashing(cfg.Dimension), nil
	}
	return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns v scaled to unit length, or nil when v has zero or
// non-finite norm.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
