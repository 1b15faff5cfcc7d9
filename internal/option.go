package internal

import (
	"log/slog"

	"github.com/starford/mnemo/internal/answer"
	"github.com/starford/mnemo/internal/embedding"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	configPath string
	logger     *slog.Logger
	embedder   embedding.Provider
	llms       answer.Resolver
	literal    bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithConfigPath names the file preference changes are written to and
// watched on. Without it, changes live in memory only.
func WithConfigPath(path string) Option {
	return func(a *application) {
		a.configPath = path
	}
}

// WithLogger overrides the JSON logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(p embedding.Provider) Option {
	return func(a *application) {
		a.embedder = p
	}
}

// WithLLM replaces the language model resolver.
func WithLLM(r answer.Resolver) Option {
	return func(a *application) {
		a.llms = r
	}
}

// WithLiteralOnly skips the embedder and the vector index. Captures stay
// pending until a process with the index picks them up.
func WithLiteralOnly() Option {
	return func(a *application) {
		a.literal = true
	}
}
