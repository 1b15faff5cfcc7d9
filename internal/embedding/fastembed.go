//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/starford/mnemo/internal/apperr"
)

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FastEmbed embeds text with a local ONNX model. The model files must
// already be present in the cache directory or reachable for download by
// the fastembed runtime.
type FastEmbed struct {
	mu    sync.Mutex
	model *fastembed.FlagEmbedding
	name  string
}

// NewFastEmbed loads the configured ONNX model.
func NewFastEmbed(cfg Config) (*FastEmbed, error) {
	model, ok := modelMapping[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: init fastembed %q: %w", cfg.Model, err)
	}
	return &FastEmbed{model: fe, name: cfg.Model}, nil
}

// Embed implements Provider.
func (f *FastEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil, &apperr.ProviderError{Provider: ProviderFastEmbed, Err: fmt.Errorf("closed")}
	}
	vecs, err := f.model.Embed([]string{text}, 1)
	if err != nil {
		return nil, &apperr.ProviderError{Provider: ProviderFastEmbed, Err: err}
	}
	if len(vecs) != 1 {
		return nil, &apperr.ProviderError{Provider: ProviderFastEmbed, Err: fmt.Errorf("got %d vectors for one input", len(vecs))}
	}
	return vecs[0], nil
}

// Model implements Provider.
func (f *FastEmbed) Model() string { return ProviderFastEmbed + ":" + f.name }

// Close releases the ONNX session.
func (f *FastEmbed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	err := f.model.Destroy()
	f.model = nil
	return err
}
