//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without cgo.
var ErrFastEmbedNotAvailable = errors.New("embedding: fastembed not available (binary built without cgo, use the ollama or hashing provider)")

// FastEmbed is a stub for non-cgo builds.
type FastEmbed struct{}

// NewFastEmbed returns ErrFastEmbedNotAvailable.
func NewFastEmbed(_ Config) (*FastEmbed, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Embed returns ErrFastEmbedNotAvailable.
func (f *FastEmbed) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Model returns the provider name.
func (f *FastEmbed) Model() string { return ProviderFastEmbed }

// Close is a no-op.
func (f *FastEmbed) Close() error { return nil }
