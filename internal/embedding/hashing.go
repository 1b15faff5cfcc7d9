package embedding

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/starford/mnemo/internal/textnorm"
)

// DefaultHashingDimension is used when no dimension is configured.
const DefaultHashingDimension = 256

// Hashing is a model-free provider that maps folded word tokens into a
// fixed number of signed buckets. Texts sharing words get similar vectors.
// It works offline and is fully deterministic.
type Hashing struct {
	dim int
}

// NewHashing creates a hashing provider with dim buckets.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &Hashing{dim: dim}
}

// Embed implements Provider.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	folded := textnorm.Fold(text)
	if strings.TrimSpace(folded) == "" {
		return nil, ErrEmptyInput
	}
	tokens := textnorm.Tokens(folded)
	if len(tokens) == 0 {
		tokens = []string{strings.TrimSpace(folded)}
	}

	vec := make([]float32, h.dim)
	for _, tok := range tokens {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	if out := Normalize(vec); out != nil {
		return out, nil
	}
	// Every token cancelled out; fall back to a single bucket.
	vec[0] = 1
	return vec, nil
}

// Model implements Provider.
func (h *Hashing) Model() string { return ProviderHashing + ":" + strconv.Itoa(h.dim) }

// Close implements Provider.
func (h *Hashing) Close() error { return nil }
