package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (Norm(a) * Norm(b))
}

func TestHashing_DeterministicAndNormalized(t *testing.T) {
	h := NewHashing(64)
	ctx := context.Background()

	a, err := h.Embed(ctx, "ssh user@staging.example.com")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := h.Embed(ctx, "ssh user@staging.example.com")
	if len(a) != 64 {
		t.Fatalf("dimension = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
	}
	if n := Norm(a); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", n)
	}
}

func TestHashing_SharedWordsAreCloser(t *testing.T) {
	h := NewHashing(0)
	ctx := context.Background()
	doc, _ := h.Embed(ctx, "ssh user@staging.example.com")
	near, _ := h.Embed(ctx, "ssh to staging")
	far, _ := h.Embed(ctx, "bake sourdough bread")

	if cosine(doc, near) <= cosine(doc, far) {
		t.Errorf("related text should score higher: near=%v far=%v", cosine(doc, near), cosine(doc, far))
	}
	upper, _ := h.Embed(ctx, "SSH USER@STAGING.EXAMPLE.COM")
	if c := cosine(doc, upper); c < 0.999 {
		t.Errorf("case should not matter, cosine = %v", c)
	}
}

func TestHashing_EmptyAndSymbols(t *testing.T) {
	h := NewHashing(16)
	if _, err := h.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	v, err := h.Embed(context.Background(), "!!!")
	if err != nil || Norm(v) == 0 {
		t.Errorf("symbol-only text should still embed: %v %v", v, err)
	}
}

func TestNormalize_RejectsZero(t *testing.T) {
	if Normalize([]float32{0, 0, 0}) != nil {
		t.Error("zero vector must not normalize")
	}
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize = %v", v)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if err := (&Config{Provider: ProviderHashing}).Validate(); err != nil {
		t.Errorf("hashing needs no model: %v", err)
	}
	if err := (&Config{Provider: "bert"}).Validate(); err == nil {
		t.Error("unknown provider should fail")
	}
	if err := (&Config{Provider: ProviderOllama, Model: "m"}).Validate(); err == nil {
		t.Error("ollama without base_url should fail")
	}
}

func TestNew_Hashing(t *testing.T) {
	p, err := New(Config{Provider: ProviderHashing, Dimension: 32})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if p.Model() != "hashing:32" {
		t.Errorf("Model = %q", p.Model())
	}
}
