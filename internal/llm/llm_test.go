package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/settings"
)

func chatServer(t *testing.T, status int, content string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "local",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Generate(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, http.StatusOK, "  you ran make test  ", &body)

	p := NewOpenAI(srv.URL+"/v1", "")
	out, err := p.Generate(context.Background(), Request{
		System: "answer from history", Prompt: "what did I run?", Model: "qwen", MaxTokens: 64, Temperature: 0.2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "you ran make test" {
		t.Errorf("output = %q", out)
	}
	if body["model"] != "qwen" {
		t.Errorf("model = %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestOpenAI_EmptyOutput(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "   ", nil)
	_, err := NewOpenAI(srv.URL+"/v1", "k").Generate(context.Background(), Request{Prompt: "p", Model: "m"})
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) || pe.Provider != settings.ProviderOpenAI {
		t.Errorf("expected ProviderError, got %T", err)
	}
}

func TestOpenAI_HTTPError(t *testing.T) {
	srv := chatServer(t, http.StatusBadRequest, "", nil)
	_, err := NewOpenAI(srv.URL+"/v1", "k").Generate(context.Background(), Request{Prompt: "p", Model: "m"})
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestRegistry_CachesPerEndpoint(t *testing.T) {
	r := NewRegistry()
	cfg := settings.DefaultPreferences().LLM

	a, err := r.Provider(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Model = "llama3"
	cfg.Temperature = 0.9
	b, _ := r.Provider(cfg)
	if a != b || r.Len() != 1 {
		t.Error("model changes must reuse the client")
	}

	cfg.Provider = settings.ProviderOpenAI
	cfg.BaseURL = "http://localhost:8080/v1"
	c, err := r.Provider(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != settings.ProviderOpenAI || r.Len() != 2 {
		t.Errorf("expected a second client, got %s (%d cached)", c.Name(), r.Len())
	}

	cfg.Provider = "gemini"
	if _, err := r.Provider(cfg); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestRequestFrom(t *testing.T) {
	cfg := settings.DefaultPreferences().LLM
	req := RequestFrom(cfg, "sys", "prompt")
	if req.Model != cfg.Model || req.MaxTokens != cfg.MaxTokens || req.Temperature != cfg.Temperature {
		t.Errorf("RequestFrom = %+v", req)
	}
}
