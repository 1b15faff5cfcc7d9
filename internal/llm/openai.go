package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/settings"
)

// localAPIKey is sent to servers that do not check keys but reject an empty
// Authorization header.
const localAPIKey = "local"

// OpenAI talks to an OpenAI-compatible chat completions endpoint, such as
// llama.cpp's server or LM Studio.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a client for baseURL (for example http://localhost:8080/v1).
func NewOpenAI(baseURL, apiKey string) *OpenAI {
	if apiKey == "" {
		apiKey = localAPIKey
	}
	return &OpenAI{client: openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)}
}

// Generate implements Provider.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    msgs,
		Model:       openai.ChatModel(req.Model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &apperr.ProviderError{Provider: settings.ProviderOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &apperr.ProviderError{Provider: settings.ProviderOpenAI, Err: ErrEmptyOutput}
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", &apperr.ProviderError{Provider: settings.ProviderOpenAI, Err: ErrEmptyOutput}
	}
	return out, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return settings.ProviderOpenAI }
