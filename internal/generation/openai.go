package generation

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

var errNoChoices = errors.New("chat completion returned no choices")

// OpenAIGenerator generates through the OpenAI chat completions API or a
// compatible server.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a client for baseURL. An empty baseURL means
// the public OpenAI API, which requires apiKey.
func NewOpenAIGenerator(baseURL, apiKey, model string) (*OpenAIGenerator, error) {
	if baseURL == "" && apiKey == "" {
		return nil, rag.Configf(rag.StageGeneration, "openai generation needs an api key or a base url")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping lists the models the server offers.
func (g *OpenAIGenerator) Ping(ctx context.Context) error {
	_, err := g.client.ListModels(ctx)
	return err
}

func (g *OpenAIGenerator) Model() string { return g.model }

func (g *OpenAIGenerator) Close() error { return nil }
