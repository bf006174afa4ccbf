package generation

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// OllamaGenerator generates through an Ollama server using langchaingo.
// Pings go through the server's OpenAI-compatible /v1 endpoints.
type OllamaGenerator struct {
	llm    llms.Model
	models *openai.Client
	model  string
}

// NewOllamaGenerator creates a client for the Ollama server at baseURL.
func NewOllamaGenerator(baseURL, model string) (*OllamaGenerator, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, rag.Configf(rag.StageGeneration, "invalid ollama base url %q: %v", baseURL, err)
	}
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, rag.Configf(rag.StageGeneration, "creating ollama client: %v", err)
	}
	return &OllamaGenerator{llm: llm, models: ollamaModelsClient(baseURL), model: model}, nil
}

func ollamaModelsClient(baseURL string) *openai.Client {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, llms.WithTemperature(temperature))
}

// Ping lists the server's models and fails when the configured one has not
// been pulled. Untagged names match their ":latest" tag.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	list, err := g.models.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range list.Models {
		if m.ID == g.model || m.ID == g.model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("model %s is not available on the ollama server", g.model)
}

func (g *OllamaGenerator) Model() string { return g.model }

func (g *OllamaGenerator) Close() error { return nil }
