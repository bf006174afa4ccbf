package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// OpenAIProvider embeds through the OpenAI embeddings API or any server
// exposing a compatible /embeddings endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    dimension
}

// NewOpenAIProvider creates a client for baseURL. An empty baseURL means the
// public OpenAI API, which requires apiKey.
func NewOpenAIProvider(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	if baseURL == "" && apiKey == "" {
		return nil, rag.Configf(rag.StageEmbedding, "openai embeddings need an api key or a base url")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	p := &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
	p.dim.n.Store(int64(detectDimensionFromModel(model)))
	return p, nil
}

func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := p.embed(ctx, []string{queryText(p.model, text)})
	if err != nil {
		return nil, err
	}
	if err := checkCount("embed query", len(vecs), 1); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := p.embed(ctx, passageTexts(p.model, texts))
	if err != nil {
		return nil, err
	}
	if err := checkCount("embed documents", len(vecs), len(texts)); err != nil {
		return nil, err
	}
	return vecs, nil
}

// embed orders results by the response's Index field, which the API does not
// promise to match request order.
func (p *OpenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, rag.Unavailable(rag.StageEmbedding, "embed",
				fmt.Errorf("%w: invalid embedding index %d", ErrEmbeddingFailed, d.Index))
		}
		out[d.Index] = d.Embedding
	}
	p.dim.observe(out...)
	return out, nil
}

func (p *OpenAIProvider) Dimension() int { return p.dim.get() }

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Close() error { return nil }
