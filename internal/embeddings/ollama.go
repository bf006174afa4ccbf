package embeddings

import (
	"context"
	"net/url"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// OllamaProvider embeds through an Ollama server using langchaingo.
type OllamaProvider struct {
	embedder lcembeddings.Embedder
	model    string
	dim      dimension
}

// NewOllamaProvider connects to the Ollama server at baseURL. No request is
// made until the first embedding.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, rag.Configf(rag.StageEmbedding, "invalid ollama base url %q: %v", baseURL, err)
	}
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, rag.Configf(rag.StageEmbedding, "creating ollama client: %v", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm,
		lcembeddings.WithStripNewLines(false),
		lcembeddings.WithBatchSize(32),
	)
	if err != nil {
		return nil, rag.Configf(rag.StageEmbedding, "creating ollama embedder: %v", err)
	}
	return newOllamaProvider(embedder, model), nil
}

func newOllamaProvider(embedder lcembeddings.Embedder, model string) *OllamaProvider {
	p := &OllamaProvider{embedder: embedder, model: model}
	p.dim.n.Store(int64(detectDimensionFromModel(model)))
	return p
}

func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vec, err := p.embedder.EmbedQuery(ctx, queryText(p.model, text))
	if err != nil {
		return nil, err
	}
	p.dim.observe(vec)
	return vec, nil
}

func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, passageTexts(p.model, texts))
	if err != nil {
		return nil, err
	}
	if err := checkCount("embed documents", len(vecs), len(texts)); err != nil {
		return nil, err
	}
	p.dim.observe(vecs...)
	return vecs, nil
}

func (p *OllamaProvider) Dimension() int { return p.dim.get() }

func (p *OllamaProvider) Model() string { return p.model }

func (p *OllamaProvider) Close() error { return nil }
