// Package embeddings maps text to fixed-dimension vectors through a local
// ONNX model, an Ollama server or an OpenAI-compatible API.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

var (
	// ErrEmptyInput indicates an empty text where one is required.
	ErrEmptyInput = errors.New("empty input text")

	// ErrEmbeddingFailed indicates the backend could not embed the input.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider embeds queries and documents with one model. Implementations are
// safe for concurrent use.
type Provider interface {
	// EmbedQuery returns the vector for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the vector length, or 0 if not yet known.
	Dimension() int
	// Model returns the configured model name.
	Model() string
	// Close releases resources held by the provider.
	Close() error
}

// Provider names.
const (
	ProviderFastEmbed = "fastembed"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	Provider string
	Model    string
	// BaseURL is the server URL for ollama and openai.
	BaseURL string
	APIKey  string
	// CacheDir is the model cache directory for fastembed.
	CacheDir string
}

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, rag.Configf(rag.StageEmbedding, "embedding model is required")
	}
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case ProviderFastEmbed, "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case ProviderOllama:
		p, err = NewOllamaProvider(cfg.BaseURL, cfg.Model)
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, rag.Configf(rag.StageEmbedding, "unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// e5 models expect "query: " and "passage: " role prefixes.
func isE5(model string) bool {
	return strings.Contains(strings.ToLower(model), "e5")
}

func queryText(model, text string) string {
	if isE5(model) {
		return "query: " + text
	}
	return text
}

func passageTexts(model string, texts []string) []string {
	if !isE5(model) {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = "passage: " + t
	}
	return out
}

// detectDimensionFromModel guesses the vector length of a remote model
// before the first response arrives.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding"):
		return 1536
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"), strings.Contains(m, "nomic"):
		return 768
	case strings.Contains(m, "small"), strings.Contains(m, "mini"):
		return 384
	default:
		return 0
	}
}

// dimension records the vector length a remote backend actually returns.
type dimension struct {
	n atomic.Int64
}

func (d *dimension) observe(vecs ...[]float32) {
	for _, v := range vecs {
		if len(v) > 0 {
			d.n.Store(int64(len(v)))
			return
		}
	}
}

func (d *dimension) get() int { return int(d.n.Load()) }

func checkCount(op string, got, want int) error {
	if got != want {
		return rag.Unavailable(rag.StageEmbedding, op,
			fmt.Errorf("%w: backend returned %d vectors for %d texts", ErrEmbeddingFailed, got, want))
	}
	return nil
}
