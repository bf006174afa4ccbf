package vectorstore

import (
	"context"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// Provider names.
const (
	ProviderChromem = "chromem"
	ProviderQdrant  = "qdrant"
)

// Config selects and configures a backend.
type Config struct {
	Provider   string
	Collection string
	Dimension  int

	// chromem
	Path     string
	Compress bool

	// qdrant
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool
}

// New creates the store named by cfg.Provider.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (Store, error) {
	switch cfg.Provider {
	case ProviderChromem, "":
		s, err := NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProviderQdrant:
		s, err := NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantTLS,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, rag.Configf(rag.StageRetrieval, "unknown vector store provider %q", cfg.Provider)
	}
}
