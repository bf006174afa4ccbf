package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragpipe/internal/embeddings"
	"github.com/fyrsmithlabs/ragpipe/internal/generation"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
	"github.com/fyrsmithlabs/ragpipe/internal/rpc"
	"github.com/fyrsmithlabs/ragpipe/internal/vectorstore"
)

// Backend names reported by Health.
const (
	BackendEmbedding  = "embedding"
	BackendVector     = "vectorstore"
	BackendGeneration = "generation"

	backendOK = "ok"
)

// Stages is the transport the pipeline runs over. Every error it returns
// is a *rag.Error.
type Stages interface {
	Mode() rag.Mode
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Search(ctx context.Context, embedding []float32, k int) ([]rag.Match, error)
	// AddDocuments returns the number of documents added and the new total.
	AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]string) (added, total int, err error)
	Count(ctx context.Context) (int, error)
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
	Reset(ctx context.Context) error
	// Models returns the embedding and generation model names.
	Models(ctx context.Context) (embedding, generation string)
	// Health maps each backend to "ok" or the reason it is not.
	Health(ctx context.Context) map[string]string
	Close() error
}

// LocalStages calls every backend in process.
type LocalStages struct {
	embedder  embeddings.Provider
	store     vectorstore.Store
	generator generation.Generator
}

func NewLocalStages(embedder embeddings.Provider, store vectorstore.Store, generator generation.Generator) *LocalStages {
	return &LocalStages{embedder: embedder, store: store, generator: generator}
}

func (l *LocalStages) Mode() rag.Mode { return rag.ModeLocal }

func (l *LocalStages) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := l.embedder.EmbedQuery(ctx, text)
	return v, rag.Classify(rag.StageEmbedding, "embed query", err)
}

func (l *LocalStages) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := l.embedder.EmbedDocuments(ctx, texts)
	return v, rag.Classify(rag.StageEmbedding, "embed documents", err)
}

func (l *LocalStages) Search(ctx context.Context, embedding []float32, k int) ([]rag.Match, error) {
	m, err := l.store.Search(ctx, embedding, k)
	return m, rag.Classify(rag.StageRetrieval, "search", err)
}

func (l *LocalStages) AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]string) (int, int, error) {
	if err := l.store.AddDocuments(ctx, texts, embeddings, metadatas); err != nil {
		return 0, 0, rag.Classify(rag.StageRetrieval, "add documents", err)
	}
	total, err := l.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return len(texts), total, nil
}

func (l *LocalStages) Count(ctx context.Context) (int, error) {
	n, err := l.store.Count(ctx)
	return n, rag.Classify(rag.StageRetrieval, "count", err)
}

func (l *LocalStages) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	s, err := l.generator.Generate(ctx, prompt, temperature)
	return s, rag.Classify(rag.StageGeneration, "generate", err)
}

func (l *LocalStages) Reset(ctx context.Context) error {
	return rag.Classify(rag.StageRetrieval, "reset", l.store.Reset(ctx))
}

func (l *LocalStages) Models(context.Context) (string, string) {
	return l.embedder.Model(), l.generator.Model()
}

// Health embeds a short text, counts the store and pings the generator.
func (l *LocalStages) Health(ctx context.Context) map[string]string {
	out := make(map[string]string, 3)
	for name, check := range map[string]func(context.Context) error{
		BackendEmbedding: func(ctx context.Context) error {
			_, err := embeddings.Probe(ctx, l.embedder)
			return rag.Classify(rag.StageEmbedding, "health", err)
		},
		BackendVector: func(ctx context.Context) error {
			_, err := l.Count(ctx)
			return err
		},
		BackendGeneration: func(ctx context.Context) error {
			return rag.Classify(rag.StageGeneration, "ping", l.generator.Ping(ctx))
		},
	} {
		out[name] = backendOK
		if err := check(ctx); err != nil {
			out[name] = err.Error()
		}
	}
	return out
}

func (l *LocalStages) Close() error {
	return errors.Join(l.embedder.Close(), l.store.Close(), l.generator.Close())
}

// RemoteStages calls the three stage services over gRPC.
type RemoteStages struct {
	embed *rpc.EmbeddingClient
	store *rpc.VectorClient
	gen   *rpc.GenerationClient
}

func NewRemoteStages(embed *rpc.EmbeddingClient, store *rpc.VectorClient, gen *rpc.GenerationClient) *RemoteStages {
	return &RemoteStages{embed: embed, store: store, gen: gen}
}

func (r *RemoteStages) Mode() rag.Mode { return rag.ModeRemote }

func (r *RemoteStages) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return r.embed.EmbedQuery(ctx, text)
}

func (r *RemoteStages) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return r.embed.EmbedDocuments(ctx, texts)
}

func (r *RemoteStages) Search(ctx context.Context, embedding []float32, k int) ([]rag.Match, error) {
	return r.store.Search(ctx, embedding, k)
}

func (r *RemoteStages) AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]string) (int, int, error) {
	return r.store.AddDocuments(ctx, texts, embeddings, metadatas)
}

func (r *RemoteStages) Count(ctx context.Context) (int, error) { return r.store.Count(ctx) }

func (r *RemoteStages) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return r.gen.Generate(ctx, prompt, temperature)
}

func (r *RemoteStages) Reset(ctx context.Context) error { return r.store.Reset(ctx) }

// Models asks both services for their model names. A service that cannot
// answer is reported as "unavailable".
func (r *RemoteStages) Models(ctx context.Context) (string, string) {
	embedding, generation := "unavailable", "unavailable"
	if info, err := r.embed.Info(ctx); err == nil {
		embedding = info.Model
	}
	if info, err := r.gen.Info(ctx); err == nil {
		generation = info.Model
	}
	return embedding, generation
}

// CheckDimensions compares the embedding service's vector length with the
// dimension the vector service holds. Either side reporting 0 is
// undecided and passes.
func (r *RemoteStages) CheckDimensions(ctx context.Context) error {
	embed, err := r.embed.Info(ctx)
	if err != nil {
		return err
	}
	store, err := r.store.Info(ctx)
	if err != nil {
		return err
	}
	if embed.Dimension != 0 && store.Dimension != 0 && embed.Dimension != store.Dimension {
		return &rag.Error{
			Kind:  rag.KindConfiguration,
			Stage: rag.StageRetrieval,
			Op:    "check dimensions",
			Err: fmt.Errorf("%w: model %s produces %d-dimensional vectors but the vector service holds %d",
				vectorstore.ErrDimensionMismatch, embed.Model, embed.Dimension, store.Dimension),
		}
	}
	return nil
}

func (r *RemoteStages) Health(ctx context.Context) map[string]string {
	out := make(map[string]string, 3)
	for name, check := range map[string]func(context.Context) error{
		BackendEmbedding:  r.embed.Health,
		BackendVector:     r.store.Health,
		BackendGeneration: r.gen.Health,
	} {
		out[name] = backendOK
		if err := check(ctx); err != nil {
			out[name] = err.Error()
		}
	}
	return out
}

func (r *RemoteStages) Close() error {
	return errors.Join(r.embed.Close(), r.store.Close(), r.gen.Close())
}
