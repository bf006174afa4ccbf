package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// Instrumented wraps a Provider with metrics, debug logging and output
// checks. Every error it returns is a *rag.Error for StageEmbedding.
type Instrumented struct {
	Provider
	logger  *logging.Logger
	metrics *Metrics
}

// Instrument wraps p. A nil logger disables logging.
func Instrument(p Provider, logger *logging.Logger) *Instrumented {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Instrumented{
		Provider: p,
		logger:   logger.Named("embeddings"),
		metrics:  NewMetrics(logger.Underlying()),
	}
}

func (e *Instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	const op = "embed query"
	if text == "" {
		return nil, rag.Inputf(rag.StageEmbedding, "query text is empty")
	}

	start := time.Now()
	vec, err := e.Provider.EmbedQuery(ctx, text)
	if err == nil {
		err = checkVectors(op, [][]float32{vec})
	}
	e.metrics.Record(ctx, e.Model(), "query", time.Since(start), 0, err)
	if err != nil {
		e.logger.Warn(ctx, "query embedding failed", zap.String("model", e.Model()), zap.Error(err))
		return nil, rag.Classify(rag.StageEmbedding, op, err)
	}
	e.logger.Trace(ctx, "embedded query", zap.Int("dimension", len(vec)), zap.Duration("took", time.Since(start)))
	return vec, nil
}

func (e *Instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embed documents"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	vecs, err := e.Provider.EmbedDocuments(ctx, texts)
	if err == nil {
		err = checkCount(op, len(vecs), len(texts))
	}
	if err == nil {
		err = checkVectors(op, vecs)
	}
	e.metrics.Record(ctx, e.Model(), "documents", time.Since(start), len(texts), err)
	if err != nil {
		e.logger.Warn(ctx, "document embedding failed",
			zap.String("model", e.Model()), zap.Int("texts", len(texts)), zap.Error(err))
		return nil, rag.Classify(rag.StageEmbedding, op, err)
	}
	e.logger.Debug(ctx, "embedded documents",
		zap.Int("texts", len(texts)), zap.Duration("took", time.Since(start)))
	return vecs, nil
}

// Probe embeds a fixed string and returns the dimension the backend
// produces. It is called once at startup to size the vector store.
func Probe(ctx context.Context, p Provider) (int, error) {
	vec, err := p.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	if len(vec) == 0 {
		return 0, rag.Configf(rag.StageEmbedding, "model %s returned an empty probe vector", p.Model())
	}
	return len(vec), nil
}

// checkVectors rejects empty and all-zero vectors and batches of mixed
// dimension.
func checkVectors(op string, vecs [][]float32) error {
	want := -1
	for i, v := range vecs {
		if len(v) == 0 {
			return rag.Unavailable(rag.StageEmbedding, op, fmt.Errorf("%w: empty vector at %d", ErrEmbeddingFailed, i))
		}
		if isZero(v) {
			return rag.Unavailable(rag.StageEmbedding, op, fmt.Errorf("%w: zero vector at %d", ErrEmbeddingFailed, i))
		}
		if want == -1 {
			want = len(v)
		} else if len(v) != want {
			return rag.Unavailable(rag.StageEmbedding, op,
				fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrEmbeddingFailed, i, len(v), want))
		}
	}
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
