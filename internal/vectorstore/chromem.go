package vectorstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const backendChromem = "chromem"

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Collection defaults to "onboarding_docs".
	Collection string

	// Dimension is the expected embedding length. Zero adopts the length
	// of the documents already stored, or of the first batch added.
	Dimension int
}

// ChromemStore implements Store on an embedded chromem-go database.
//
// chromem-go ranks with a map-backed scan, so ties come back in arbitrary
// order. Search therefore asks for every document and re-ranks by the
// insertion sequence kept in metadata.
type ChromemStore struct {
	db     *chromem.DB
	cfg    ChromemConfig
	logger *logging.Logger

	// mu is held shared by add/search/count and exclusively by Reset.
	mu         sync.RWMutex
	collection *chromem.Collection
	seq        atomic.Int64
	dim        atomic.Int64
}

// NewChromemStore opens or creates the store at cfg.Path.
func NewChromemStore(cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "onboarding_docs"
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, rag.Configf(rag.StageRetrieval, "%v", err)
	}
	if cfg.Dimension < 0 {
		return nil, rag.Configf(rag.StageRetrieval, "vector dimension must not be negative")
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, rag.Configf(rag.StageRetrieval, "creating directory %s: %v", cfg.Path, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, rag.Configf(rag.StageRetrieval, "opening chromem db at %s: %v", cfg.Path, err)
		}
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, rag.Configf(rag.StageRetrieval, "opening collection %s: %v", cfg.Collection, err)
	}

	stored, err := storedDimension(db, cfg.Collection)
	if err != nil {
		return nil, err
	}
	dim, err := reconcileDimension(cfg.Dimension, stored, cfg.Collection)
	if err != nil {
		return nil, err
	}

	s := &ChromemStore{db: db, cfg: cfg, logger: logger.Named("chromem"), collection: collection}
	s.seq.Store(int64(collection.Count()))
	s.dim.Store(int64(dim))

	logger.Info(context.Background(), "chromem store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", collection.Count()),
		zap.Int("dimension", dim),
	)
	return s, nil
}

// storedDimension returns the embedding length of the documents in
// collection, or 0 when it is empty. chromem-go exposes stored embeddings
// only through its gob export, which is decoded into the one field needed.
func storedDimension(db *chromem.DB, collection string) (int, error) {
	var buf bytes.Buffer
	if err := db.ExportToWriter(&buf, false, "", collection); err != nil {
		return 0, rag.Configf(rag.StageRetrieval, "reading collection %s: %v", collection, err)
	}
	var snapshot struct {
		Collections map[string]*struct {
			Documents map[string]*struct{ Embedding []float32 }
		}
	}
	if err := gob.NewDecoder(&buf).Decode(&snapshot); err != nil {
		return 0, rag.Configf(rag.StageRetrieval, "decoding collection %s: %v", collection, err)
	}
	c := snapshot.Collections[collection]
	if c == nil {
		return 0, nil
	}
	dim := 0
	for _, doc := range c.Documents {
		switch n := len(doc.Embedding); {
		case dim == 0:
			dim = n
		case n != dim:
			return 0, rag.Configf(rag.StageRetrieval,
				"collection %s holds vectors of mixed dimension (%d and %d)", collection, dim, n)
		}
	}
	return dim, nil
}

// noEmbedding is installed as the collection's embedding function. Every
// document and query arrives already embedded, so reaching it is a bug.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store does not embed text")
}

func (s *ChromemStore) AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]string) (err error) {
	defer observe(backendChromem, "add", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(texts)))

	s.mu.RLock()
	defer s.mu.RUnlock()

	dim, err := validateBatch(s.Dimension(), texts, embeddings, metadatas)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(texts) == 0 {
		return nil
	}
	collection, err := s.current()
	if err != nil {
		return err
	}
	// Concurrent first batches race to fix the dimension; the loser fails.
	if !s.dim.CompareAndSwap(0, int64(dim)) {
		if want := s.Dimension(); want != dim {
			err := dimensionError(want, dim, 0)
			span.RecordError(err)
			return err
		}
	}

	first := s.seq.Add(int64(len(texts))) - int64(len(texts))
	docs := make([]chromem.Document, len(texts))
	for i, text := range texts {
		var md map[string]string
		if metadatas != nil {
			md = metadatas[i]
		}
		docs[i] = chromem.Document{
			ID:        uuid.NewString(),
			Content:   text,
			Metadata:  withSeq(md, first+int64(i)),
			Embedding: embeddings[i],
		}
	}

	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rag.Classify(rag.StageRetrieval, "add documents", err)
	}
	DocumentsAdded.WithLabelValues(backendChromem).Add(float64(len(docs)))

	s.logger.Debug(ctx, "added documents", zap.Int("count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, embedding []float32, k int) (matches []rag.Match, err error) {
	defer observe(backendChromem, "search", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	k = topK(k)
	span.SetAttributes(attribute.Int("k", k))

	if err := checkQuery(s.Dimension(), embedding); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	collection, err := s.current()
	if err != nil {
		return nil, err
	}
	n := collection.Count()
	if n == 0 {
		return []rag.Match{}, nil
	}
	results, err := collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, rag.Classify(rag.StageRetrieval, "search", err)
	}

	cands := make([]ranked, len(results))
	for i, r := range results {
		md, seq := splitSeq(r.Metadata)
		cands[i] = ranked{
			match: rag.Match{Text: r.Content, Metadata: md, Score: float64(r.Similarity)},
			seq:   seq,
		}
	}
	matches = rank(cands, k)

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	s.logger.Trace(ctx, "searched collection", zap.Int("k", k), zap.Int("results", len(matches)))
	return matches, nil
}

func (s *ChromemStore) Count(_ context.Context) (n int, err error) {
	defer observe(backendChromem, "count", time.Now(), &err)
	s.mu.RLock()
	defer s.mu.RUnlock()
	collection, err := s.current()
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

// current returns the live collection. It is nil only after a Reset that
// deleted the collection but failed to recreate it; the next Reset retries.
// Callers hold mu.
func (s *ChromemStore) current() (*chromem.Collection, error) {
	if s.collection == nil {
		return nil, rag.Unavailable(rag.StageRetrieval, "collection",
			fmt.Errorf("collection %s is missing after a failed reset", s.cfg.Collection))
	}
	return s.collection, nil
}

// Reset deletes and recreates the collection under the exclusive lock.
func (s *ChromemStore) Reset(ctx context.Context) (err error) {
	defer observe(backendChromem, "reset", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "ChromemStore.Reset")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.cfg.Collection); err != nil {
		span.RecordError(err)
		return rag.Classify(rag.StageRetrieval, "reset", fmt.Errorf("deleting collection %s: %w", s.cfg.Collection, err))
	}
	// DeleteCollection dropped the old handle from the db.
	s.collection = nil
	collection, err := s.db.CreateCollection(s.cfg.Collection, nil, noEmbedding)
	if err != nil {
		span.RecordError(err)
		return rag.Classify(rag.StageRetrieval, "reset", fmt.Errorf("recreating collection %s: %w", s.cfg.Collection, err))
	}
	s.collection = collection
	s.seq.Store(0)
	s.dim.Store(int64(s.cfg.Dimension))

	s.logger.Info(ctx, "collection reset", zap.String("collection", s.cfg.Collection))
	return nil
}

func (s *ChromemStore) Dimension() int { return int(s.dim.Load()) }

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error { return nil }
