package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const (
	backendQdrant = "qdrant"

	payloadText = "text"
	payloadSeq  = "seq"

	defaultMaxMessageSize = 50 * 1024 * 1024
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// Dimension sizes a newly created collection. Zero adopts the vector
	// size of an existing collection.
	Dimension int
}

// QdrantStore implements Store against a Qdrant server.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
	logger *logging.Logger

	mu  sync.RWMutex
	seq atomic.Int64
}

// NewQdrantStore connects to Qdrant and creates the collection if needed.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
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
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(defaultMaxMessageSize),
				grpc.MaxCallSendMsgSize(defaultMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, rag.Configf(rag.StageRetrieval, "creating qdrant client: %v", err)
	}

	s := &QdrantStore{client: client, cfg: cfg, logger: logger.Named("qdrant")}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	n, err := s.count(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.seq.Store(int64(n))

	if !cfg.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}
	logger.Info(ctx, "qdrant store initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", n),
		zap.Int("dimension", s.cfg.Dimension),
	)
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return rag.Unavailable(rag.StageRetrieval, "collection exists", err)
	}
	if !exists {
		if s.cfg.Dimension == 0 {
			return rag.Configf(rag.StageRetrieval,
				"qdrant collection %s does not exist and no vector dimension is configured", s.cfg.Collection)
		}
		return s.createCollection(ctx)
	}

	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return rag.Unavailable(rag.StageRetrieval, "collection info", err)
	}
	stored := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if stored == 0 {
		return rag.Configf(rag.StageRetrieval,
			"qdrant collection %s does not use a single unnamed vector", s.cfg.Collection)
	}
	dim, err := reconcileDimension(s.cfg.Dimension, stored, s.cfg.Collection)
	if err != nil {
		return err
	}
	s.cfg.Dimension = dim
	return nil
}

func (s *QdrantStore) createCollection(ctx context.Context) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return rag.Classify(rag.StageRetrieval, "create collection", fmt.Errorf("creating collection %s: %w", s.cfg.Collection, err))
	}
	return nil
}

func (s *QdrantStore) AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]string) (err error) {
	defer observe(backendQdrant, "add", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(texts)))

	if _, err := validateBatch(s.cfg.Dimension, texts, embeddings, metadatas); err != nil {
		span.RecordError(err)
		return err
	}
	if len(texts) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	first := s.seq.Add(int64(len(texts))) - int64(len(texts))
	points := make([]*qdrant.PointStruct, len(texts))
	for i, text := range texts {
		var md map[string]string
		if metadatas != nil {
			md = metadatas[i]
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: toPayload(text, md, first+int64(i)),
		}
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rag.Classify(rag.StageRetrieval, "add documents", err)
	}
	DocumentsAdded.WithLabelValues(backendQdrant).Add(float64(len(points)))
	s.logger.Debug(ctx, "upserted points", zap.Int("count", len(points)))
	return nil
}

// Search fetches the top k, then refetches everything scoring at least
// the k-th score so that ties straddling the cut are ranked by sequence.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, k int) (matches []rag.Match, err error) {
	defer observe(backendQdrant, "search", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	k = topK(k)
	span.SetAttributes(attribute.Int("k", k))

	if err := checkQuery(s.cfg.Dimension, embedding); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	points, err := s.query(ctx, embedding, uint64(k), nil)
	if err != nil {
		span.RecordError(err)
		return nil, rag.Classify(rag.StageRetrieval, "search", err)
	}
	if len(points) == k {
		total, err := s.count(ctx)
		if err != nil {
			return nil, err
		}
		floor := points[len(points)-1].GetScore()
		points, err = s.query(ctx, embedding, uint64(max(total, k)), &floor)
		if err != nil {
			span.RecordError(err)
			return nil, rag.Classify(rag.StageRetrieval, "search", err)
		}
	}

	cands := make([]ranked, len(points))
	for i, p := range points {
		text, md, seq := fromPayload(p.GetPayload())
		cands[i] = ranked{match: rag.Match{Text: text, Metadata: md, Score: float64(p.GetScore())}, seq: seq}
	}
	matches = rank(cands, k)
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

func (s *QdrantStore) query(ctx context.Context, embedding []float32, limit uint64, threshold *float32) ([]*qdrant.ScoredPoint, error) {
	return s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		ScoreThreshold: threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
}

func (s *QdrantStore) Count(ctx context.Context) (n int, err error) {
	defer observe(backendQdrant, "count", time.Now(), &err)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count(ctx)
}

func (s *QdrantStore) count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.cfg.Collection, Exact: &exact})
	if err != nil {
		return 0, rag.Classify(rag.StageRetrieval, "count", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Reset(ctx context.Context) (err error) {
	defer observe(backendQdrant, "reset", time.Now(), &err)
	ctx, span := tracer.Start(ctx, "QdrantStore.Reset")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		span.RecordError(err)
		return rag.Classify(rag.StageRetrieval, "reset", err)
	}
	if err := s.createCollection(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	s.seq.Store(0)
	s.logger.Info(ctx, "collection reset", zap.String("collection", s.cfg.Collection))
	return nil
}

// HealthCheck pings the server.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return rag.Classify(rag.StageRetrieval, "health check", err)
	}
	return nil
}

func (s *QdrantStore) Dimension() int { return s.cfg.Dimension }

func (s *QdrantStore) Close() error { return s.client.Close() }

func toPayload(text string, md map[string]string, seq int64) map[string]*qdrant.Value {
	fields := make(map[string]any, len(md)+2)
	for k, v := range md {
		fields[k] = v
	}
	fields[payloadText] = text
	fields[payloadSeq] = seq
	return qdrant.NewValueMap(fields)
}

// fromPayload splits a point payload into text, string metadata and
// sequence. Non-string metadata values are dropped.
func fromPayload(payload map[string]*qdrant.Value) (string, map[string]string, int64) {
	var (
		text string
		seq  int64 = math.MaxInt64
	)
	md := make(map[string]string, len(payload))
	for k, v := range payload {
		switch k {
		case payloadText:
			text = v.GetStringValue()
		case payloadSeq:
			seq = v.GetIntegerValue()
		default:
			if sv, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
				md[k] = sv.StringValue
			}
		}
	}
	return text, md, seq
}
