// Package pipeline runs the retrieval-augmented generation flow over a
// pluggable transport. The same Pipeline serves the in-process and the
// distributed deployment; only the Stages implementation differs.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/assembly"
	"github.com/fyrsmithlabs/ragpipe/internal/chunker"
	"github.com/fyrsmithlabs/ragpipe/internal/ingest"
	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// Config holds the pipeline knobs.
type Config struct {
	TopK             int
	MaxContextLength int
	Temperature      float64
	ChunkSize        int
	ChunkOverlap     int
	Extension        string
}

// Pipeline orchestrates answering and ingestion. It never retries.
type Pipeline struct {
	stages  Stages
	chunker *chunker.Chunker
	cfg     Config
	logger  *logging.Logger
}

// New validates cfg and returns a pipeline over stages.
func New(stages Stages, cfg Config, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = rag.DefaultTopK
	}
	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = assembly.DefaultMaxLength
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize, cfg.ChunkOverlap = chunker.DefaultSize, chunker.DefaultOverlap
	}
	if cfg.Extension == "" {
		cfg.Extension = ingest.DefaultExtension
	}
	c, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		stages:  stages,
		chunker: c,
		cfg:     cfg,
		logger:  logger.Named("pipeline").With(zap.String("mode", string(stages.Mode()))),
	}, nil
}

func (p *Pipeline) Mode() rag.Mode { return p.stages.Mode() }

// Answer embeds the query, retrieves the top matches and generates an
// answer from them. Stage failures degrade into an explanatory answer.
func (p *Pipeline) Answer(ctx context.Context, query string, topK int) rag.AnswerResult {
	ctx, span := tracer.Start(ctx, "Pipeline.Answer")
	defer span.End()

	if topK <= 0 {
		topK = p.cfg.TopK
	}
	span.SetAttributes(attribute.Int("top_k", topK), attribute.String("mode", string(p.Mode())))

	result := rag.AnswerResult{Query: query, Sources: []rag.Source{}, Mode: p.Mode()}
	degrade := func(err error) rag.AnswerResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn(ctx, "answer degraded",
			zap.String("stage", string(rag.StageOf(err))),
			zap.String("kind", rag.KindOf(err).String()),
			zap.Error(err),
		)
		result.Answer = "could not answer: " + err.Error()
		return result
	}

	start := time.Now()
	embedding, err := p.stages.EmbedQuery(ctx, query)
	observeStage(rag.StageEmbedding, p.Mode(), start, err)
	if err != nil {
		return degrade(err)
	}

	start = time.Now()
	matches, err := p.stages.Search(ctx, embedding, topK)
	observeStage(rag.StageRetrieval, p.Mode(), start, err)
	if err != nil {
		return degrade(err)
	}
	if len(matches) == 0 {
		result.Answer = rag.NoDocumentsAnswer
		return result
	}

	contextText, sources := assembly.Build(matches, p.cfg.MaxContextLength)
	prompt := assembly.Prompt(contextText, query)

	start = time.Now()
	answer, err := p.stages.Generate(ctx, prompt, p.cfg.Temperature)
	observeStage(rag.StageGeneration, p.Mode(), start, err)
	if err != nil {
		return degrade(err)
	}

	result.Answer = answer
	result.Sources = sources
	result.ContextUsed = len(matches)
	span.SetAttributes(attribute.Int("context_used", result.ContextUsed))
	return result
}

// Ingest loads, chunks, embeds and stores the requested files. Every
// failure is reported in the result.
func (p *Pipeline) Ingest(ctx context.Context, req rag.IngestRequest) rag.IngestResult {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()

	fail := func(err error) rag.IngestResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn(ctx, "ingest failed", zap.Error(err))
		return rag.IngestError(err)
	}

	docs, err := ingest.Load(ctx, req, p.cfg.Extension, p.logger)
	if err != nil {
		return fail(err)
	}

	var (
		texts     []string
		metadatas []map[string]string
	)
	for _, d := range docs {
		for _, c := range p.chunker.Chunks(d.Source, d.Text) {
			texts = append(texts, c.Text)
			metadatas = append(metadatas, c.Metadata())
		}
	}
	span.SetAttributes(attribute.Int("files", len(docs)), attribute.Int("chunks", len(texts)))
	if len(texts) == 0 {
		return rag.IngestFailed(rag.NothingToIngest)
	}

	start := time.Now()
	embeddings, err := p.stages.EmbedDocuments(ctx, texts)
	observeStage(rag.StageEmbedding, p.Mode(), start, err)
	if err != nil {
		return fail(err)
	}

	start = time.Now()
	added, total, err := p.stages.AddDocuments(ctx, texts, embeddings, metadatas)
	observeStage(rag.StageRetrieval, p.Mode(), start, err)
	if err != nil {
		return fail(err)
	}

	DocumentsIngested.WithLabelValues(string(p.Mode())).Add(float64(added))
	p.logger.Info(ctx, "ingested documents",
		zap.Int("files", len(docs)),
		zap.Int("chunks", added),
		zap.Int("total", total),
	)
	return rag.IngestSucceeded(added, total)
}

// Stats reports the corpus size and model names. A failed count is
// reported as zero documents.
func (p *Pipeline) Stats(ctx context.Context) rag.Stats {
	n, err := p.stages.Count(ctx)
	if err != nil {
		p.logger.Warn(ctx, "count failed", zap.Error(err))
	}
	embedding, generation := p.stages.Models(ctx)
	return rag.Stats{
		TotalDocuments:  n,
		EmbeddingModel:  embedding,
		GenerationModel: generation,
		Mode:            p.Mode(),
	}
}

// Reset drops every stored document.
func (p *Pipeline) Reset(ctx context.Context) rag.ResetResult {
	if err := p.stages.Reset(ctx); err != nil {
		p.logger.Warn(ctx, "reset failed", zap.Error(err))
		return rag.ResetResult{Status: rag.StatusError, Message: err.Error()}
	}
	p.logger.Info(ctx, "collection reset")
	return rag.ResetResult{Status: rag.StatusSuccess, Message: "collection reset"}
}

// Health probes every backend. The pipeline is healthy only when all are.
func (p *Pipeline) Health(ctx context.Context) rag.Health {
	backends := p.stages.Health(ctx)
	h := rag.Health{Status: rag.Healthy, Mode: p.Mode(), Backends: backends}
	for _, state := range backends {
		if state != backendOK {
			h.Status = rag.Unhealthy
		}
	}
	if n, err := p.stages.Count(ctx); err == nil {
		h.Documents = n
	}
	return h
}

func (p *Pipeline) Close() error { return p.stages.Close() }
