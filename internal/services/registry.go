package services

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/ragpipe/internal/config"
	"github.com/fyrsmithlabs/ragpipe/internal/embeddings"
	"github.com/fyrsmithlabs/ragpipe/internal/generation"
	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/pipeline"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
	"github.com/fyrsmithlabs/ragpipe/internal/rpc"
	"github.com/fyrsmithlabs/ragpipe/internal/vectorstore"
)

// Registry provides access to the configured backends and the pipeline
// built on them.
type Registry interface {
	Config() *config.Config
	Logger() *logging.Logger
	Mode() rag.Mode
	Embedder(ctx context.Context) (embeddings.Provider, error)
	Store(ctx context.Context) (vectorstore.Store, error)
	Generator(ctx context.Context) (generation.Generator, error)
	Pipeline(ctx context.Context) (*pipeline.Pipeline, error)
	Close() error
}

// Options configures the registry. Preset backends are used as given
// instead of being built from Config.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
	// Mode overrides Config.Server.Mode when set.
	Mode rag.Mode

	Embedder  embeddings.Provider
	Store     vectorstore.Store
	Generator generation.Generator
}

type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(build func() (T, error)) (T, error) {
	l.once.Do(func() { l.val, l.err = build() })
	return l.val, l.err
}

// registry is the concrete implementation of Registry.
type registry struct {
	cfg    *config.Config
	logger *logging.Logger
	mode   rag.Mode

	embedder  lazy[embeddings.Provider]
	store     lazy[vectorstore.Store]
	generator lazy[generation.Generator]
	pipeline  lazy[*pipeline.Pipeline]

	mu        sync.Mutex
	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewRegistry creates a registry. It fails only when the mode is invalid.
func NewRegistry(opts Options) (Registry, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	mode := opts.Mode
	if mode == "" {
		m, err := rag.ParseMode(opts.Config.Server.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}
	r := &registry{cfg: opts.Config, logger: opts.Logger.Named("services"), mode: mode}
	if opts.Embedder != nil {
		r.embedder.get(func() (embeddings.Provider, error) { return opts.Embedder, nil })
	}
	if opts.Store != nil {
		r.store.get(func() (vectorstore.Store, error) { return opts.Store, nil })
	}
	if opts.Generator != nil {
		r.generator.get(func() (generation.Generator, error) { return opts.Generator, nil })
	}
	return r, nil
}

func (r *registry) Config() *config.Config  { return r.cfg }
func (r *registry) Logger() *logging.Logger { return r.logger }
func (r *registry) Mode() rag.Mode          { return r.mode }

func (r *registry) track(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

func (r *registry) Embedder(ctx context.Context) (embeddings.Provider, error) {
	return r.embedder.get(func() (embeddings.Provider, error) {
		c := r.cfg.Embeddings
		cacheDir, err := config.ExpandPath(c.CacheDir)
		if err != nil {
			return nil, rag.Configf(rag.StageEmbedding, "embeddings.cache_dir: %v", err)
		}
		p, err := embeddings.NewProvider(embeddings.ProviderConfig{
			Provider: c.Provider,
			Model:    c.Model,
			BaseURL:  c.BaseURL,
			APIKey:   c.APIKey.Value(),
			CacheDir: cacheDir,
		})
		if err != nil {
			return nil, err
		}
		r.track(p)
		r.logger.Info(ctx, "embedding provider ready",
			zap.String("provider", c.Provider),
			zap.String("model", c.Model),
		)
		return embeddings.Instrument(p, r.logger), nil
	})
}

// Store builds the vector store sized by vectorstore.dimension.
func (r *registry) Store(ctx context.Context) (vectorstore.Store, error) {
	return r.storeWithDimension(ctx, r.cfg.VectorStore.Dimension)
}

func (r *registry) storeWithDimension(ctx context.Context, dim int) (vectorstore.Store, error) {
	return r.store.get(func() (vectorstore.Store, error) {
		c := r.cfg.VectorStore
		path := c.Path
		if path != "" {
			expanded, err := config.ExpandPath(path)
			if err != nil {
				return nil, rag.Configf(rag.StageRetrieval, "vectorstore.path: %v", err)
			}
			path = expanded
		}
		s, err := vectorstore.New(ctx, vectorstore.Config{
			Provider:     c.Provider,
			Collection:   c.Collection,
			Dimension:    dim,
			Path:         path,
			Compress:     c.Compress,
			QdrantHost:   c.QdrantHost,
			QdrantPort:   c.QdrantPort,
			QdrantAPIKey: c.QdrantAPIKey.Value(),
			QdrantTLS:    c.QdrantTLS,
		}, r.logger)
		if err != nil {
			return nil, err
		}
		r.track(s)
		return s, nil
	})
}

func (r *registry) Generator(ctx context.Context) (generation.Generator, error) {
	return r.generator.get(func() (generation.Generator, error) {
		c := r.cfg.Generation
		g, err := generation.New(generation.Config{
			Provider: c.Provider,
			Model:    c.Model,
			BaseURL:  c.BaseURL,
			APIKey:   c.APIKey.Value(),
			Timeout:  c.Timeout.Duration(),
		}, r.logger)
		if err != nil {
			return nil, err
		}
		r.track(g)
		r.logger.Info(ctx, "generator ready",
			zap.String("provider", c.Provider),
			zap.String("model", c.Model),
		)
		return g, nil
	})
}

// Pipeline builds the pipeline for the registry's mode.
func (r *registry) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	return r.pipeline.get(func() (*pipeline.Pipeline, error) {
		var (
			stages pipeline.Stages
			err    error
		)
		if r.mode == rag.ModeRemote {
			stages, err = r.remoteStages(ctx)
		} else {
			stages, err = r.localStages(ctx)
		}
		if err != nil {
			return nil, err
		}
		p := r.cfg.Pipeline
		return pipeline.New(stages, pipeline.Config{
			TopK:             p.TopK,
			MaxContextLength: p.MaxContextLength,
			Temperature:      p.Temperature,
			ChunkSize:        p.ChunkSize,
			ChunkOverlap:     p.ChunkOverlap,
			Extension:        p.Extension,
		}, r.logger)
	})
}

// localStages probes the embedder once so the store is sized to match it.
func (r *registry) localStages(ctx context.Context) (pipeline.Stages, error) {
	emb, err := r.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	dim, err := embeddings.Probe(ctx, emb)
	if err != nil {
		return nil, err
	}
	if want := r.cfg.VectorStore.Dimension; want != 0 && want != dim {
		return nil, rag.Configf(rag.StageEmbedding,
			"model %s produces %d-dimensional vectors but vectorstore.dimension is %d", emb.Model(), dim, want)
	}
	store, err := r.storeWithDimension(ctx, dim)
	if err != nil {
		return nil, err
	}
	if got := store.Dimension(); got != 0 && got != dim {
		return nil, rag.Configf(rag.StageRetrieval, "store expects %d-dimensional vectors, embedder produces %d", got, dim)
	}
	gen, err := r.Generator(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewLocalStages(emb, store, gen), nil
}

// remoteStages dials the stage services and checks that the embedding and
// vector services agree on the vector dimension. Services that cannot be
// reached yet are left to fail on first use.
func (r *registry) remoteStages(ctx context.Context) (pipeline.Stages, error) {
	rc := r.cfg.Remote
	client := func(timeout config.Duration) rpc.ClientConfig {
		return rpc.ClientConfig{
			Timeout:         timeout.Duration(),
			MaxAttempts:     rc.MaxReadRetries,
			BreakerFailures: uint32(max(rc.BreakerFailures, 0)),
			BreakerCooldown: rc.BreakerCooldown.Duration(),
		}
	}
	var conns []io.Closer
	dial := func(addr string) (*grpc.ClientConn, error) {
		conn, err := rpc.Dial(addr)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, err
		}
		conns = append(conns, conn)
		return conn, nil
	}

	embedConn, err := dial(rc.EmbeddingAddr)
	if err != nil {
		return nil, err
	}
	vectorConn, err := dial(rc.VectorAddr)
	if err != nil {
		return nil, err
	}
	genConn, err := dial(rc.GenerationAddr)
	if err != nil {
		return nil, err
	}

	stages := pipeline.NewRemoteStages(
		rpc.NewEmbeddingClient(embedConn, client(rc.EmbedTimeout), r.logger),
		rpc.NewVectorClient(vectorConn, client(rc.SearchTimeout), r.logger),
		rpc.NewGenerationClient(genConn, client(rc.GenerateTimeout), r.logger),
	)
	if err := stages.CheckDimensions(ctx); err != nil {
		if k := rag.KindOf(err); k != rag.KindBackendUnavailable && k != rag.KindTimeout {
			_ = stages.Close()
			return nil, err
		}
		r.logger.Warn(ctx, "skipping remote dimension check", zap.Error(err))
	}
	r.track(stages)
	r.logger.Info(ctx, "remote stages configured",
		zap.String("embedding", rc.EmbeddingAddr),
		zap.String("vector", rc.VectorAddr),
		zap.String("generation", rc.GenerationAddr),
	)
	return stages, nil
}

// Close releases every backend that was built, in reverse order.
func (r *registry) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			errs = append(errs, r.closers[i].Close())
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
