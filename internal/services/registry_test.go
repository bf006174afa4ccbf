package services

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragpipe/internal/config"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
	"github.com/fyrsmithlabs/ragpipe/internal/rpc"
	"github.com/fyrsmithlabs/ragpipe/internal/vectorstore"
)

type stubEmbedder struct{ dim int }

func (s stubEmbedder) vec() []float32 {
	v := make([]float32, s.dim)
	v[0] = 1
	return v
}

func (s stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) { return s.vec(), nil }

func (s stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec()
	}
	return out, nil
}

func (s stubEmbedder) Dimension() int { return s.dim }
func (s stubEmbedder) Model() string  { return "stub-embed" }
func (s stubEmbedder) Close() error   { return nil }

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string, float64) (string, error) { return "ok", nil }
func (stubGenerator) Ping(context.Context) error                                { return nil }
func (stubGenerator) Model() string                                             { return "stub-gen" }
func (stubGenerator) Close() error                                              { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.VectorStore.Path = t.TempDir()
	return cfg
}

func TestNewRegistry_InvalidMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Mode = "hybrid"
	_, err := NewRegistry(Options{Config: cfg})
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestRegistry_LocalPipelineBuiltOnce(t *testing.T) {
	reg, err := NewRegistry(Options{
		Config:    testConfig(t),
		Embedder:  stubEmbedder{dim: 4},
		Generator: stubGenerator{},
	})
	require.NoError(t, err)
	defer reg.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := reg.Pipeline(ctx)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()
	for _, p := range results[1:] {
		assert.Same(t, results[0], p)
	}

	store, err := reg.Store(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, store.Dimension(), "store is sized by the embedder probe")

	p, err := reg.Pipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, rag.ModeLocal, p.Mode())
	stats := p.Stats(ctx)
	assert.Equal(t, "stub-embed", stats.EmbeddingModel)
	assert.Equal(t, "stub-gen", stats.GenerationModel)
}

func TestRegistry_DimensionConflict(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorStore.Dimension = 3
	reg, err := NewRegistry(Options{Config: cfg, Embedder: stubEmbedder{dim: 4}, Generator: stubGenerator{}})
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.Pipeline(context.Background())
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestRegistry_RemoteModeDialsLazily(t *testing.T) {
	reg, err := NewRegistry(Options{Config: testConfig(t), Mode: rag.ModeRemote})
	require.NoError(t, err)

	p, err := reg.Pipeline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rag.ModeRemote, p.Mode())

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close(), "close is idempotent")
}

func TestRegistry_StandaloneStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorStore.Dimension = 8
	reg, err := NewRegistry(Options{Config: cfg})
	require.NoError(t, err)
	defer reg.Close()

	store, err := reg.Store(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, store.Dimension())
}

func serveRemote(t *testing.T, cfg *config.Config, emb stubEmbedder, store vectorstore.Store) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := rpc.NewServer(rpc.ServerConfig{}, nil)
	srv.RegisterEmbedding(emb)
	srv.RegisterVector(store)
	srv.RegisterGeneration(stubGenerator{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Shutdown)

	addr := lis.Addr().String()
	cfg.Remote.EmbeddingAddr = addr
	cfg.Remote.VectorAddr = addr
	cfg.Remote.GenerationAddr = addr
}

func TestRegistry_RemoteDimensionConflict(t *testing.T) {
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Collection: "docs", Dimension: 3}, nil)
	require.NoError(t, err)
	cfg := testConfig(t)
	serveRemote(t, cfg, stubEmbedder{dim: 4}, store)

	reg, err := NewRegistry(Options{Config: cfg, Mode: rag.ModeRemote})
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.Pipeline(context.Background())
	assert.ErrorIs(t, err, rag.ErrConfiguration)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestRegistry_RemoteDimensionsAgree(t *testing.T) {
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Collection: "docs", Dimension: 4}, nil)
	require.NoError(t, err)
	cfg := testConfig(t)
	serveRemote(t, cfg, stubEmbedder{dim: 4}, store)

	reg, err := NewRegistry(Options{Config: cfg, Mode: rag.ModeRemote})
	require.NoError(t, err)
	defer reg.Close()

	p, err := reg.Pipeline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rag.ModeRemote, p.Mode())
}
