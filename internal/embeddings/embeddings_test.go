package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// stubProvider returns canned vectors.
type stubProvider struct {
	vecs  [][]float32
	err   error
	calls int
}

func (s *stubProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vecs[0], nil
}

func (s *stubProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	s.calls++
	return s.vecs, s.err
}

func (s *stubProvider) Dimension() int { return 3 }
func (s *stubProvider) Model() string  { return "stub" }
func (s *stubProvider) Close() error   { return nil }

// stubEmbedder records what the langchaingo layer was asked to embed.
type stubEmbedder struct {
	queries []string
	docs    [][]string
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.docs = append(s.docs, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3, 4}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.queries = append(s.queries, text)
	return []float32{1, 2, 3, 4}, nil
}

func TestNewProvider_Errors(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "tei", Model: "m"})
	assert.ErrorIs(t, err, rag.ErrConfiguration)

	_, err = NewProvider(ProviderConfig{Provider: ProviderOllama})
	assert.ErrorIs(t, err, rag.ErrConfiguration)

	_, err = NewProvider(ProviderConfig{Provider: ProviderOllama, Model: "nomic-embed-text", BaseURL: "not a url"})
	assert.ErrorIs(t, err, rag.ErrConfiguration)

	_, err = NewProvider(ProviderConfig{Provider: ProviderOpenAI, Model: "text-embedding-3-small"})
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestNewProvider_RemoteProviders(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: ProviderOllama, Model: "nomic-embed-text", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", p.Model())
	assert.Equal(t, 768, p.Dimension())

	p, err = NewProvider(ProviderConfig{Provider: ProviderOpenAI, Model: "text-embedding-3-small", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())
}

func TestOllamaProvider_E5Prefixes(t *testing.T) {
	stub := &stubEmbedder{}
	p := newOllamaProvider(stub, "jeffh/intfloat-multilingual-e5-small:f16")

	_, err := p.EmbedQuery(context.Background(), "vacation policy")
	require.NoError(t, err)
	_, err = p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"query: vacation policy"}, stub.queries)
	assert.Equal(t, [][]string{{"passage: a", "passage: b"}}, stub.docs)
	assert.Equal(t, 4, p.Dimension(), "dimension follows the backend")
}

func TestOllamaProvider_NoPrefixForOtherModels(t *testing.T) {
	stub := &stubEmbedder{}
	p := newOllamaProvider(stub, "nomic-embed-text")

	_, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, stub.queries)
}

func TestOllamaProvider_EmptyBatch(t *testing.T) {
	stub := &stubEmbedder{}
	p := newOllamaProvider(stub, "nomic-embed-text")

	vecs, err := p.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Empty(t, stub.docs, "no backend call for an empty batch")
}

func TestOpenAIProvider_OrdersByIndex(t *testing.T) {
	var got openai.EmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(srv.URL, "", "m")
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, p.Dimension())
	assert.Equal(t, "m", string(got.Model))
}

func TestOpenAIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(srv.URL, "", "m")
	require.NoError(t, err)

	_, err = Instrument(p, nil).EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, rag.ErrBackendUnavailable)
	assert.Equal(t, rag.StageEmbedding, rag.StageOf(err))
}

func TestInstrumented_CountMismatch(t *testing.T) {
	e := Instrument(&stubProvider{vecs: [][]float32{{1, 2, 3}}}, nil)

	_, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, rag.ErrBackendUnavailable)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestInstrumented_MixedDimensions(t *testing.T) {
	e := Instrument(&stubProvider{vecs: [][]float32{{1, 2, 3}, {1, 2}}}, nil)

	_, err := e.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, rag.ErrBackendUnavailable)
}

func TestInstrumented_EmptyInputs(t *testing.T) {
	stub := &stubProvider{vecs: [][]float32{{1, 2, 3}}}
	e := Instrument(stub, nil)

	vecs, err := e.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)

	_, err = e.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, rag.ErrInput)
	assert.Zero(t, stub.calls)
}

func TestInstrumented_ClassifiesErrors(t *testing.T) {
	e := Instrument(&stubProvider{err: context.DeadlineExceeded}, nil)
	_, err := e.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, rag.ErrTimeout)

	e = Instrument(&stubProvider{err: errors.New("connection refused")}, nil)
	_, err = e.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, rag.ErrBackendUnavailable)
}

func TestDetectDimensionFromModel(t *testing.T) {
	assert.Equal(t, 384, detectDimensionFromModel("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 3072, detectDimensionFromModel("text-embedding-3-large"))
	assert.Equal(t, 384, detectDimensionFromModel("intfloat/multilingual-e5-small"))
	assert.Equal(t, 0, detectDimensionFromModel("mystery"))
}

func TestInstrumented_RejectsZeroVector(t *testing.T) {
	e := Instrument(&stubProvider{vecs: [][]float32{{0, 0, 0}}}, nil)

	_, err := e.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, rag.ErrBackendUnavailable)
	assert.ErrorContains(t, err, "zero vector")
}

func TestProbe(t *testing.T) {
	dim, err := Probe(context.Background(), &stubProvider{vecs: [][]float32{{1, 2, 3}}})
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	_, err = Probe(context.Background(), &stubProvider{vecs: [][]float32{{}}})
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}
