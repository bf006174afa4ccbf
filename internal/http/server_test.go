package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

type fakePipeline struct {
	query   string
	topK    int
	ingest  rag.IngestRequest
	result  rag.IngestResult
	reset   rag.ResetResult
	healthy bool
}

func (f *fakePipeline) Mode() rag.Mode { return rag.ModeLocal }

func (f *fakePipeline) Answer(_ context.Context, query string, topK int) rag.AnswerResult {
	f.query, f.topK = query, topK
	return rag.AnswerResult{
		Query:       query,
		Answer:      "Vacation is 25 days.",
		Sources:     []rag.Source{{Source: "handbook.txt", Score: 0.9123, Excerpt: "Vacation..."}},
		ContextUsed: 1,
		Mode:        rag.ModeLocal,
	}
}

func (f *fakePipeline) Ingest(_ context.Context, req rag.IngestRequest) rag.IngestResult {
	f.ingest = req
	return f.result
}

func (f *fakePipeline) Stats(context.Context) rag.Stats {
	return rag.Stats{TotalDocuments: 7, EmbeddingModel: "e", GenerationModel: "g", Mode: rag.ModeLocal}
}

func (f *fakePipeline) Reset(context.Context) rag.ResetResult { return f.reset }

func (f *fakePipeline) Health(context.Context) rag.Health {
	status := rag.Unhealthy
	if f.healthy {
		status = rag.Healthy
	}
	return rag.Health{Status: status, Mode: rag.ModeLocal, Documents: 7}
}

func setupTestServer(t *testing.T, p *fakePipeline) *Server {
	t.Helper()
	s, err := NewServer(p, logging.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, logging.NewNop(), nil)
	assert.ErrorContains(t, err, "pipeline cannot be nil")

	_, err = NewServer(&fakePipeline{}, nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(&fakePipeline{}, logging.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8001, s.config.Port)
}

func TestHandleRoot(t *testing.T) {
	rec := do(t, setupTestServer(t, &fakePipeline{}), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "local", resp.Mode)
	assert.Contains(t, resp.Endpoints, "POST /query")
}

func TestHandleHealth(t *testing.T) {
	rec := do(t, setupTestServer(t, &fakePipeline{healthy: true}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","mode":"local","documents":7}`, rec.Body.String())

	rec = do(t, setupTestServer(t, &fakePipeline{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleQuery(t *testing.T) {
	p := &fakePipeline{}
	s := setupTestServer(t, p)

	rec := do(t, s, http.MethodPost, "/query", `{"query":"How long is vacation?","top_k":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "How long is vacation?", p.query)
	assert.Equal(t, 3, p.topK)

	var resp rag.AnswerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Vacation is 25 days.", resp.Answer)
	assert.Equal(t, 1, resp.ContextUsed)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "handbook.txt", resp.Sources[0].Source)

	t.Run("missing query", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/query", `{"top_k":3}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/query", `{"query":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleIngest(t *testing.T) {
	tests := []struct {
		name   string
		result rag.IngestResult
		code   int
		body   string
	}{
		{"success", rag.IngestSucceeded(2, 5), http.StatusOK, `{"status":"success","chunks_added":2,"total_documents":5}`},
		{"nothing to ingest", rag.IngestFailed(rag.NothingToIngest), http.StatusBadRequest, `{"status":"error","message":"no documents to ingest"}`},
		{"input error", rag.IngestError(rag.Inputf(rag.StageIngest, "directory not found")), http.StatusBadRequest, ""},
		{"backend down", rag.IngestError(rag.Unavailable(rag.StageEmbedding, "embed", errors.New("down"))), http.StatusServiceUnavailable, ""},
		{"timeout", rag.IngestError(&rag.Error{Kind: rag.KindTimeout, Stage: rag.StageRetrieval}), http.StatusGatewayTimeout, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{result: tt.result}
			rec := do(t, setupTestServer(t, p), http.MethodPost, "/ingest", `{"directory_path":"docs","file_paths":["a.txt"]}`)
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
			assert.Equal(t, rag.IngestRequest{Files: []string{"a.txt"}, Directory: "docs"}, p.ingest)
		})
	}

	rec := do(t, setupTestServer(t, &fakePipeline{}), http.MethodPost, "/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatsAndReset(t *testing.T) {
	p := &fakePipeline{reset: rag.ResetResult{Status: rag.StatusSuccess, Message: "collection reset"}}
	s := setupTestServer(t, p)

	rec := do(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_documents":7,"embedding_model":"e","generation_model":"g","mode":"local"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	p.reset = rag.ResetResult{Status: rag.StatusError, Message: "store down"}
	rec = do(t, s, http.MethodPost, "/reset", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, setupTestServer(t, &fakePipeline{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
