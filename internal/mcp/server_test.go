package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

type fakePipeline struct {
	mu      sync.Mutex
	queries []string
	topKs   []int
	ingests []rag.IngestRequest

	ingest rag.IngestResult
	reset  rag.ResetResult
}

func (f *fakePipeline) Mode() rag.Mode { return rag.ModeLocal }

func (f *fakePipeline) Answer(_ context.Context, query string, topK int) rag.AnswerResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.topKs = append(f.topKs, topK)
	return rag.AnswerResult{
		Query:       query,
		Answer:      "Vacation is 25 days.",
		Sources:     []rag.Source{{Source: "handbook.txt", Score: 0.91, Excerpt: "Vacation is 25 days per year..."}},
		ContextUsed: 1,
		Mode:        rag.ModeLocal,
	}
}

func (f *fakePipeline) Ingest(_ context.Context, req rag.IngestRequest) rag.IngestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingests = append(f.ingests, req)
	return f.ingest
}

func (f *fakePipeline) Stats(context.Context) rag.Stats {
	return rag.Stats{TotalDocuments: 7, EmbeddingModel: "BAAI/bge-small-en-v1.5", GenerationModel: "llama3.2:3b", Mode: rag.ModeLocal}
}

func (f *fakePipeline) Reset(context.Context) rag.ResetResult { return f.reset }

func connect(t *testing.T, p Pipeline, logger *logging.Logger) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv, err := NewServer(&Config{Logger: logger}, p)
	require.NoError(t, err)

	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func text(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestNewServer_RequiresPipeline(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.EqualError(t, err, "pipeline is required")
}

func TestListTools(t *testing.T) {
	cs := connect(t, &fakePipeline{}, nil)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolQuery, ToolIngest, ToolStats, ToolReset}, names)
}

func TestQueryTool(t *testing.T) {
	p := &fakePipeline{}
	cs := connect(t, p, nil)

	res := call(t, cs, ToolQuery, map[string]any{"query": "How long is vacation?", "top_k": 2})
	require.False(t, res.IsError, text(res))
	assert.Equal(t, "Vacation is 25 days.", text(res))

	out := decode[queryOutput](t, res)
	assert.Equal(t, "How long is vacation?", out.Query)
	assert.Equal(t, 1, out.ContextUsed)
	assert.Equal(t, "local", out.Mode)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "handbook.txt", out.Sources[0].Source)
	assert.Equal(t, []int{2}, p.topKs)
}

func TestQueryTool_EmptyQueryIsToolError(t *testing.T) {
	p := &fakePipeline{}
	log := logging.NewTestLogger()
	cs := connect(t, p, log.Logger)

	res := call(t, cs, ToolQuery, map[string]any{"query": "   "})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "query must not be empty")
	assert.Empty(t, p.queries)
	log.AssertLogged(t, zapcore.WarnLevel, "tool failed")
}

func TestIngestTool(t *testing.T) {
	p := &fakePipeline{ingest: rag.IngestSucceeded(4, 10)}
	cs := connect(t, p, nil)

	res := call(t, cs, ToolIngest, map[string]any{"directory_path": "/docs", "file_paths": []string{"/extra/a.txt"}})
	require.False(t, res.IsError, text(res))

	out := decode[ingestOutput](t, res)
	assert.Equal(t, ingestOutput{Status: "success", ChunksAdded: 4, TotalDocuments: 10}, out)
	require.Len(t, p.ingests, 1)
	assert.Equal(t, rag.IngestRequest{Files: []string{"/extra/a.txt"}, Directory: "/docs"}, p.ingests[0])
}

func TestIngestTool_Failures(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		result  rag.IngestResult
		wantMsg string
	}{
		{"no inputs", map[string]any{}, rag.IngestResult{}, "directory_path or file_paths is required"},
		{"nothing to ingest", map[string]any{"directory_path": "/empty"}, rag.IngestFailed(rag.NothingToIngest), rag.NothingToIngest},
		{"backend down", map[string]any{"directory_path": "/docs"},
			rag.IngestError(rag.Unavailable(rag.StageEmbedding, "embed", errors.New("connection refused"))), "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := connect(t, &fakePipeline{ingest: tt.result}, nil)
			res := call(t, cs, ToolIngest, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, text(res), tt.wantMsg)
		})
	}
}

func TestStatsTool(t *testing.T) {
	cs := connect(t, &fakePipeline{}, nil)

	res := call(t, cs, ToolStats, map[string]any{})
	require.False(t, res.IsError, text(res))

	out := decode[statsOutput](t, res)
	assert.Equal(t, 7, out.TotalDocuments)
	assert.Equal(t, "llama3.2:3b", out.GenerationModel)
	assert.Contains(t, text(res), "7 documents")
}

func TestResetTool(t *testing.T) {
	cs := connect(t, &fakePipeline{reset: rag.ResetResult{Status: rag.StatusSuccess, Message: "collection reset"}}, nil)
	res := call(t, cs, ToolReset, map[string]any{})
	require.False(t, res.IsError, text(res))
	assert.Equal(t, resetOutput{Status: "success", Message: "collection reset"}, decode[resetOutput](t, res))

	cs = connect(t, &fakePipeline{reset: rag.ResetResult{Status: rag.StatusError, Message: "store unreachable"}}, nil)
	res = call(t, cs, ToolReset, map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "store unreachable")
}
