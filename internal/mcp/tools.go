package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// Tool names.
const (
	ToolQuery  = "rag_query"
	ToolIngest = "rag_ingest"
	ToolStats  = "rag_stats"
	ToolReset  = "rag_reset"
)

type queryInput struct {
	Query string `json:"query" jsonschema:"Question to answer from the ingested documents"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Number of chunks to retrieve (default: 5)"`
}

type sourceOutput struct {
	Source  string  `json:"source" jsonschema:"File the chunk came from"`
	Score   float64 `json:"score" jsonschema:"Cosine similarity to the query"`
	Excerpt string  `json:"excerpt" jsonschema:"Leading excerpt of the chunk"`
}

type queryOutput struct {
	Query       string         `json:"query"`
	Answer      string         `json:"answer"`
	Sources     []sourceOutput `json:"sources"`
	ContextUsed int            `json:"context_used" jsonschema:"Number of chunks placed in the prompt"`
	Mode        string         `json:"mode"`
}

type ingestInput struct {
	DirectoryPath string   `json:"directory_path,omitempty" jsonschema:"Directory whose matching files are ingested"`
	FilePaths     []string `json:"file_paths,omitempty" jsonschema:"Individual files to ingest"`
}

type ingestOutput struct {
	Status         string `json:"status"`
	ChunksAdded    int    `json:"chunks_added"`
	TotalDocuments int    `json:"total_documents"`
}

type statsInput struct{}

type statsOutput struct {
	TotalDocuments  int    `json:"total_documents"`
	EmbeddingModel  string `json:"embedding_model"`
	GenerationModel string `json:"generation_model"`
	Mode            string `json:"mode"`
}

type resetInput struct{}

type resetOutput struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolQuery,
		Description: "Answer a question using the documents ingested into the knowledge base",
	}, instrument(s, ToolQuery, s.query))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIngest,
		Description: "Chunk, embed and store text files from a directory or an explicit file list",
	}, instrument(s, ToolIngest, s.ingest))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolStats,
		Description: "Report the document count and the models serving the knowledge base",
	}, instrument(s, ToolStats, s.stats))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolReset,
		Description: "Delete every document from the knowledge base",
	}, instrument(s, ToolReset, s.reset))
}

// instrument records metrics and attaches a request-scoped logger.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		ctx = logging.WithRequestID(ctx, uuid.NewString())
		ctx = logging.WithLogger(ctx, s.logger.With(zap.String("tool", name)))

		done := s.metrics.begin(ctx, name)
		res, out, err := h(ctx, req, in)
		done(err)

		if err != nil {
			s.logger.Warn(ctx, "tool failed", zap.String("tool", name), zap.Error(err))
		} else {
			s.logger.Debug(ctx, "tool completed", zap.String("tool", name), zap.Duration("duration", time.Since(start)))
		}
		return res, out, err
	}
}

func (s *Server) query(ctx context.Context, _ *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, queryOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, queryOutput{}, rag.Inputf(rag.StageRetrieval, "query must not be empty")
	}

	res := s.pipeline.Answer(ctx, in.Query, in.TopK)
	out := queryOutput{
		Query:       res.Query,
		Answer:      res.Answer,
		Sources:     make([]sourceOutput, len(res.Sources)),
		ContextUsed: res.ContextUsed,
		Mode:        string(res.Mode),
	}
	for i, src := range res.Sources {
		out.Sources[i] = sourceOutput(src)
	}
	return textResult(res.Answer), out, nil
}

func (s *Server) ingest(ctx context.Context, _ *mcp.CallToolRequest, in ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
	if in.DirectoryPath == "" && len(in.FilePaths) == 0 {
		return nil, ingestOutput{}, rag.Inputf(rag.StageIngest, "directory_path or file_paths is required")
	}

	res := s.pipeline.Ingest(ctx, rag.IngestRequest{Files: in.FilePaths, Directory: in.DirectoryPath})
	if !res.OK() {
		return nil, ingestOutput{}, fmt.Errorf("ingest failed: %s", res.Message)
	}
	out := ingestOutput{
		Status:         string(res.Status),
		ChunksAdded:    res.ChunksAdded,
		TotalDocuments: res.TotalDocuments,
	}
	return textResult(fmt.Sprintf("Added %d chunks (%d documents total)", out.ChunksAdded, out.TotalDocuments)), out, nil
}

func (s *Server) stats(ctx context.Context, _ *mcp.CallToolRequest, _ statsInput) (*mcp.CallToolResult, statsOutput, error) {
	st := s.pipeline.Stats(ctx)
	out := statsOutput{
		TotalDocuments:  st.TotalDocuments,
		EmbeddingModel:  st.EmbeddingModel,
		GenerationModel: st.GenerationModel,
		Mode:            string(st.Mode),
	}
	return textResult(fmt.Sprintf("%d documents, embedding=%s, generation=%s, mode=%s",
		out.TotalDocuments, out.EmbeddingModel, out.GenerationModel, out.Mode)), out, nil
}

func (s *Server) reset(ctx context.Context, _ *mcp.CallToolRequest, _ resetInput) (*mcp.CallToolResult, resetOutput, error) {
	res := s.pipeline.Reset(ctx)
	if res.Status != rag.StatusSuccess {
		return nil, resetOutput{}, fmt.Errorf("reset failed: %s", res.Message)
	}
	out := resetOutput{Status: string(res.Status), Message: res.Message}
	return textResult(res.Message), out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
