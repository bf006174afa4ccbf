package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// Pipeline is the slice of the orchestrator the tools call into.
type Pipeline interface {
	Mode() rag.Mode
	Answer(ctx context.Context, query string, topK int) rag.AnswerResult
	Ingest(ctx context.Context, req rag.IngestRequest) rag.IngestResult
	Stats(ctx context.Context) rag.Stats
	Reset(ctx context.Context) rag.ResetResult
}

// Server registers the RAG tools on an MCP server.
type Server struct {
	mcp      *mcp.Server
	pipeline Pipeline
	metrics  *toolMetrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "ragpipe").
	Name string

	// Version is the implementation version (default: "dev").
	Version string

	// Logger must not write to stdout.
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragpipe",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates an MCP server backed by p.
func NewServer(cfg *Config, p Pipeline) (*Server, error) {
	if p == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "ragpipe"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		pipeline: p,
		metrics:  newToolMetrics(nil, logger.Underlying()),
		logger:   logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves the tools on stdin/stdout until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves the tools on t.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	s.logger.Info(ctx, "starting MCP server", zap.String("mode", string(s.pipeline.Mode())))
	if err := s.mcp.Run(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect attaches the server to a single transport and returns the session.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
