package main

import (
	"context"

	"github.com/spf13/cobra"

	ragmcp "github.com/fyrsmithlabs/ragpipe/internal/mcp"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

func newMCPCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as MCP tools over stdio",
		Long: `Serve rag_query, rag_ingest, rag_stats and rag_reset to an MCP client
over stdin/stdout. Logs go to stderr.

Example client entry:
  {"command": "ragpipe", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, setupOptions{stderr: true, mode: mode}, runMCP)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "local or remote (default from server.mode)")
	return cmd
}

func runMCP(ctx context.Context, a *app) error {
	mode, err := rag.ParseMode(a.cfg.Server.Mode)
	if err != nil {
		return err
	}
	reg, err := a.registry(mode)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	p, err := reg.Pipeline(ctx)
	if err != nil {
		return err
	}
	srv, err := ragmcp.NewServer(&ragmcp.Config{Version: version, Logger: a.logger}, p)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
