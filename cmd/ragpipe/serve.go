package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/ragpipe/internal/http"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

func newServeCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Run the HTTP gateway in front of the pipeline.

In local mode the embedder, vector store and generator run in this process.
In remote mode each stage is a gRPC call to the addresses under "remote".

Examples:
  ragpipe serve
  ragpipe serve --mode remote
  RAGPIPE_SERVER_PORT=9000 ragpipe serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, setupOptions{mode: mode}, runServe)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "local or remote (default from server.mode)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	mode, err := rag.ParseMode(a.cfg.Server.Mode)
	if err != nil {
		return err
	}
	reg, err := a.registry(mode)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing backends", zap.Error(err))
		}
	}()

	// Build eagerly so configuration errors stop startup.
	p, err := reg.Pipeline(ctx)
	if err != nil {
		return err
	}

	srv, err := httpserver.NewServer(p, a.logger, &httpserver.Config{
		Host:    a.cfg.Server.Host,
		Port:    a.cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
