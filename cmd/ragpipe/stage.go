package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
	"github.com/fyrsmithlabs/ragpipe/internal/rpc"
	"github.com/fyrsmithlabs/ragpipe/internal/services"
)

type stageKind string

const (
	stageEmbedding  stageKind = "embedding"
	stageVector     stageKind = "vector"
	stageGeneration stageKind = "generation"
)

var stageDescriptions = map[stageKind]string{
	stageEmbedding:  "Serve the embedding stage over gRPC",
	stageVector:     "Serve the vector store over gRPC",
	stageGeneration: "Serve the generation stage over gRPC",
}

func newStageServiceCmd(kind stageKind) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   string(kind) + "-service",
		Short: stageDescriptions[kind],
		Long: fmt.Sprintf(`%s.

The listen address defaults to services.%s_listen. A remote-mode gateway
reaches this service through remote.%s_addr.`, stageDescriptions[kind], kind, kind),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, setupOptions{}, func(ctx context.Context, a *app) error {
				return runStageService(ctx, a, kind, listen)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (host:port)")
	return cmd
}

func runStageService(ctx context.Context, a *app, kind stageKind, listen string) error {
	reg, err := a.registry(rag.ModeLocal)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	sc := a.cfg.Services
	srv := rpc.NewServer(rpc.ServerConfig{
		RateLimit:       sc.RateLimit,
		Burst:           sc.RateBurst,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration(),
		HealthInterval:  sc.HealthInterval.Duration(),
	}, a.logger)

	addr, err := registerStage(ctx, srv, reg, kind)
	if err != nil {
		return err
	}
	if listen != "" {
		addr = listen
	}
	return srv.Run(ctx, addr)
}

// registerStage builds the backend for kind, registers it on srv and
// returns the configured listen address.
func registerStage(ctx context.Context, srv *rpc.Server, reg services.Registry, kind stageKind) (string, error) {
	sc := reg.Config().Services
	switch kind {
	case stageEmbedding:
		p, err := reg.Embedder(ctx)
		if err != nil {
			return "", err
		}
		srv.RegisterEmbedding(p)
		return sc.EmbeddingListen, nil
	case stageVector:
		s, err := reg.Store(ctx)
		if err != nil {
			return "", err
		}
		srv.RegisterVector(s)
		return sc.VectorListen, nil
	case stageGeneration:
		g, err := reg.Generator(ctx)
		if err != nil {
			return "", err
		}
		srv.RegisterGeneration(g)
		return sc.GenerationListen, nil
	}
	return "", rag.Configf(rag.StageConfig, "unknown stage service %q", kind)
}
