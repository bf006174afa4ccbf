package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragpipe/internal/config"
	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
	"github.com/fyrsmithlabs/ragpipe/internal/services"
	"github.com/fyrsmithlabs/ragpipe/internal/telemetry"
)

// app holds what every subcommand needs: validated config, a logger and
// the telemetry providers.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

type setupOptions struct {
	// stderr forces logs off stdout, which then belongs to command output
	// or a stdio protocol.
	stderr bool
	mode   string
}

func setup(ctx context.Context, opts setupOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, rag.Configf(rag.StageConfig, "%v", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, rag.Configf(rag.StageConfig, "logging: %v", err)
	}

	logger.Debug(ctx, "configuration loaded",
		zap.String("mode", cfg.Server.Mode),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Bool("telemetry", tel.Enabled()),
	)
	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

func applyOverrides(cfg *config.Config, opts setupOptions) error {
	if opts.stderr {
		cfg.Logging.Output = "stderr"
	}
	if opts.mode != "" {
		cfg.Server.Mode = opts.mode
	}
	if logLevel != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
			return rag.Configf(rag.StageConfig, "--log-level: %v", err)
		}
		cfg.Logging.Level = lvl
	}
	return nil
}

func (a *app) registry(mode rag.Mode) (services.Registry, error) {
	return services.NewRegistry(services.Options{Config: a.cfg, Logger: a.logger, Mode: mode})
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.logger.Sync()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
}

// withApp runs fn with a fully set up app and tears it down afterwards.
func withApp(cmd *cobra.Command, opts setupOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
