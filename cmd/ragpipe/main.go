// Ragpipe is a retrieval-augmented question answering service.
//
// The same pipeline runs in one process (local mode) or as a gateway over
// three gRPC stage services (remote mode):
//
//	# All-in-one gateway
//	ragpipe serve
//
//	# Distributed
//	ragpipe embedding-service &
//	ragpipe vector-service &
//	ragpipe generation-service &
//	ragpipe serve --mode remote
//
//	# One-shot operations
//	ragpipe ingest --dir ./docs
//	ragpipe query "How many vacation days do I get?"
//
// Configuration is read from ~/.config/ragpipe/config.yaml (or --config),
// .env and RAGPIPE_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragpipe",
		Short: "Retrieval-augmented question answering over your documents",
		Long: `ragpipe ingests text documents into a vector store and answers questions
from them with a language model.

Run it as a single process (serve --mode local) or split the embedding,
vector and generation stages into separate gRPC services and point a
remote-mode gateway at them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/ragpipe/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newServeCmd(),
		newStageServiceCmd(stageEmbedding),
		newStageServiceCmd(stageVector),
		newStageServiceCmd(stageGeneration),
		newIngestCmd(),
		newQueryCmd(),
		newStatsCmd(),
		newResetCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
	return root
}

// exitCode returns exitConfig for configuration failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, rag.ErrConfiguration):
		return exitConfig
	default:
		return exitError
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ragpipe %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		},
	}
}
