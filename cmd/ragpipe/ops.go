package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragpipe/internal/pipeline"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// withPipeline runs fn against a pipeline built for --mode, printing
// nothing but fn's output on stdout.
func withPipeline(cmd *cobra.Command, mode string, fn func(ctx context.Context, p *pipeline.Pipeline) error) error {
	return withApp(cmd, setupOptions{stderr: true, mode: mode}, func(ctx context.Context, a *app) error {
		m, err := rag.ParseMode(a.cfg.Server.Mode)
		if err != nil {
			return err
		}
		reg, err := a.registry(m)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()

		p, err := reg.Pipeline(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, p)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIngestCmd() *cobra.Command {
	var (
		mode string
		dir  string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Chunk, embed and store documents",
		Long: `Ingest text files into the vector store.

Files named as arguments are ingested first, followed by every file in
--dir whose extension matches pipeline.extension.

Examples:
  ragpipe ingest --dir ./docs
  ragpipe ingest handbook.txt faq.txt
  ragpipe ingest --mode remote --dir /srv/docs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" && len(args) == 0 {
				return rag.Inputf(rag.StageIngest, "pass --dir or at least one file")
			}
			return withPipeline(cmd, mode, func(ctx context.Context, p *pipeline.Pipeline) error {
				res := p.Ingest(ctx, rag.IngestRequest{Files: args, Directory: dir})
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.OK() {
					return nil
				}
				if res.Err != nil {
					return res.Err
				}
				return errors.New(res.Message)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "local or remote (default from server.mode)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory to ingest")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		mode string
		topK int
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the ingested documents",
		Long: `Answer a question and print the answer with its sources as JSON.

Examples:
  ragpipe query "How many vacation days do I get?"
  ragpipe query --top-k 3 "Who approves expenses?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return rag.Inputf(rag.StageRetrieval, "query must not be empty")
			}
			return withPipeline(cmd, mode, func(ctx context.Context, p *pipeline.Pipeline) error {
				return printJSON(cmd.OutOrStdout(), p.Answer(ctx, question, topK))
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "local or remote (default from server.mode)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default pipeline.top_k)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show document count and model names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, mode, func(ctx context.Context, p *pipeline.Pipeline) error {
				return printJSON(cmd.OutOrStdout(), p.Stats(ctx))
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "local or remote (default from server.mode)")
	return cmd
}

func newResetCmd() *cobra.Command {
	var (
		mode string
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every document from the vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return rag.Inputf(rag.StageRetrieval, "reset deletes every document; pass --yes to confirm")
			}
			return withPipeline(cmd, mode, func(ctx context.Context, p *pipeline.Pipeline) error {
				res := p.Reset(ctx)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Status != rag.StatusSuccess {
					return errors.New(res.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "local or remote (default from server.mode)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	return cmd
}
