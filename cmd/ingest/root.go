package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/app"
	"github.com/upb/rag-chatbot/config"
	"github.com/upb/rag-chatbot/internal/observability"
)

// options are the flags shared by every subcommand. Empty values keep the
// environment configuration.
type options struct {
	dbDir       string
	docsDir     string
	logLevel    string
	verifyQuery string
	noVerify    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ingest",
		Short: "Build and inspect the chatbot's vector index",
		Long: `Loads the documentation, splits it into chunks, embeds them and
publishes a new index generation. The API server picks the new generation up
without a restart.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dbDir, "db-dir", "", "index directory (overrides DB_DIRECTORY)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(newRunCmd(opts), newStatsCmd(opts))
	return root
}

// open loads the configuration, applies flag overrides and wires the job.
func (o *options) open(ctx context.Context) (*app.Ingestion, error) {
	cfg, err := config.NewIngestion(ctx)
	if err != nil {
		return nil, err
	}
	if o.dbDir != "" {
		cfg.RAG.DBDirectory = o.dbDir
	}
	if o.docsDir != "" {
		cfg.Ingestion.DocsDir = o.docsDir
	}
	if o.verifyQuery != "" {
		cfg.Ingestion.VerifyQuery = o.verifyQuery
	}
	if o.noVerify {
		cfg.Ingestion.VerifyQuery = ""
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, err
	}

	job, err := app.NewIngestion(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize ingestion: %w", err)
	}
	return job, nil
}

func closeJob(job *app.Ingestion) {
	if err := job.Close(); err != nil {
		job.Logger.Warn("failed to close ingestion resources", zap.Error(err))
	}
	_ = job.Logger.Sync()
}
