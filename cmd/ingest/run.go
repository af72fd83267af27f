package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/rag-chatbot/services/ingestion"
)

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest the documentation into a new index generation",
		Long: `Reads every .md, .mdx, .txt and .pdf file under the documents directory,
embeds its chunks and atomically replaces the live index generation. The
previous generation keeps serving if anything fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.docsDir, "docs-dir", "", "documents directory (overrides DOCS_DIR)")
	cmd.Flags().StringVar(&opts.verifyQuery, "verify-query", "", "query to run against the new index (overrides INGEST_VERIFY_QUERY)")
	cmd.Flags().BoolVar(&opts.noVerify, "no-verify", false, "skip the verification query")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()

	job, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer closeJob(job)

	cmd.Printf("Ingesting documents from %s...\n", job.Config.Ingestion.DocsDir)

	report, err := job.Run(ctx)
	if errors.Is(err, ingestion.ErrNoDocuments) {
		return fmt.Errorf("no documents found in %s", job.Config.Ingestion.DocsDir)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	cmd.Printf("Loaded %d documents from %d files", report.Documents, report.Files)
	if n := len(report.Skipped); n > 0 {
		cmd.Printf(" (%d skipped)", n)
	}
	cmd.Println()
	cmd.Printf("Indexed %d chunks with %s (%d dims) in %s\n",
		report.Chunks, report.Model, report.Dimensions, report.Duration.Round(time.Millisecond))
	cmd.Printf("Live generation: %s\n", report.Generation)
	if report.Verified >= 0 {
		cmd.Printf("Verification query %q returned %d chunks\n", job.Config.Ingestion.VerifyQuery, report.Verified)
	}
	return nil
}
