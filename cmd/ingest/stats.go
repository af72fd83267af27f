package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/rag-chatbot/internal/rag"
)

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the live index generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeJob(job)

			stats, err := job.Stats(cmd.Context())
			if errors.Is(err, rag.ErrIndexUnavailable) {
				cmd.Println("No index has been built yet. Run 'ingest run' first.")
				return err
			}
			if err != nil {
				return err
			}

			cmd.Printf("Generation:  %s\n", stats.Generation)
			cmd.Printf("Model:       %s (%d dims)\n", stats.Model, stats.Dimensions)
			cmd.Printf("Chunks:      %d\n", stats.Chunks)
			if !stats.CreatedAt.IsZero() {
				cmd.Printf("Created:     %s\n", stats.CreatedAt.UTC().Format(time.RFC3339))
			}
			if len(stats.Generations) > 0 {
				cmd.Printf("Retained:    %d generations\n", len(stats.Generations))
			}
			return nil
		},
	}
}
