package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/dataset"
)

func newExportCmd(configPath *string) *cobra.Command {
	var (
		out          string
		minRating    string
		systemPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored conversations as fine-tuning and speech datasets",
		Long: `Export reads every session from the configured conversation store and
writes conversations.jsonl (chat-format records) and manifest.jsonl (one
entry per recorded user utterance) into the output directory.

Example:
  hearken export --out ./dataset --min-rating partial`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			opts := dataset.Options{Dir: out, MinRating: minRating}
			if systemPrompt {
				opts.SystemPrompt = cfg.Conversation.SystemPrompt
			}
			return runExport(cmd.Context(), cmd.OutOrStdout(), cfg, opts, logger)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "dataset", "output directory")
	cmd.Flags().StringVar(&minRating, "min-rating", "helpful", "lowest feedback rating to include (not_helpful, unknown, partial, helpful); empty exports everything")
	cmd.Flags().BoolVar(&systemPrompt, "system-prompt", false, "prepend the configured system prompt to every conversation")
	return cmd
}

func runExport(ctx context.Context, w io.Writer, cfg *config.Config, opts dataset.Options, logger *slog.Logger) error {
	store, err := app.OpenStore(ctx, cfg.Memory, cfg.Memory.SpeakerDimensions)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if store == nil {
		return errors.New("no conversation store configured (memory.backend is none)")
	}
	defer store.Close()

	stats, err := dataset.NewExporter(store, logger).Export(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "exported %d sessions (%d messages, %d utterances) to %s\n",
		stats.Sessions, stats.Messages, stats.Utterances, opts.Dir)
	if stats.MissingAudio > 0 {
		fmt.Fprintf(w, "%d utterance recordings were missing and left out of the manifest\n", stats.MissingAudio)
	}
	return nil
}
