package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/hearken/internal/analytics"
	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve conversation analytics to MCP clients over stdio",
		Long: `mcp exposes the conversation store as Model Context Protocol tools:
list_sessions, session_transcript, feedback_stats and search_turns.
search_turns needs an embeddings provider in the config.

Logs go to stderr; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := app.OpenStore(ctx, cfg.Memory, cfg.Memory.SpeakerDimensions)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if store == nil {
				return errors.New("no conversation store configured (memory.backend is none)")
			}
			defer store.Close()

			metrics := observe.DefaultMetrics()
			opts := []analytics.Option{
				analytics.WithLogger(logger),
				analytics.WithMetrics(metrics),
				analytics.WithVersion(version),
			}

			// Only the embeddings slot matters here; the other providers are
			// never built.
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			embCfg := &config.Config{Providers: config.ProvidersConfig{Embeddings: cfg.Providers.Embeddings}}
			ps, err := app.BuildProviders(embCfg, reg, metrics, logger)
			if err != nil {
				return err
			}
			defer closeProviders(ps, logger)
			if ps.Embeddings != nil {
				opts = append(opts, analytics.WithEmbedder(ps.Embeddings))
			}

			return analytics.NewServer(store, opts...).Run(ctx, &mcp.StdioTransport{})
		},
	}
}
