package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Capture audio and hold conversations until interrupted",
		Long: `Run opens the configured audio source and processes it frame by frame:
voice activity gating, speaker tracking, transcription and the conversation
state machine. With server.listen_addr set, /healthz, /readyz, /status and
/metrics are served. Edits to the config file are picked up while running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssistant(cmd.Context(), *configPath)
		},
	}
}

func runAssistant(ctx context.Context, configPath string) error {
	cfg, logger, level, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("hearken starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hearken",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg, metrics, logger)
	if err != nil {
		return err
	}
	defer closeProviders(providers, logger)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath,
		func(_, next *config.Config) { application.ApplyConfig(next) },
		config.WithWatcherLogger(logger),
	)
	if err != nil {
		logger.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	logger.Info("assistant ready, press Ctrl+C to stop")
	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Hearken, startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio source", string(cfg.Audio.Source))
	printRow("LLM", provider(cfg.Providers.LLM))
	printRow("LLM deep", provider(cfg.Providers.LLMDeep))
	printRow("STT", provider(cfg.Providers.STT))
	printRow("Embeddings", provider(cfg.Providers.Embeddings))
	printRow("VAD", provider(cfg.Providers.VAD))
	printRow("Memory", string(cfg.Memory.Backend))
	if cfg.Speaker.ModelPath != "" {
		printRow("Speaker model", "neural")
	} else {
		printRow("Speaker model", "spectral")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func provider(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
