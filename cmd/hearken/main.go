// Command hearken runs the Hearken voice assistant and its offline tools.
//
// Usage:
//
//	hearken [--config config.yaml] <command>
//
// Commands:
//
//	run     capture audio and hold conversations until interrupted
//	export  write stored conversations as fine-tuning and speech datasets
//	mcp     serve conversation analytics to MCP clients over stdio
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
)

// version is overridden at link time with -ldflags "-X main.version=…".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hearken:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "hearken",
		Short:         "Always-on voice assistant with speaker tracking",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newExportCmd(&configPath),
		newMCPCmd(&configPath),
	)
	return root
}

// loadConfig reads the config file and installs a stderr logger whose level
// can be changed later through the returned LevelVar.
func loadConfig(path string) (*config.Config, *slog.Logger, *slog.LevelVar, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
		}
		return nil, nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, level, nil
}

// closeProviders closes every provider that holds resources, such as a
// loaded whisper model.
func closeProviders(ps *app.Providers, logger *slog.Logger) {
	for _, p := range []any{ps.LLM, ps.LLMDeep, ps.STT, ps.Embeddings, ps.VAD} {
		c, ok := p.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn("provider close error", "err", err)
		}
	}
}
