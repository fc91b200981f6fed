// Package cli implements the companion commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiox-platform/companion/internal/config"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "companion",
	Short:         "Decision core of the voice companion",
	Long:          "Safety screening, memory, photo triggers and turn orchestration for the voice companion.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setupLogger(loaded.Log)
		cfg = loaded
		return nil
	},
}

// Execute runs RootCmd and reports the error through slog.
func Execute() int {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
