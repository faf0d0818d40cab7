package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transitsim",
		Short: "Agent-based simulation of technology transition pipelines",
		Long: `transitsim simulates research entities moving through an RDT&E stage
pipeline, clearing probabilistic legal, funding, contracting, test and
adoption gates under a linear, adaptive or shock governance regime.

Runs are stored in .transitsim/runs.db under the project root so they can
be listed, compared and exported.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <root>/.transitsim/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: warn, info, debug or trace (overrides config)")
	rootCmd.PersistentFlags().String("format", string(constants.FormatText), "Output format: text or json")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newCompareCmd(),
		newRunsCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// outputFormat returns the validated --format flag.
func outputFormat(cmd *cobra.Command) (constants.Format, error) {
	raw, _ := cmd.Flags().GetString("format")
	f := constants.Format(raw)
	if !f.Valid() {
		return "", fmt.Errorf("unknown format %q (want text or json)", raw)
	}
	return f, nil
}

// loadConfig loads the project configuration, applies --log-level, resets
// invalid values with a warning and resolves relative paths against --root.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	root, _ := cmd.Flags().GetString("root")
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadPath(path)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	for _, w := range cfg.Sanitize() {
		logger.Warn("config value reset to default", "detail", w)
	}

	cfg.Output.Dir = resolve(root, cfg.Output.Dir)
	if cfg.Data.Path != "" {
		cfg.Data.Path = resolve(root, cfg.Data.Path)
	}
	return cfg, logger, nil
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. Runs check
// it between ticks, so an interrupted run stops cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	notifySignals(ch)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
