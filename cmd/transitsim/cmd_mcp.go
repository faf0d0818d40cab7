package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/logging"
	"github.com/nvandessel/transitsim/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve simulation tools over MCP on stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout.

Tools:
  transitsim_run      run one simulation and store it
  transitsim_compare  compare regimes over several seeds
  transitsim_runs     list or fetch stored runs
  transitsim_events   query a stored run's gate events

Tool calls are rate limited and recorded in .transitsim/audit.jsonl.

Example MCP client entry:
  {"command": "transitsim", "args": ["mcp-server", "--root", "/path/to/project"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving root: %w", err)
			}

			// stdout carries the protocol, so logs go to stderr only.
			level, _ := cmd.Flags().GetString("log-level")
			if level == "" {
				if cfg, err := config.Load(absRoot); err == nil {
					level = cfg.Logging.Level
				}
			}
			logger := logging.NewLogger(level, cmd.ErrOrStderr())

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "transitsim",
				Version: version,
				Root:    absRoot,
				Logger:  logger,
			})
			if err != nil {
				return fmt.Errorf("failed to start MCP server: %w", err)
			}
			return server.Run(cmd.Context())
		},
	}
}
