package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/store"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the project configuration",
		Long: `Show the effective configuration or write a default one.

The effective configuration is the project file (.transitsim/config.yaml or
--config) with TRANSITSIM_* environment overrides applied and out-of-range
values reset to their defaults.

Examples:
  transitsim config init
  transitsim config show
  transitsim config show --format json`,
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration and its SHA",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sha, err := cfg.SHA()
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout(), format)
			if format == constants.FormatJSON {
				return p.JSON(map[string]any{"sha": sha, "config": cfg})
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			fmt.Fprintf(p.w, "# sha: %s\n%s", sha, data)
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to .transitsim/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			force, _ := cmd.Flags().GetBool("force")
			path := filepath.Join(store.LocalPath(root), constants.ConfigFile)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("checking %s: %w", path, err)
			}

			if err := config.Default().WriteFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing config file")
	return cmd
}
