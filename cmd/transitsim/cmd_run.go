package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/experiment"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/pipeline"
	"github.com/nvandessel/transitsim/internal/sanitize"
	"github.com/nvandessel/transitsim/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation and store the result",
		Long: `Run one simulation with the project configuration. Flags override the
matching config values for this run only.

The run summary and every gate evaluation are stored in
.transitsim/runs.db. --arrow and --metrics additionally write per-run
exports to .transitsim/exports/.

Examples:
  transitsim run
  transitsim run --regime adaptive --seed 7 --ticks 300
  transitsim run --regime shock --focus R-003
  transitsim run --config scenarios/cyber.yaml --label "cyber baseline" --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			label, _ := cmd.Flags().GetString("label")
			focus, _ := cmd.Flags().GetString("focus")

			var runStore *store.SQLiteRunStore
			if cfg.Output.Store {
				runStore, err = store.NewSQLiteRunStore(cfg.Output.Dir)
				if err != nil {
					return fmt.Errorf("failed to open run store: %w", err)
				}
				defer runStore.Close()
			} else if cfg.Output.Arrow || cfg.Output.Metrics {
				if err := store.EnsureDir(cfg.Output.Dir); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			res, err := experiment.Execute(ctx, cfg, experiment.Request{
				Label:   sanitize.SanitizeLabel(label),
				Persist: true,
				Store:   runStore,
				Logger:  logger,
			})
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			var focusState *pipeline.State
			if focus != "" {
				r := res.Model.Researcher(focus)
				if r == nil {
					return fmt.Errorf("no entity %q in run %s", focus, res.RunID)
				}
				st := r.State()
				focusState = &st
			}

			p := newPrinter(cmd.OutOrStdout(), format)
			if format == constants.FormatJSON {
				return p.JSON(struct {
					*experiment.Result
					Regime models.Regime   `json:"regime"`
					Seed   uint64          `json:"seed"`
					Ticks  int             `json:"ticks"`
					Stored bool            `json:"stored"`
					Focus  *pipeline.State `json:"focus,omitempty"`
				}{res, cfg.Simulation.Regime, cfg.Simulation.Seed, cfg.Simulation.Ticks, runStore != nil, focusState})
			}

			p.Title("Run %s (%s, seed %d, %d ticks)", res.RunID, cfg.Simulation.Regime, cfg.Simulation.Seed, cfg.Simulation.Ticks)
			if res.Label != "" {
				p.Field("label", res.Label)
			}
			p.Field("config sha", res.ConfigSHA[:12])
			p.Summary(res.Summary)
			for _, a := range res.Artifacts {
				p.Field("wrote", a)
			}
			if runStore == nil {
				p.Field("stored", "no (output.store is off)")
			}
			if focusState != nil {
				fmt.Fprintln(p.w)
				p.Entity(*focusState)
			}
			return nil
		},
	}

	cmd.Flags().String("regime", "", "Governance regime: linear, adaptive or shock")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	cmd.Flags().Int("ticks", 0, "Number of ticks to simulate")
	cmd.Flags().Int("researchers", 0, "Number of research entities")
	cmd.Flags().Int("policymakers", 0, "Number of policymakers")
	cmd.Flags().Int("end-users", 0, "Number of end users")
	cmd.Flags().String("data", "", "Data snapshot (YAML) with priors, scores, programs and shocks")
	cmd.Flags().String("label", "", "Label stored with the run")
	cmd.Flags().String("focus", "", "Entity id (e.g. R-003) whose final state is printed")
	cmd.Flags().Bool("no-store", false, "Do not write the run to the run database")
	cmd.Flags().Bool("arrow", false, "Write gate events to an Arrow IPC file")
	cmd.Flags().Bool("metrics", false, "Write Prometheus textfile metrics")
	cmd.Flags().Bool("no-priors", false, "Disable the historical prior multiplier")

	return cmd
}

// applyRunFlags copies the flags the user set onto cfg. Values outside the
// accepted ranges are rejected.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("regime") {
		v, _ := flags.GetString("regime")
		r := models.Regime(strings.ToLower(v))
		if !r.Valid() {
			return fmt.Errorf("unknown regime %q (want linear, adaptive or shock)", v)
		}
		cfg.Simulation.Regime = r
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("ticks") {
		n, _ := flags.GetInt("ticks")
		if n < 1 || n > constants.MaxTicks {
			return fmt.Errorf("--ticks must be between 1 and %d, got %d", constants.MaxTicks, n)
		}
		cfg.Simulation.Ticks = n
	}
	for _, pf := range []struct {
		name string
		dst  *int
	}{
		{"researchers", &cfg.Simulation.Researchers},
		{"policymakers", &cfg.Simulation.Policymakers},
		{"end-users", &cfg.Simulation.EndUsers},
	} {
		if !flags.Changed(pf.name) {
			continue
		}
		n, _ := flags.GetInt(pf.name)
		if n < 0 || n > constants.MaxPopulation {
			return fmt.Errorf("--%s must be between 0 and %d, got %d", pf.name, constants.MaxPopulation, n)
		}
		*pf.dst = n
	}
	if flags.Changed("data") {
		root, _ := flags.GetString("root")
		v, _ := flags.GetString("data")
		cfg.Data.Path = resolve(root, v)
	}
	if v, _ := flags.GetBool("no-store"); v {
		cfg.Output.Store = false
	}
	if v, _ := flags.GetBool("arrow"); v {
		cfg.Output.Arrow = true
	}
	if v, _ := flags.GetBool("metrics"); v {
		cfg.Output.Metrics = true
	}
	if v, _ := flags.GetBool("no-priors"); v {
		cfg.Gates.PriorsEnabled = false
	}
	return nil
}
