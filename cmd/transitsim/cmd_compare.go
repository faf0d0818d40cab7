package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/experiment"
	"github.com/nvandessel/transitsim/internal/models"
)

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare governance regimes over the same seeds",
		Long: `Run every selected regime over --runs seeds (seed, seed+1, ...) and
rank the regimes by mean transition rate. Compare runs are not stored.

Examples:
  transitsim compare
  transitsim compare --runs 20 --ticks 300
  transitsim compare --regimes linear,adaptive --parallel 4 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			runs, _ := cmd.Flags().GetInt("runs")
			if runs < 1 || runs > constants.MaxCompareRuns {
				return fmt.Errorf("--runs must be between 1 and %d, got %d", constants.MaxCompareRuns, runs)
			}
			parallel, _ := cmd.Flags().GetInt("parallel")
			names, _ := cmd.Flags().GetStringSlice("regimes")
			regimes := make([]models.Regime, 0, len(names))
			for _, name := range names {
				r := models.Regime(strings.ToLower(strings.TrimSpace(name)))
				if !r.Valid() {
					return fmt.Errorf("unknown regime %q (want linear, adaptive or shock)", name)
				}
				regimes = append(regimes, r)
			}
			if cmd.Flags().Changed("ticks") {
				n, _ := cmd.Flags().GetInt("ticks")
				if n < 1 || n > constants.MaxTicks {
					return fmt.Errorf("--ticks must be between 1 and %d, got %d", constants.MaxTicks, n)
				}
				cfg.Simulation.Ticks = n
			}
			if cmd.Flags().Changed("seed") {
				cfg.Simulation.Seed, _ = cmd.Flags().GetUint64("seed")
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			results, err := experiment.Compare(ctx, cfg, experiment.CompareRequest{
				Regimes:  regimes,
				Runs:     runs,
				Parallel: parallel,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("compare failed: %w", err)
			}
			ranked := experiment.Ranked(results)

			p := newPrinter(cmd.OutOrStdout(), format)
			if format == constants.FormatJSON {
				return p.JSON(map[string]any{
					"seed":    cfg.Simulation.Seed,
					"ticks":   cfg.Simulation.Ticks,
					"runs":    runs,
					"results": ranked,
				})
			}

			p.Title("Regime comparison (%d runs from seed %d, %d ticks)", runs, cfg.Simulation.Seed, cfg.Simulation.Ticks)
			rows := make([][]string, 0, len(ranked))
			for i, r := range ranked {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					string(r.Regime),
					rate(r.MeanTransitionRate),
					fmt.Sprintf("%.1f", r.MeanAvgCycleTime),
					rate(r.MeanDiffusion),
					strconv.Itoa(r.Transitions),
					strconv.Itoa(r.Attempts),
				})
			}
			p.Table([]string{"#", "REGIME", "TRANSITION RATE", "AVG CYCLE", "DIFFUSION", "TRANSITIONS", "ATTEMPTS"}, rows)
			return nil
		},
	}

	cmd.Flags().Int("runs", constants.DefaultCompareRuns, "Seeds per regime")
	cmd.Flags().StringSlice("regimes", nil, "Regimes to compare (default: all)")
	cmd.Flags().Int("parallel", 0, "Concurrent runs (default: GOMAXPROCS)")
	cmd.Flags().Int("ticks", 0, "Ticks per run (default: config)")
	cmd.Flags().Uint64("seed", 0, "First seed (default: config)")

	return cmd
}
