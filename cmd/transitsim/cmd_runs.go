package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
		Long: `List, show and delete runs stored in .transitsim/runs.db.

Run ids may be abbreviated to any unique prefix.

Examples:
  transitsim runs list --limit 5
  transitsim runs show 3f2a9c
  transitsim runs show 3f2a9c --events 20 --gate funding
  transitsim runs delete 3f2a9c`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsDeleteCmd(),
	)
	return cmd
}

// openStore opens the run store in the configured output directory.
func openStore(cmd *cobra.Command) (*store.SQLiteRunStore, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteRunStore(cfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return s, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout(), format)
			if format == constants.FormatJSON {
				if runs == nil {
					runs = []store.Run{}
				}
				return p.JSON(map[string]any{"runs": runs, "count": len(runs)})
			}
			if len(runs) == 0 {
				fmt.Fprintln(p.w, "No runs stored yet. Run 'transitsim run' first.")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					shortID(r.ID),
					r.CreatedAt.Local().Format("2006-01-02 15:04"),
					string(r.Regime),
					strconv.FormatUint(r.Seed, 10),
					strconv.Itoa(r.Ticks),
					rate(r.Summary.TransitionRate),
					r.Label,
				})
			}
			p.Table([]string{"ID", "CREATED", "REGIME", "SEED", "TICKS", "TRANSITION RATE", "LABEL"}, rows)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run's summary and gate events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("events")
			filter := store.EventFilter{Limit: n}
			if g, _ := cmd.Flags().GetString("gate"); g != "" {
				filter.Gate = models.Gate(strings.ToLower(g))
				if !filter.Gate.Valid() {
					return fmt.Errorf("unknown gate %q", g)
				}
			}
			filter.Outcome, _ = cmd.Flags().GetString("outcome")
			filter.EntityID, _ = cmd.Flags().GetString("entity")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			run, err := s.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			counts, err := s.GateCounts(ctx, run.ID)
			if err != nil {
				return err
			}
			var events []gate.Event
			if n > 0 {
				events, err = s.Events(ctx, run.ID, filter)
				if err != nil {
					return err
				}
			}

			p := newPrinter(cmd.OutOrStdout(), format)
			if format == constants.FormatJSON {
				return p.JSON(map[string]any{
					"run":         run,
					"gate_counts": counts,
					"events":      events,
				})
			}

			p.Title("Run %s (%s, seed %d, %d ticks)", run.ID, run.Regime, run.Seed, run.Ticks)
			p.Field("created", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			if run.Label != "" {
				p.Field("label", run.Label)
			}
			p.Field("config sha", run.ConfigSHA)
			p.Summary(run.Summary)

			var rows [][]string
			for _, g := range models.Gates() {
				if t, ok := counts[string(g)]; ok {
					rows = append(rows, tallyRow(string(g), t))
				}
			}
			if len(rows) > 0 {
				p.Title("Stored gate events")
				p.Table([]string{"GATE", "CLEARED", "NOT CLEARED", "RATE"}, rows)
			}

			if len(events) > 0 {
				rows = rows[:0]
				for _, ev := range events {
					rows = append(rows, []string{
						strconv.Itoa(ev.Tick),
						ev.EntityID,
						string(ev.Gate),
						ev.Stage,
						ev.Outcome,
						rate(ev.Probability),
						rate(ev.Draw),
					})
				}
				p.Title("First %d matching events", len(events))
				p.Table([]string{"TICK", "ENTITY", "GATE", "STAGE", "OUTCOME", "P", "DRAW"}, rows)
			}
			return nil
		},
	}
	cmd.Flags().Int("events", 0, "Also list the first N gate events")
	cmd.Flags().String("gate", "", "Only list events for this gate")
	cmd.Flags().String("outcome", "", "Only list events with this outcome")
	cmd.Flags().String("entity", "", "Only list events for this entity id")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run and its gate events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.DeleteRun(cmd.Context(), run.ID); err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout(), format)
			if format == constants.FormatJSON {
				return p.JSON(map[string]string{"status": "deleted", "id": run.ID})
			}
			fmt.Fprintf(p.w, "Deleted run %s\n", run.ID)
			return nil
		},
	}
}
