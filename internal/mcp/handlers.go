package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/experiment"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/pathutil"
	"github.com/nvandessel/transitsim/internal/sanitize"
	"github.com/nvandessel/transitsim/internal/store"
)

const (
	defaultRunsLimit   = 20
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// registerTools registers all transitsim MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "transitsim_run",
		Description: "Run one transition simulation and store its summary and gate events",
	}, s.handleTransitsimRun)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "transitsim_compare",
		Description: "Compare governance regimes over the same seeds and rank them by transition rate",
	}, s.handleTransitsimCompare)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "transitsim_runs",
		Description: "List stored runs or show one run's full summary",
	}, s.handleTransitsimRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "transitsim_events",
		Description: "Query the gate evaluations recorded for a stored run",
	}, s.handleTransitsimEvents)

	return nil
}

// runConfig returns a copy of the server config with the non-zero simulation
// overrides applied. Out-of-range values are rejected, not clamped.
func (s *Server) runConfig(regime string, seed uint64, ticks, researchers, policymakers, endUsers int) (*config.Config, error) {
	c := *s.cfg
	if regime != "" {
		r := models.Regime(strings.ToLower(regime))
		if !r.Valid() {
			return nil, fmt.Errorf("unknown regime %q", regime)
		}
		c.Simulation.Regime = r
	}
	if seed != 0 {
		c.Simulation.Seed = seed
	}
	if ticks < 0 || ticks > constants.MaxTicks {
		return nil, fmt.Errorf("ticks must be between 1 and %d, got %d", constants.MaxTicks, ticks)
	}
	if ticks > 0 {
		c.Simulation.Ticks = ticks
	}
	for name, n := range map[string]int{"researchers": researchers, "policymakers": policymakers, "end_users": endUsers} {
		if n < 0 || n > constants.MaxPopulation {
			return nil, fmt.Errorf("%s must be between 0 and %d, got %d", name, constants.MaxPopulation, n)
		}
	}
	if researchers > 0 {
		c.Simulation.Researchers = researchers
	}
	if policymakers > 0 {
		c.Simulation.Policymakers = policymakers
	}
	if endUsers > 0 {
		c.Simulation.EndUsers = endUsers
	}
	return &c, nil
}

// handleTransitsimRun implements the transitsim_run tool.
func (s *Server) handleTransitsimRun(ctx context.Context, req *sdk.CallToolRequest, args TransitsimRunInput) (_ *sdk.CallToolResult, _ TransitsimRunOutput, retErr error) {
	start := time.Now()
	var runID string
	defer func() {
		s.auditTool("transitsim_run", start, retErr, runID, sanitizeToolParams(map[string]any{
			"regime": args.Regime, "seed": args.Seed, "ticks": args.Ticks,
			"researchers": args.Researchers, "policymakers": args.Policymakers, "end_users": args.EndUsers,
			"data": args.Data, "label": args.Label, "focus": args.Focus,
		}))
	}()

	if err := s.toolLimiters.Check("transitsim_run"); err != nil {
		return nil, TransitsimRunOutput{}, err
	}

	cfg, err := s.runConfig(args.Regime, args.Seed, args.Ticks, args.Researchers, args.Policymakers, args.EndUsers)
	if err != nil {
		return nil, TransitsimRunOutput{}, err
	}
	if args.Data != "" {
		path := args.Data
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.root, path)
		}
		if err := pathutil.ValidatePath(path, pathutil.AllowedDataDirs(s.root)); err != nil {
			return nil, TransitsimRunOutput{}, fmt.Errorf("invalid data path: %w", err)
		}
		cfg.Data.Path = path
	}
	warnings := cfg.Sanitize()

	res, err := experiment.Execute(ctx, cfg, experiment.Request{
		Label:   sanitize.SanitizeLabel(args.Label),
		Persist: true,
		Store:   s.store,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, TransitsimRunOutput{}, fmt.Errorf("run failed: %w", err)
	}
	runID = res.RunID

	out := TransitsimRunOutput{
		RunID:     res.RunID,
		ConfigSHA: res.ConfigSHA,
		Regime:    string(cfg.Simulation.Regime),
		Seed:      cfg.Simulation.Seed,
		Ticks:     cfg.Simulation.Ticks,
		Label:     res.Label,
		Summary:   res.Summary,
		Artifacts: relativeArtifacts(s.root, res.Artifacts),
		Warnings:  warnings,
	}
	if args.Focus != "" {
		if r := res.Model.Researcher(sanitize.SanitizeID(args.Focus)); r != nil {
			st := r.State()
			out.Focus = &st
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf("focus: no entity %q", args.Focus))
		}
	}
	return nil, out, nil
}

// relativeArtifacts reports artifact paths relative to root where possible.
func relativeArtifacts(root string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
		out = append(out, p)
	}
	return out
}

// handleTransitsimCompare implements the transitsim_compare tool.
func (s *Server) handleTransitsimCompare(ctx context.Context, req *sdk.CallToolRequest, args TransitsimCompareInput) (_ *sdk.CallToolResult, _ TransitsimCompareOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("transitsim_compare", start, retErr, "", sanitizeToolParams(map[string]any{
			"regimes": args.Regimes, "runs": args.Runs, "ticks": args.Ticks, "seed": args.Seed,
		}))
	}()

	if err := s.toolLimiters.Check("transitsim_compare"); err != nil {
		return nil, TransitsimCompareOutput{}, err
	}

	if args.Runs < 0 || args.Runs > constants.MaxCompareRuns {
		return nil, TransitsimCompareOutput{}, fmt.Errorf("runs must be between 1 and %d, got %d", constants.MaxCompareRuns, args.Runs)
	}
	cfg, err := s.runConfig("", args.Seed, args.Ticks, 0, 0, 0)
	if err != nil {
		return nil, TransitsimCompareOutput{}, err
	}
	cfg.Sanitize()

	regimes := make([]models.Regime, 0, len(args.Regimes))
	for _, name := range args.Regimes {
		r := models.Regime(strings.ToLower(name))
		if !r.Valid() {
			return nil, TransitsimCompareOutput{}, fmt.Errorf("unknown regime %q", name)
		}
		regimes = append(regimes, r)
	}

	results, err := experiment.Compare(ctx, cfg, experiment.CompareRequest{
		Regimes: regimes,
		Runs:    args.Runs,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, TransitsimCompareOutput{}, fmt.Errorf("compare failed: %w", err)
	}

	ranked := experiment.Ranked(results)
	out := TransitsimCompareOutput{Results: make([]RegimeSummary, 0, len(ranked))}
	for _, r := range ranked {
		out.Results = append(out.Results, RegimeSummary{
			Regime:             string(r.Regime),
			Runs:               r.Runs,
			MeanTransitionRate: r.MeanTransitionRate,
			MeanAvgCycleTime:   r.MeanAvgCycleTime,
			MeanDiffusion:      r.MeanDiffusion,
			Transitions:        r.Transitions,
			Attempts:           r.Attempts,
		})
	}
	if len(ranked) > 0 {
		out.Best = string(ranked[0].Regime)
	}
	return nil, out, nil
}

// handleTransitsimRuns implements the transitsim_runs tool.
func (s *Server) handleTransitsimRuns(ctx context.Context, req *sdk.CallToolRequest, args TransitsimRunsInput) (_ *sdk.CallToolResult, _ TransitsimRunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("transitsim_runs", start, retErr, "", sanitizeToolParams(map[string]any{
			"run_id": args.RunID, "limit": args.Limit,
		}))
	}()

	if err := s.toolLimiters.Check("transitsim_runs"); err != nil {
		return nil, TransitsimRunsOutput{}, err
	}

	if args.RunID != "" {
		run, err := s.store.GetRun(ctx, args.RunID)
		if err != nil {
			return nil, TransitsimRunsOutput{}, err
		}
		item := runItem(run)
		item.Summary = &run.Summary
		return nil, TransitsimRunsOutput{Runs: []RunListItem{item}, Count: 1}, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, TransitsimRunsOutput{}, err
	}
	out := TransitsimRunsOutput{Runs: make([]RunListItem, 0, len(runs))}
	for _, run := range runs {
		out.Runs = append(out.Runs, runItem(run))
	}
	out.Count = len(out.Runs)
	return nil, out, nil
}

func runItem(run store.Run) RunListItem {
	return RunListItem{
		ID:             run.ID,
		Label:          run.Label,
		Regime:         string(run.Regime),
		Seed:           run.Seed,
		Ticks:          run.Ticks,
		ConfigSHA:      run.ConfigSHA,
		TransitionRate: run.Summary.TransitionRate,
		Transitions:    run.Summary.Transitions,
		CreatedAt:      run.CreatedAt,
	}
}

// handleTransitsimEvents implements the transitsim_events tool.
func (s *Server) handleTransitsimEvents(ctx context.Context, req *sdk.CallToolRequest, args TransitsimEventsInput) (_ *sdk.CallToolResult, _ TransitsimEventsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("transitsim_events", start, retErr, "", sanitizeToolParams(map[string]any{
			"run_id": args.RunID, "gate": args.Gate, "outcome": args.Outcome, "limit": args.Limit,
		}))
	}()

	if err := s.toolLimiters.Check("transitsim_events"); err != nil {
		return nil, TransitsimEventsOutput{}, err
	}

	if args.RunID == "" {
		return nil, TransitsimEventsOutput{}, fmt.Errorf("run_id is required")
	}
	filter := store.EventFilter{
		Outcome:  args.Outcome,
		EntityID: sanitize.SanitizeID(args.EntityID),
		Limit:    args.Limit,
	}
	if args.Gate != "" {
		g := models.Gate(strings.ToLower(args.Gate))
		if !g.Valid() {
			return nil, TransitsimEventsOutput{}, fmt.Errorf("unknown gate %q", args.Gate)
		}
		filter.Gate = g
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultEventsLimit
	case filter.Limit > maxEventsLimit:
		filter.Limit = maxEventsLimit
	}

	run, err := s.store.GetRun(ctx, args.RunID)
	if err != nil {
		return nil, TransitsimEventsOutput{}, err
	}
	counts, err := s.store.GateCounts(ctx, run.ID)
	if err != nil {
		return nil, TransitsimEventsOutput{}, err
	}
	events, err := s.store.Events(ctx, run.ID, filter)
	if err != nil {
		return nil, TransitsimEventsOutput{}, err
	}

	out := TransitsimEventsOutput{
		RunID:  run.ID,
		Counts: counts,
		Events: make([]EventItem, 0, len(events)),
	}
	for _, ev := range events {
		out.Events = append(out.Events, EventItem{
			Tick:        ev.Tick,
			EntityID:    ev.EntityID,
			Gate:        string(ev.Gate),
			Stage:       ev.Stage,
			Outcome:     ev.Outcome,
			Probability: ev.Probability,
			Draw:        ev.Draw,
		})
	}
	out.Count = len(out.Events)
	return nil, out, nil
}
