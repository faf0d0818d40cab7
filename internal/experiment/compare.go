package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/models"
)

// CompareRequest asks for runs seeds per regime, seeds Seed, Seed+1, ...
type CompareRequest struct {
	Regimes []models.Regime
	Runs    int

	// Parallel bounds concurrent runs. <= 0 uses GOMAXPROCS.
	Parallel int

	Logger *slog.Logger
}

// RegimeResult aggregates one regime's runs.
type RegimeResult struct {
	Regime             models.Regime     `json:"regime"`
	Runs               int               `json:"runs"`
	MeanTransitionRate float64           `json:"mean_transition_rate"`
	MeanAvgCycleTime   float64           `json:"mean_avg_cycle_time"`
	MeanDiffusion      float64           `json:"mean_diffusion_speed"`
	Transitions        int               `json:"transitions"`
	Attempts           int               `json:"attempts"`
	Summaries          []metrics.Summary `json:"summaries"`
}

// Compare runs every regime over the same seeds. Runs share no state and
// execute in parallel; results come back in request order and are identical
// to sequential execution.
func Compare(ctx context.Context, cfg *config.Config, req CompareRequest) ([]RegimeResult, error) {
	if req.Runs <= 0 {
		req.Runs = 1
	}
	if len(req.Regimes) == 0 {
		req.Regimes = models.Regimes()
	}
	for _, r := range req.Regimes {
		if !r.Valid() {
			return nil, fmt.Errorf("unknown regime %q", r)
		}
	}
	limit := req.Parallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	summaries := make([][]metrics.Summary, len(req.Regimes))
	for i := range summaries {
		summaries[i] = make([]metrics.Summary, req.Runs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for ri, regime := range req.Regimes {
		for k := 0; k < req.Runs; k++ {
			runCfg := *cfg
			runCfg.Simulation.Regime = regime
			runCfg.Simulation.Seed = cfg.Simulation.Seed + uint64(k)
			g.Go(func() error {
				res, err := Execute(gctx, &runCfg, Request{Logger: req.Logger})
				if err != nil {
					return fmt.Errorf("%s seed %d: %w", regime, runCfg.Simulation.Seed, err)
				}
				summaries[ri][k] = res.Summary
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]RegimeResult, len(req.Regimes))
	for i, regime := range req.Regimes {
		out[i] = aggregate(regime, summaries[i])
	}
	return out, nil
}

func aggregate(regime models.Regime, runs []metrics.Summary) RegimeResult {
	r := RegimeResult{Regime: regime, Runs: len(runs), Summaries: runs}
	if len(runs) == 0 {
		return r
	}
	for _, s := range runs {
		r.MeanTransitionRate += s.TransitionRate
		r.MeanAvgCycleTime += s.AvgCycleTime
		r.MeanDiffusion += s.DiffusionSpeed
		r.Transitions += s.Transitions
		r.Attempts += s.Attempts
	}
	n := float64(len(runs))
	r.MeanTransitionRate /= n
	r.MeanAvgCycleTime /= n
	r.MeanDiffusion /= n
	return r
}

// Ranked returns results ordered by mean transition rate, highest first.
func Ranked(results []RegimeResult) []RegimeResult {
	out := append([]RegimeResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MeanTransitionRate > out[j].MeanTransitionRate
	})
	return out
}
