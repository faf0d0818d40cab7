// Package experiment executes configured runs end to end: it loads external
// data, builds the model, fans gate events out to the enabled sinks and
// records the finished run.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/data"
	"github.com/nvandessel/transitsim/internal/export"
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/logging"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/simulation"
	"github.com/nvandessel/transitsim/internal/store"
	"github.com/nvandessel/transitsim/internal/telemetry"
)

// Request carries per-invocation settings that are not part of the config.
type Request struct {
	// Label tags the stored run.
	Label string

	// Persist enables the sinks selected in the output config. Compare runs
	// leave it off.
	Persist bool

	// Store is the open run store. Required when Persist and
	// cfg.Output.Store are both set.
	Store *store.SQLiteRunStore

	Logger *slog.Logger
}

// Result is a finished run.
type Result struct {
	RunID     string            `json:"run_id"`
	ConfigSHA string            `json:"config_sha"`
	Label     string            `json:"label,omitempty"`
	Summary   metrics.Summary   `json:"summary"`
	Artifacts []string          `json:"artifacts,omitempty"`
	Model     *simulation.Model `json:"-"`
	Config    *config.Config    `json:"-"`
}

// LoadData loads the snapshot named by cfg.Data.Path. An empty path gives
// a nil snapshot.
func LoadData(cfg *config.Config) (*data.Static, error) {
	if cfg.Data.Path == "" {
		return nil, nil
	}
	return data.LoadFile(cfg.Data.Path)
}

// Options builds the model options for cfg, wiring the data snapshot's
// scores, priors, programs and shocks in.
func Options(cfg *config.Config, logger *slog.Logger) (simulation.Options, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	opts := cfg.ModelOptions()
	opts.Logger = logger

	st, err := LoadData(cfg)
	if err != nil {
		return simulation.Options{}, err
	}
	if st == nil {
		return opts, nil
	}
	opts.Repository = st
	opts.Programs = st.Programs()
	opts.Shocks = append(opts.Shocks, st.Shocks()...)
	logger.Debug("loaded data snapshot",
		"path", cfg.Data.Path,
		"programs", len(opts.Programs),
		"shocks", len(st.Shocks()),
		"coverage", st.Coverage())
	return opts, nil
}

// Execute runs cfg once. It checks ctx between ticks and returns ctx.Err()
// when cancelled. A stored run that does not finish is removed again.
func Execute(ctx context.Context, cfg *config.Config, req Request) (_ *Result, retErr error) {
	logger := req.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	sha, err := cfg.SHA()
	if err != nil {
		return nil, err
	}
	opts, err := Options(cfg, logger)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	res := &Result{RunID: runID, ConfigSHA: sha, Label: req.Label, Config: cfg}
	started := time.Now().UTC()

	var (
		sinks     gate.MultiSink
		events    *store.EventWriter
		arrow     *export.ArrowWriter
		collector *telemetry.Collector
		eventLog  *logging.EventLog
	)
	if req.Persist {
		eventLog = logging.NewEventLog(cfg.Output.Dir, cfg.Logging.Level, runID)
		if eventLog != nil {
			sinks = append(sinks, eventLog)
		}
		defer eventLog.Close()

		if cfg.Output.Store {
			if req.Store == nil {
				return nil, fmt.Errorf("run store is not open")
			}
			// The events table references the run row, so it goes in first.
			if err := req.Store.SaveRun(ctx, runRecord(res, cfg, started)); err != nil {
				return nil, err
			}
			defer func() {
				if retErr == nil {
					return
				}
				// ctx may be the reason we failed, so clean up without it.
				cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := req.Store.DeleteRun(cctx, runID); err != nil {
					logger.Warn("failed to remove unfinished run", "run_id", runID, "error", err)
				}
			}()
			events = req.Store.NewEventWriter(runID, 0)
			sinks = append(sinks, events)
		}
		if cfg.Output.Arrow {
			path := store.ExportPath(cfg.Output.Dir, runID, constants.ArrowSuffix)
			arrow, err = export.Create(path, runID, 0)
			if err != nil {
				return nil, err
			}
			defer arrow.Close()
			sinks = append(sinks, arrow)
			res.Artifacts = append(res.Artifacts, path)
		}
		if cfg.Output.Metrics {
			collector, err = telemetry.NewCollector(telemetry.Config{
				RunID:  runID,
				Regime: string(cfg.Simulation.Regime),
				Seed:   cfg.Simulation.Seed,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, collector)
		}
	}
	if len(sinks) > 0 {
		opts.Sink = sinks
	}

	m, err := simulation.New(opts)
	if err != nil {
		return nil, err
	}
	if collector != nil {
		m.AddObserver(collector.ObserveTick)
	}
	res.Model = m

	logger.Info("run started",
		"run_id", runID,
		"regime", cfg.Simulation.Regime,
		"seed", cfg.Simulation.Seed,
		"ticks", cfg.Simulation.Ticks)

	for i := 0; i < cfg.Simulation.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.Step(); err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
	}
	res.Summary = m.Summary()

	if err := eventLog.Err(); err != nil {
		logger.Warn("gate event log incomplete", "error", err)
	}
	if events != nil {
		if err := events.Flush(ctx); err != nil {
			return nil, err
		}
	}
	if arrow != nil {
		if err := arrow.Close(); err != nil {
			return nil, err
		}
	}
	if collector != nil {
		collector.Finish(res.Summary)
		path := store.ExportPath(cfg.Output.Dir, runID, constants.MetricsSuffix)
		if err := collector.WriteTextfile(path); err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, path)
	}
	if req.Persist && cfg.Output.Store {
		if err := req.Store.SaveRun(ctx, runRecord(res, cfg, started)); err != nil {
			return nil, err
		}
	}

	logger.Info("run finished",
		"run_id", runID,
		"transitions", res.Summary.Transitions,
		"attempts", res.Summary.Attempts,
		"transition_rate", res.Summary.TransitionRate)
	return res, nil
}

func runRecord(res *Result, cfg *config.Config, created time.Time) store.Run {
	return store.Run{
		ID:        res.RunID,
		Label:     res.Label,
		Regime:    cfg.Simulation.Regime,
		Seed:      cfg.Simulation.Seed,
		Ticks:     cfg.Simulation.Ticks,
		ConfigSHA: res.ConfigSHA,
		Summary:   res.Summary,
		CreatedAt: created,
	}
}
