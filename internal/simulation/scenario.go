package simulation

import (
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/shock"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name   string
	Regime models.Regime
	Seed   uint64
	Ticks  int

	// Population sizes. Zero values fall back to DefaultOptions.
	Researchers  int
	Policymakers int
	EndUsers     int

	Programs []models.ProgramContext
	Shocks   []shock.Event

	// NoPriors disables the historical prior multiplier.
	NoPriors bool

	// Configure, when non-nil, edits the options after the scenario fields
	// are applied. Use it for gate or penalty overrides.
	Configure func(*Options)

	// BeforeTick, when non-nil, is called before each tick executes.
	BeforeTick func(tick int, m *Model)
}

// Options returns the model options the scenario describes.
func (s Scenario) Options() Options {
	opts := DefaultOptions()
	if s.Regime != "" {
		opts.Regime = s.Regime
	}
	if s.Seed != 0 {
		opts.Seed = s.Seed
	}
	if s.Researchers > 0 {
		opts.Researchers = s.Researchers
	}
	if s.Policymakers > 0 {
		opts.Policymakers = s.Policymakers
	}
	if s.EndUsers > 0 {
		opts.EndUsers = s.EndUsers
	}
	opts.Programs = s.Programs
	opts.Shocks = s.Shocks
	if s.NoPriors {
		opts.Gates.PriorsEnabled = false
	}
	if s.Configure != nil {
		s.Configure(&opts)
	}
	return opts
}

// SimulationResult captures the per-tick stats, every gate event and the
// final summary of a scenario.
type SimulationResult struct {
	Name    string
	Summary metrics.Summary
	Ticks   []TickStats
	Events  []gate.Event
	Model   *Model
}

// Count returns how many events for g ended with outcome.
func (r SimulationResult) Count(g models.Gate, outcome string) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Gate == g && ev.Outcome == outcome {
			n++
		}
	}
	return n
}

// EventsBetween returns the events with from <= tick < to.
func (r SimulationResult) EventsBetween(from, to int) []gate.Event {
	var out []gate.Event
	for _, ev := range r.Events {
		if ev.Tick >= from && ev.Tick < to {
			out = append(out, ev)
		}
	}
	return out
}
