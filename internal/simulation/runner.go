package simulation

import (
	"testing"

	"github.com/nvandessel/transitsim/internal/gate"
)

// Runner executes scenarios inside a test, failing it on any model error.
type Runner struct {
	t *testing.T
}

// NewRunner creates a runner bound to t.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{t: t}
}

// Run builds the model, steps it scenario.Ticks times and collects every
// gate event and per-tick stat.
func (r *Runner) Run(scenario Scenario) SimulationResult {
	r.t.Helper()

	collector := &gate.Collector{}
	opts := scenario.Options()
	if opts.Sink != nil {
		opts.Sink = gate.MultiSink{opts.Sink, collector}
	} else {
		opts.Sink = collector
	}

	m, err := New(opts)
	if err != nil {
		r.t.Fatalf("Run(%s): building model: %v", scenario.Name, err)
	}

	ticks := make([]TickStats, 0, scenario.Ticks)
	m.AddObserver(func(s TickStats) {
		ticks = append(ticks, s)
	})

	for i := 0; i < scenario.Ticks; i++ {
		if scenario.BeforeTick != nil {
			scenario.BeforeTick(i, m)
		}
		if err := m.Step(); err != nil {
			r.t.Fatalf("Run(%s): %v", scenario.Name, err)
		}
	}

	return SimulationResult{
		Name:    scenario.Name,
		Summary: m.Summary(),
		Ticks:   ticks,
		Events:  collector.Events,
		Model:   m,
	}
}
