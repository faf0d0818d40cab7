package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nvandessel/transitsim/internal/agents"
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/simulation"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(Config{RunID: "run-1", Regime: "adaptive", Seed: 42})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

func TestNewCollector_InvalidConfig(t *testing.T) {
	_, err := NewCollector(Config{Regime: "linear"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewCollector() = %v, want ErrInvalidConfig", err)
	}
}

func TestCollector_Record(t *testing.T) {
	c := newTestCollector(t)
	var sink gate.EventSink = c
	sink.Record(gate.Event{Gate: models.GateFunding, Outcome: gate.OutcomePass, Probability: 0.4})
	sink.Record(gate.Event{Gate: models.GateFunding, Outcome: gate.OutcomePass, Probability: 0.6})
	sink.Record(gate.Event{Gate: models.GateFunding, Outcome: gate.OutcomeFail, Probability: 0.2})

	if got := testutil.ToFloat64(c.gateOutcomes.WithLabelValues("funding", "pass")); got != 2 {
		t.Errorf("funding pass = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.gateOutcomes.WithLabelValues("funding", "fail")); got != 1 {
		t.Errorf("funding fail = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.gateProbability); n != 1 {
		t.Errorf("probability histograms = %d, want 1", n)
	}
}

func TestCollector_ObserveTickAndFinish(t *testing.T) {
	c := newTestCollector(t)
	var observe simulation.TickObserver = c.ObserveTick

	observe(simulation.TickStats{Tick: 0, NewAttempts: 3, ActiveAttempts: 3, Governance: agents.Governance{MeanAgility: 0.1, MeanRigidity: 0.8}})
	observe(simulation.TickStats{Tick: 1, InShock: true, NewAttempts: 1, NewTransitions: 2, ActiveAttempts: 2, LedgerKeys: 5,
		Governance: agents.Governance{MeanAgility: 0.2, MeanRigidity: 0.7}})

	checks := map[string]struct {
		got, want float64
	}{
		"attempts":    {testutil.ToFloat64(c.attempts), 4},
		"transitions": {testutil.ToFloat64(c.transitions), 2},
		"tick":        {testutil.ToFloat64(c.tick), 1},
		"in_shock":    {testutil.ToFloat64(c.inShock), 1},
		"active":      {testutil.ToFloat64(c.activeAttempts), 2},
		"ledger":      {testutil.ToFloat64(c.ledgerKeys), 5},
		"agility":     {testutil.ToFloat64(c.meanAgility), 0.2},
		"rigidity":    {testutil.ToFloat64(c.meanRigidity), 0.7},
	}
	for name, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %v, want %v", name, ch.got, ch.want)
		}
	}

	c.Finish(metrics.Summary{TransitionRate: 0.5, AvgCycleTime: 12, MedianCycleTime: 10, DiffusionSpeed: 1})
	if got := testutil.ToFloat64(c.transitionRate); got != 0.5 {
		t.Errorf("transition rate = %v", got)
	}
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := newTestCollector(t)
	c.Record(gate.Event{Gate: models.GateTest, Outcome: gate.OutcomeFail, Probability: 0.3})
	c.Finish(metrics.Summary{TransitionRate: 0.25})

	path := filepath.Join(t.TempDir(), "exports", "run-1.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`transitsim_gate_evaluations_total{gate="test",outcome="fail",regime="adaptive",run_id="run-1",seed="42"} 1`,
		`transitsim_transition_rate{regime="adaptive",run_id="run-1",seed="42"} 0.25`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q\n%s", want, text)
		}
	}
}

func TestCollector_IsolatedRegistries(t *testing.T) {
	a := newTestCollector(t)
	b := newTestCollector(t)
	a.Record(gate.Event{Gate: models.GateTest, Outcome: gate.OutcomePass})
	if got := testutil.ToFloat64(b.gateOutcomes.WithLabelValues("test", "pass")); got != 0 {
		t.Errorf("collectors share state: %v", got)
	}
}
