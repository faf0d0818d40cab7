package metrics

import (
	"encoding/json"
	"testing"

	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/pipeline"
)

func TestSummary_Empty(t *testing.T) {
	s := New().Summary()
	if s.TransitionRate != 0 || s.AvgCycleTime != 0 || s.MedianCycleTime != 0 || s.DiffusionSpeed != 0 {
		t.Errorf("empty summary = %+v", s)
	}
	if s.Gates == nil || s.Stages == nil || s.LegalOutcomes == nil {
		t.Error("summary maps should be non-nil for stable JSON")
	}
}

func TestSummary_Rates(t *testing.T) {
	a := New()
	for i := 0; i < 4; i++ {
		a.OnAttempt()
	}
	a.OnTransition(10)
	a.OnTransition(20)
	a.OnTransition(3)
	a.RegisterTick(0)
	a.RegisterTick(2)
	a.RegisterTick(1)
	a.RegisterTick(-5)

	s := a.Summary()
	if s.TransitionRate != 0.75 {
		t.Errorf("transition rate = %v, want 0.75", s.TransitionRate)
	}
	if s.AvgCycleTime != 11 {
		t.Errorf("avg cycle = %v, want 11", s.AvgCycleTime)
	}
	if s.MedianCycleTime != 10 {
		t.Errorf("median cycle = %v, want 10", s.MedianCycleTime)
	}
	if s.DiffusionSpeed != 0.75 || s.Ticks != 4 {
		t.Errorf("diffusion = %v over %d ticks", s.DiffusionSpeed, s.Ticks)
	}

	a.OnTransition(30)
	if got := a.Summary().MedianCycleTime; got != 15 {
		t.Errorf("even median = %v, want 15", got)
	}
}

func TestObserve(t *testing.T) {
	a := New()
	a.Observe(pipeline.Report{
		Started:   true,
		FromStage: models.StageFeasibility,
		Decisions: []gate.Decision{
			{Gate: models.GateLegal, Passed: true, Outcome: string(models.LegalCaveats)},
			{Gate: models.GateFunding, Passed: true, Outcome: gate.OutcomePass},
			{Gate: models.GateContracting, Passed: true, Outcome: gate.OutcomePass},
			{Gate: models.GateTest, Passed: false, Outcome: gate.OutcomeFail},
		},
	})
	a.Observe(pipeline.Report{
		FromStage: models.StageFeasibility,
		Decisions: []gate.Decision{
			{Gate: models.GateFunding, Passed: false, Outcome: gate.OutcomeFail},
		},
	})

	s := a.Summary()
	if s.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", s.Attempts)
	}
	if s.Gates["funding"] != (Tally{Pass: 1, Fail: 1}) {
		t.Errorf("funding tally = %+v", s.Gates["funding"])
	}
	if s.Stages["feasibility"] != (Tally{Fail: 1}) {
		t.Errorf("feasibility tally = %+v", s.Stages["feasibility"])
	}
	if s.LegalOutcomes["favorable_with_caveats"] != 1 {
		t.Errorf("legal outcomes = %v", s.LegalOutcomes)
	}
	if got := s.Gates["funding"].Rate(); got != 0.5 {
		t.Errorf("funding rate = %v", got)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"transition_rate", "median_cycle_time", "diffusion_speed", "legal_outcomes"} {
		if _, ok := back[key]; !ok {
			t.Errorf("summary JSON missing %q", key)
		}
	}
}
