package simulation

import (
	"testing"

	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
)

// AssertTransitions asserts the run produced at least min transitions.
func AssertTransitions(t *testing.T, result SimulationResult, min int) {
	t.Helper()
	if result.Summary.Transitions < min {
		t.Errorf("AssertTransitions: %s: %d transitions (need %d)", result.Name, result.Summary.Transitions, min)
	}
}

// AssertRateAtLeast asserts that a's transition rate is at least b's.
func AssertRateAtLeast(t *testing.T, a, b SimulationResult) {
	t.Helper()
	if a.Summary.TransitionRate < b.Summary.TransitionRate {
		t.Errorf("AssertRateAtLeast: %s rate %.4f < %s rate %.4f",
			a.Name, a.Summary.TransitionRate, b.Name, b.Summary.TransitionRate)
	}
}

// AssertProbabilitiesBounded asserts every event probability lies in [0, 1]
// and every draw in [0, 1).
func AssertProbabilitiesBounded(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, ev := range result.Events {
		if ev.Probability < 0 || ev.Probability > 1 {
			t.Errorf("AssertProbabilitiesBounded: tick %d %s %s: probability %.6f", ev.Tick, ev.EntityID, ev.Gate, ev.Probability)
		}
		if ev.Draw < 0 || ev.Draw >= 1 {
			t.Errorf("AssertProbabilitiesBounded: tick %d %s %s: draw %.6f", ev.Tick, ev.EntityID, ev.Gate, ev.Draw)
		}
	}
}

// AssertOutcomesConsistent asserts that boolean gate outcomes match their
// draw: pass exactly when draw < probability.
func AssertOutcomesConsistent(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, ev := range result.Events {
		if ev.Gate == models.GateLegal {
			continue
		}
		want := gate.OutcomeFail
		if ev.Draw < ev.Probability {
			want = gate.OutcomePass
		}
		if ev.Outcome != want {
			t.Errorf("AssertOutcomesConsistent: tick %d %s %s: outcome %s, draw %.4f, p %.4f",
				ev.Tick, ev.EntityID, ev.Gate, ev.Outcome, ev.Draw, ev.Probability)
		}
	}
}

// AssertMeanProbabilityBelow asserts the mean probability of gate g events in
// [from, to) is below max.
func AssertMeanProbabilityBelow(t *testing.T, result SimulationResult, g models.Gate, from, to int, max float64) {
	t.Helper()
	mean, n := MeanProbability(result, g, from, to)
	if n == 0 {
		t.Errorf("AssertMeanProbabilityBelow: no %s events in [%d, %d)", g, from, to)
		return
	}
	if mean >= max {
		t.Errorf("AssertMeanProbabilityBelow: %s mean probability %.4f in [%d, %d) >= %.4f", g, mean, from, to, max)
	}
}

// AssertTRLBounded asserts every researcher's TRL stays within 1..9.
func AssertTRLBounded(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, r := range result.Model.Researchers() {
		if r.TRL < models.MinTRL || r.TRL > models.MaxTRL {
			t.Errorf("AssertTRLBounded: %s TRL %d", r.ID, r.TRL)
		}
	}
}

// AssertDiffusionConsistent asserts the summary's diffusion speed equals the
// per-tick mean of new transitions.
func AssertDiffusionConsistent(t *testing.T, result SimulationResult) {
	t.Helper()
	if len(result.Ticks) == 0 {
		return
	}
	total := 0
	for _, s := range result.Ticks {
		total += s.NewTransitions
	}
	want := float64(total) / float64(len(result.Ticks))
	if diff := result.Summary.DiffusionSpeed - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AssertDiffusionConsistent: diffusion %.6f, per-tick mean %.6f", result.Summary.DiffusionSpeed, want)
	}
}

// MeanProbability returns the mean probability of gate g events in
// [from, to) and the number of events averaged.
func MeanProbability(result SimulationResult, g models.Gate, from, to int) (float64, int) {
	sum, n := 0.0, 0
	for _, ev := range result.EventsBetween(from, to) {
		if ev.Gate == g {
			sum += ev.Probability
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
