// Package metrics aggregates run-level KPIs: transition rate, cycle times,
// diffusion speed and per-gate, per-stage and legal outcome tallies.
package metrics

import (
	"sort"

	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/pipeline"
)

// Tally counts gate outcomes.
type Tally struct {
	Pass int `json:"pass"`
	Fail int `json:"fail"`
}

// Rate is Pass / (Pass + Fail), 0 when empty.
func (t Tally) Rate() float64 {
	n := t.Pass + t.Fail
	if n == 0 {
		return 0
	}
	return float64(t.Pass) / float64(n)
}

// Summary is the result of a run.
type Summary struct {
	TransitionRate  float64          `json:"transition_rate"`
	AvgCycleTime    float64          `json:"avg_cycle_time"`
	MedianCycleTime float64          `json:"median_cycle_time"`
	DiffusionSpeed  float64          `json:"diffusion_speed"`
	Attempts        int              `json:"attempts"`
	Transitions     int              `json:"transitions"`
	Ticks           int              `json:"ticks"`
	Gates           map[string]Tally `json:"gates"`
	Stages          map[string]Tally `json:"stages"`
	LegalOutcomes   map[string]int   `json:"legal_outcomes"`
}

// Aggregator accumulates observations over a run. It is not safe for
// concurrent use.
type Aggregator struct {
	attempts         int
	transitions      int
	cycleTimes       []int
	adoptionsPerTick []int
	gates            map[string]Tally
	stages           map[string]Tally
	legal            map[string]int
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		gates:  make(map[string]Tally),
		stages: make(map[string]Tally),
		legal:  make(map[string]int),
	}
}

// OnAttempt counts one started attempt.
func (a *Aggregator) OnAttempt() {
	a.attempts++
}

// OnTransition records one transition and its cycle time.
func (a *Aggregator) OnTransition(cycleTime int) {
	a.transitions++
	a.cycleTimes = append(a.cycleTimes, cycleTime)
}

// RegisterTick records the number of new adoptions in a tick.
func (a *Aggregator) RegisterTick(adopted int) {
	if adopted < 0 {
		adopted = 0
	}
	a.adoptionsPerTick = append(a.adoptionsPerTick, adopted)
}

// Observe tallies a researcher step: attempt starts, every gate outcome,
// test outcomes per stage and legal review results.
func (a *Aggregator) Observe(rep pipeline.Report) {
	if rep.Started {
		a.OnAttempt()
	}
	for _, d := range rep.Decisions {
		a.recordDecision(rep.FromStage, d)
	}
}

func (a *Aggregator) recordDecision(stage models.Stage, d gate.Decision) {
	key := string(d.Gate)
	t := a.gates[key]
	if d.Passed {
		t.Pass++
	} else {
		t.Fail++
	}
	a.gates[key] = t

	switch d.Gate {
	case models.GateTest:
		st := a.stages[stage.String()]
		if d.Passed {
			st.Pass++
		} else {
			st.Fail++
		}
		a.stages[stage.String()] = st
	case models.GateLegal:
		a.legal[d.Outcome]++
	}
}

// Attempts returns the attempts counted so far.
func (a *Aggregator) Attempts() int {
	return a.attempts
}

// Summary computes the run KPIs.
func (a *Aggregator) Summary() Summary {
	s := Summary{
		Attempts:      a.attempts,
		Transitions:   a.transitions,
		Ticks:         len(a.adoptionsPerTick),
		Gates:         copyTallies(a.gates),
		Stages:        copyTallies(a.stages),
		LegalOutcomes: make(map[string]int, len(a.legal)),
	}
	for k, v := range a.legal {
		s.LegalOutcomes[k] = v
	}
	if a.attempts > 0 {
		s.TransitionRate = float64(a.transitions) / float64(a.attempts)
	}
	s.AvgCycleTime = meanInts(a.cycleTimes)
	s.MedianCycleTime = medianInts(a.cycleTimes)
	s.DiffusionSpeed = meanInts(a.adoptionsPerTick)
	return s
}

func copyTallies(in map[string]Tally) map[string]Tally {
	out := make(map[string]Tally, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func meanInts(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func medianInts(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]int, len(xs))
	copy(sorted, xs)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
