// Package pipeline implements the per-entity stage state machine. A
// Researcher holds at most one attempt; each tick it may start an attempt,
// face the legal review, then funding, contracting and test gates, and on
// passing the final stage go to the adoption vote.
package pipeline

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/nvandessel/transitsim/internal/data"
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
)

// ErrInvalidStage reports a state-machine bug: a stage outside the fixed
// sequence, or an advance past the last stage.
var ErrInvalidStage = errors.New("invalid stage")

// Config holds researcher behavior rates.
type Config struct {
	// PrototypeRate is the per-tick chance an idle entity starts an attempt.
	PrototypeRate float64 `json:"prototype_rate" yaml:"prototype_rate"`

	// LearningRate scales the quality bump after a failure.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
}

// DefaultConfig returns the default researcher rates.
func DefaultConfig() Config {
	return Config{
		PrototypeRate: 0.05,
		LearningRate:  0.1,
	}
}

// Gates is the subset of gate.Engine the pipeline drives.
type Gates interface {
	Legal(s gate.Subject, env gate.Environment) gate.Decision
	Funding(s gate.Subject, env gate.Environment) gate.Decision
	Contracting(s gate.Subject, env gate.Environment) gate.Decision
	Test(s gate.Subject, env gate.Environment) gate.Decision
	Adoption(s gate.Subject, env gate.Environment, voters []gate.Voter) gate.Decision
	RecordFailure(d gate.Decision)
}

// Tick bundles everything a researcher reads during one step.
type Tick struct {
	Env    gate.Environment
	Deps   Dependencies
	Gates  Gates
	Voters []gate.Voter
	Rand   *rand.Rand
}

// Researcher is one research entity moving prototypes through the stages.
type Researcher struct {
	ID      string
	Context models.ProgramContext
	Scores  data.Scores

	Stage   models.Stage
	TRL     int
	Quality float64
	Legal   models.LegalStatus

	Attempts    int
	Transitions int
	CycleTimes  []int

	AttemptStart int
	StageEntered int

	cfg Config

	// heldStatus is the lifecycle to restore once dependencies resolve.
	heldStatus models.Lifecycle
	delayed    bool
}

// NewResearcher creates an idle entity with quality drawn from U(0.3, 0.7).
func NewResearcher(id string, ctx models.ProgramContext, scores data.Scores, cfg Config, rng *rand.Rand) *Researcher {
	ctx = ctx.Clamped()
	trl := ctx.InitialTRL
	if trl <= 0 {
		trl = ctx.ResolveStartStage().InitialTRL()
	}
	return &Researcher{
		ID:      id,
		Context: ctx,
		Scores:  scores.Clamped(),
		Stage:   models.StageIdle,
		TRL:     models.ClampTRL(trl),
		Quality: 0.3 + 0.4*rng.Float64(),
		Legal:   models.LegalNotConducted,
		cfg:     cfg,
	}
}

// Active reports whether an attempt is in progress.
func (r *Researcher) Active() bool {
	return r.Stage != models.StageIdle
}

// Step runs one tick of the state machine. Gate failures are recorded in the
// ledger through t.Gates. An invalid stage returns a wrapped ErrInvalidStage.
func (r *Researcher) Step(t Tick) (Report, error) {
	rep := Report{EntityID: r.ID, FromStage: r.Stage, ToStage: r.Stage}
	tick := t.Env.Tick

	if r.Stage != models.StageIdle && !r.Stage.Valid() {
		return rep, fmt.Errorf("entity %s: resume at %s: %w", r.ID, r.Stage, ErrInvalidStage)
	}

	unsatisfied := r.refreshDependencies(t.Deps)

	if r.Stage == models.StageIdle {
		if t.Rand.Float64() >= r.cfg.PrototypeRate {
			return rep, nil
		}
		r.start(tick)
		rep.Started = true
		rep.FromStage = r.Stage
		rep.ToStage = r.Stage
	}

	s := r.subject(tick, unsatisfied)

	if r.Legal == models.LegalNotConducted {
		d := t.Gates.Legal(s, t.Env)
		rep.Decisions = append(rep.Decisions, d)
		r.Legal = d.Legal
		s.Legal = d.Legal
		if d.Legal == models.LegalUnfavorable {
			t.Gates.RecordFailure(d)
			r.learn(0.5, t.Rand)
			r.Stage = models.StageIdle
			rep.ToStage = r.Stage
			rep.Rejected = true
			return rep, nil
		}
	}

	for _, g := range []func(gate.Subject, gate.Environment) gate.Decision{
		t.Gates.Funding,
		t.Gates.Contracting,
	} {
		d := g(s, t.Env)
		rep.Decisions = append(rep.Decisions, d)
		if !d.Passed {
			t.Gates.RecordFailure(d)
			return rep, nil
		}
	}

	d := t.Gates.Test(s, t.Env)
	rep.Decisions = append(rep.Decisions, d)
	if !d.Passed {
		t.Gates.RecordFailure(d)
		r.learn(1.0, t.Rand)
		return rep, nil
	}

	r.TRL = models.ClampTRL(r.TRL + r.Stage.TRLIncrement())
	if !r.Stage.Last() {
		if err := r.advance(tick); err != nil {
			return rep, err
		}
		rep.Advanced = true
		rep.ToStage = r.Stage
		return rep, nil
	}

	d = t.Gates.Adoption(s, t.Env, t.Voters)
	rep.Decisions = append(rep.Decisions, d)
	if !d.Passed {
		t.Gates.RecordFailure(d)
		r.learn(1.0, t.Rand)
		return rep, nil
	}

	rep.Adopted = true
	rep.CycleTime = tick - r.AttemptStart
	r.CycleTimes = append(r.CycleTimes, rep.CycleTime)
	r.Transitions++
	r.Stage = models.StageIdle
	r.Context.Status = models.LifecycleFielded
	r.delayed = false
	rep.ToStage = r.Stage
	return rep, nil
}

// start opens a new attempt at the program's start stage.
func (r *Researcher) start(tick int) {
	r.Stage = r.Context.ResolveStartStage()
	r.AttemptStart = tick
	r.StageEntered = tick
	r.Attempts++
	r.Legal = models.LegalNotConducted
	if trl := r.Stage.InitialTRL(); r.TRL < trl {
		r.TRL = trl
	}
}

func (r *Researcher) advance(tick int) error {
	next := r.Stage + 1
	if !next.Valid() {
		return fmt.Errorf("entity %s: advance past %s: %w", r.ID, r.Stage, ErrInvalidStage)
	}
	r.Stage = next
	r.StageEntered = tick
	return nil
}

// learn bumps quality by scale*learning_rate*U(0,1), capped at 1.
func (r *Researcher) learn(scale float64, rng *rand.Rand) {
	q := r.Quality + scale*r.cfg.LearningRate*rng.Float64()
	if q > 1 {
		q = 1
	}
	r.Quality = q
}

// refreshDependencies moves the entity to Delayed while any dependency is
// unresolved and restores the previous status once all resolve. It returns
// the unresolved count.
func (r *Researcher) refreshDependencies(deps Dependencies) int {
	unsatisfied := deps.Unsatisfied(r.Context.Dependencies)
	switch {
	case unsatisfied > 0 && !r.delayed && !r.Context.Status.Terminal():
		r.heldStatus = r.Context.Status
		r.Context.Status = models.LifecycleDelayed
		r.delayed = true
	case unsatisfied == 0 && r.delayed:
		r.Context.Status = r.heldStatus
		r.delayed = false
	}
	return unsatisfied
}

func (r *Researcher) subject(tick, unsatisfied int) gate.Subject {
	return gate.Subject{
		ID:              r.ID,
		Context:         r.Context,
		Stage:           r.Stage,
		Quality:         r.Quality,
		Legal:           r.Legal,
		TicksInStage:    tick - r.StageEntered,
		UnsatisfiedDeps: unsatisfied,
		Scores:          r.Scores,
	}
}

// TransitionRate is transitions per attempt for this entity.
func (r *Researcher) TransitionRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Transitions) / float64(r.Attempts)
}

// State is a point-in-time view of one entity.
type State struct {
	ID             string           `json:"id"`
	ProgramID      string           `json:"program_id,omitempty"`
	Stage          string           `json:"stage"`
	TRL            int              `json:"trl"`
	Quality        float64          `json:"quality"`
	Legal          string           `json:"legal"`
	Status         models.Lifecycle `json:"status"`
	Attempts       int              `json:"attempts"`
	Transitions    int              `json:"transitions"`
	TransitionRate float64          `json:"transition_rate"`
}

// State returns the current view of the entity.
func (r *Researcher) State() State {
	return State{
		ID:             r.ID,
		ProgramID:      r.Context.ProgramID,
		Stage:          r.Stage.String(),
		TRL:            r.TRL,
		Quality:        r.Quality,
		Legal:          string(r.Legal),
		Status:         r.Context.Status,
		Attempts:       r.Attempts,
		Transitions:    r.Transitions,
		TransitionRate: r.TransitionRate(),
	}
}
