// Package gate composes the probabilistic checkpoints a research entity must
// pass: legal review, funding, contracting, test and adoption.
//
// Each gate has a pure probability function returning a Breakdown (base rate,
// ordered named multipliers, clamped result) and a draw method that samples
// once from the injected generator and returns a Decision. Boolean gates share
// one modifier chain:
//
//	funding color, funding source, gate-specific multipliers, lifecycle,
//	empirical prior, penalty ledger, shock, stall relief, clamp
//
// The engine never mutates entity state. Callers record failures through
// RecordFailure so the ledger sees the same keys the breakdown used.
package gate

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/nvandessel/transitsim/internal/data"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/shock"
)

// Ledger is the failure memory gates read from and write to.
type Ledger interface {
	Record(keys []string)
	Factor(keys []string) float64
}

// ShockSource supplies the disruption modifier for a gate evaluation.
type ShockSource interface {
	Modifier(gate models.Gate, target shock.Target, tick int) float64
}

// Engine evaluates gates for subjects.
type Engine struct {
	cfg    Config
	ledger Ledger
	shocks ShockSource
	repo   data.Repository
	rng    *rand.Rand
	sink   EventSink
}

// NewEngine wires an engine. A nil ledger, shock source or repository is
// replaced by a neutral one. rng must not be nil.
func NewEngine(cfg Config, ledger Ledger, shocks ShockSource, repo data.Repository, rng *rand.Rand) *Engine {
	if ledger == nil {
		ledger = noLedger{}
	}
	if shocks == nil {
		shocks = noShocks{}
	}
	if repo == nil {
		repo = data.Neutral{}
	}
	return &Engine{
		cfg:    cfg,
		ledger: ledger,
		shocks: shocks,
		repo:   repo,
		rng:    rng,
	}
}

// SetSink sets the destination for gate events. nil disables events.
func (e *Engine) SetSink(sink EventSink) {
	e.sink = sink
}

// Config returns the engine tuning.
func (e *Engine) Config() Config {
	return e.cfg
}

// RecordFailure adds one failure to every key of the decision.
func (e *Engine) RecordFailure(d Decision) {
	e.ledger.Record(d.Keys)
}

// PenaltyKeys builds "gate|axis=value" keys from the configured axes.
// Axes whose value is empty or unknown are skipped.
func (e *Engine) PenaltyKeys(g models.Gate, s Subject) []string {
	axes := e.cfg.PenaltyAxes[g]
	keys := make([]string, 0, len(axes))
	for _, axis := range axes {
		v, ok := s.Attribute(axis)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		keys = append(keys, fmt.Sprintf("%s|%s=%s", g, models.NormalizeToken(axis), v))
	}
	return keys
}

// FundingProbability is the funding gate breakdown.
func (e *Engine) FundingProbability(s Subject, env Environment) Breakdown {
	ctx := s.Context
	return e.boolean(models.GateFunding, s, env, e.cfg.fundingBase(env.Phase()), []Factor{
		{Name: "sponsor_capacity", Value: capacity(ctx.SponsorCapacity)},
		{Name: "governance_agility", Value: 0.85 + 0.3*models.Clamp01(env.MeanAgility)},
	})
}

// ContractingProbability is the contracting gate breakdown.
func (e *Engine) ContractingProbability(s Subject, env Environment) Breakdown {
	ctx := s.Context
	return e.boolean(models.GateContracting, s, env, e.cfg.ContractingBase.For(env.Phase()), []Factor{
		{Name: "executor_capacity", Value: capacity(ctx.ExecutorCapacity)},
		{Name: "org_type", Value: lookup(orgTypeMultiplier, ctx.OrgType)},
		{Name: "authority", Value: lookup(authorityMultiplier, ctx.AuthorityType)},
		{Name: "vendor_risk", Value: 1 - 0.5*models.Clamp01(s.Scores.VendorRisk)},
	})
}

// TestProbability is the test/oversight gate breakdown. Governance rigidity
// is the phase rigidity scaled by the mean policymaker rigidity.
func (e *Engine) TestProbability(s Subject, env Environment) Breakdown {
	ctx := s.Context
	rigidity := models.Clamp01(e.cfg.TestRigidity.For(env.Phase()) * (0.8 + 0.2*models.Clamp01(env.MeanRigidity)))
	base := (1-rigidity)*0.7 + 0.3*models.Clamp01(s.Quality)
	if base < 0.05 {
		base = 0.05
	}

	legal, ok := legalStatusMultiplier[s.Legal]
	if !ok {
		legal = 1.0
	}

	return e.boolean(models.GateTest, s, env, base, []Factor{
		{Name: "test_capacity", Value: capacity(ctx.TestCapacity)},
		{Name: "classification", Value: 1 - 0.3*models.Clamp01(ctx.ClassificationPenalty)},
		{Name: "gao", Value: 1 - 0.5*models.Clamp01(s.Scores.GAOPenalty)},
		{Name: "collaboration", Value: 1 + 0.2*models.Clamp01(s.Scores.Collaboration)},
		{Name: "legal_status", Value: legal},
		{Name: "dependencies", Value: e.dependencyPenalty(s.UnsatisfiedDeps)},
		{Name: "stage_difficulty", Value: e.cfg.stageDifficulty(s.Stage)},
	})
}

// AdoptionProbability is the adoption gate breakdown given the vote result.
func (e *Engine) AdoptionProbability(s Subject, env Environment, votePassed bool) Breakdown {
	base := e.cfg.AdoptionVoteFailBase
	if votePassed {
		base = e.cfg.AdoptionVotePassBase
	}
	ctx := s.Context
	return e.boolean(models.GateAdoption, s, env, base, []Factor{
		{Name: "mission_alignment", Value: capacity(ctx.MissionAlignment)},
		{Name: "domain_alignment", Value: 0.85 + 0.3*models.Clamp01(ctx.DomainAlignment)},
	})
}

// Funding draws the funding gate.
func (e *Engine) Funding(s Subject, env Environment) Decision {
	return e.decide(e.FundingProbability(s, env), s, env)
}

// Contracting draws the contracting gate.
func (e *Engine) Contracting(s Subject, env Environment) Decision {
	return e.decide(e.ContractingProbability(s, env), s, env)
}

// Test draws the test gate.
func (e *Engine) Test(s Subject, env Environment) Decision {
	return e.decide(e.TestProbability(s, env), s, env)
}

// boolean applies the shared modifier chain around the gate-specific
// factors.
func (e *Engine) boolean(g models.Gate, s Subject, env Environment, base float64, specific []Factor) Breakdown {
	ctx := s.Context
	b := Breakdown{Gate: g, Base: base}

	b.mul("funding_color", lookup(fundingColorWeight, ctx.FundingColor))
	b.mul("funding_source", lookup(fundingSourceMultiplier, ctx.FundingSource))
	b.Factors = append(b.Factors, specific...)

	lifecycle, ok := lifecycleMultiplier[ctx.Status]
	if !ok {
		lifecycle = 1.0
	}
	b.mul("lifecycle", lifecycle)
	b.mul("prior", e.priorMultiplier(g, s))

	b.Keys = e.PenaltyKeys(g, s)
	b.mul("penalty", e.ledger.Factor(b.Keys))
	b.mul("shock", e.shocks.Modifier(g, s, env.Tick))
	b.mul("stall_relief", e.stallRelief(s.TicksInStage))

	b.finish(e.cfg.Floor, e.cfg.Ceiling)
	return b
}

func (e *Engine) decide(b Breakdown, s Subject, env Environment) Decision {
	u := e.rng.Float64()
	d := Decision{
		Gate:        b.Gate,
		Passed:      u < b.Probability,
		Probability: b.Probability,
		Draw:        u,
		Factors:     b.Factors,
		Keys:        b.Keys,
	}
	d.Outcome = OutcomeFail
	if d.Passed {
		d.Outcome = OutcomePass
	}
	e.emit(d, s, env)
	return d
}

func (e *Engine) emit(d Decision, s Subject, env Environment) {
	if e.sink == nil {
		return
	}
	e.sink.Record(d.Event(env.Tick, s.ID, s.Stage))
}

// priorMultiplier is 1 + w*(prior/overall - 1), clamped to [0.5, 1.5].
// It is neutral when priors are disabled, unweighted or unavailable.
func (e *Engine) priorMultiplier(g models.Gate, s Subject) float64 {
	w := e.cfg.PriorWeights[g]
	if !e.cfg.PriorsEnabled || w == 0 {
		return 1.0
	}
	overall := e.repo.OverallPrior()
	if overall <= 0 {
		return 1.0
	}
	prior, ok := e.repo.Prior(data.PriorQuery{
		ProgramID:  s.Context.ProgramID,
		Domain:     s.Context.Domain,
		Authority:  s.Context.AuthorityType,
		VendorRisk: data.RiskBucket(s.Scores.VendorRisk),
		GAO:        data.RiskBucket(s.Scores.GAOPenalty),
	})
	if !ok {
		return 1.0
	}
	return models.Clamp(1+w*(prior/overall-1), 0.5, 1.5)
}

// stallRelief grows with time stuck in a stage so entities cannot stall
// forever.
func (e *Engine) stallRelief(ticks int) float64 {
	if ticks <= 0 {
		return 1.0
	}
	r := e.cfg.StallReliefRate * float64(ticks)
	if r > e.cfg.StallReliefCap {
		r = e.cfg.StallReliefCap
	}
	return 1 + r
}

func (e *Engine) dependencyPenalty(unsatisfied int) float64 {
	if unsatisfied <= 0 {
		return 1.0
	}
	p := 1 - e.cfg.DependencyPenaltyRate*float64(unsatisfied)
	if p < e.cfg.DependencyPenaltyFloor {
		return e.cfg.DependencyPenaltyFloor
	}
	return p
}

// capacity maps a 0..1 score to [0.7, 1.3].
func capacity(score float64) float64 {
	return 0.7 + 0.6*models.Clamp01(score)
}

type noLedger struct{}

func (noLedger) Record([]string)         {}
func (noLedger) Factor([]string) float64 { return 1.0 }

type noShocks struct{}

func (noShocks) Modifier(models.Gate, shock.Target, int) float64 { return 1.0 }
