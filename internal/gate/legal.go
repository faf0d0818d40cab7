package gate

import (
	"github.com/nvandessel/transitsim/internal/models"
)

// LegalWeight is the probability mass of one review outcome.
type LegalWeight struct {
	Status models.LegalStatus `json:"status"`
	Weight float64            `json:"weight"`
}

// LegalBreakdown is the derivation of the legal review distribution.
type LegalBreakdown struct {
	// Shift is the fraction of favorable mass moved to worse outcomes.
	Shift   float64       `json:"shift"`
	Weights []LegalWeight `json:"weights"`
	Factors []Factor      `json:"factors"`
	Keys    []string      `json:"keys,omitempty"`
}

// Cleared is the total weight of favorable and favorable-with-caveats.
func (b LegalBreakdown) Cleared() float64 {
	sum := 0.0
	for _, w := range b.Weights {
		if w.Status.Cleared() {
			sum += w.Weight
		}
	}
	return sum
}

// Weight returns the normalized weight of status.
func (b LegalBreakdown) Weight(status models.LegalStatus) float64 {
	for _, w := range b.Weights {
		if w.Status == status {
			return w.Weight
		}
	}
	return 0
}

// Base legal review distribution, in draw order.
var legalBase = []LegalWeight{
	{Status: models.LegalFavorable, Weight: 0.60},
	{Status: models.LegalCaveats, Weight: 0.25},
	{Status: models.LegalUnfavorable, Weight: 0.05},
	{Status: models.LegalNotConducted, Weight: 0.10},
}

const (
	maxLegalShift        = 0.8
	maxLegalPenaltyShift = 0.5
	shiftToCaveats       = 0.7
)

// LegalWeights returns the categorical review distribution for s. Authority,
// kinetic category and prior legal failures move favorable mass: 70% to
// caveats, 30% to unfavorable. The legal shock modifier then scales the
// favorable mass and the weights are renormalized.
func (e *Engine) LegalWeights(s Subject, env Environment) LegalBreakdown {
	ctx := s.Context
	keys := e.PenaltyKeys(models.GateLegal, s)

	authority := shiftFor(legalAuthorityShift, ctx.AuthorityType)
	kinetic := shiftFor(legalKineticShift, ctx.KineticCategory)
	penaltyShift := 1 - e.ledger.Factor(keys)
	if penaltyShift > maxLegalPenaltyShift {
		penaltyShift = maxLegalPenaltyShift
	}
	if penaltyShift < 0 {
		penaltyShift = 0
	}
	shift := authority + kinetic + penaltyShift
	if shift > maxLegalShift {
		shift = maxLegalShift
	}

	weights := make([]LegalWeight, len(legalBase))
	copy(weights, legalBase)
	moved := shift * weights[0].Weight
	weights[0].Weight -= moved
	weights[1].Weight += moved * shiftToCaveats
	weights[2].Weight += moved * (1 - shiftToCaveats)

	shockMod := e.shocks.Modifier(models.GateLegal, s, env.Tick)
	weights[0].Weight *= shockMod

	total := 0.0
	for _, w := range weights {
		total += w.Weight
	}
	if total > 0 {
		for i := range weights {
			weights[i].Weight /= total
		}
	}

	return LegalBreakdown{
		Shift:   shift,
		Weights: weights,
		Factors: []Factor{
			{Name: "authority_shift", Value: authority},
			{Name: "kinetic_shift", Value: kinetic},
			{Name: "penalty_shift", Value: penaltyShift},
			{Name: "shock", Value: shockMod},
		},
		Keys: keys,
	}
}

// Legal draws one review outcome. Passed is true for favorable and
// favorable-with-caveats. Probability reports the cleared mass.
func (e *Engine) Legal(s Subject, env Environment) Decision {
	b := e.LegalWeights(s, env)
	u := e.rng.Float64()

	status := models.LegalNotConducted
	acc := 0.0
	for _, w := range b.Weights {
		acc += w.Weight
		if u < acc {
			status = w.Status
			break
		}
	}

	d := Decision{
		Gate:        models.GateLegal,
		Passed:      status.Cleared(),
		Outcome:     string(status),
		Probability: b.Cleared(),
		Draw:        u,
		Factors:     b.Factors,
		Keys:        b.Keys,
		Legal:       status,
	}
	e.emit(d, s, env)
	return d
}
