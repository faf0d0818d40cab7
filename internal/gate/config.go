package gate

import "github.com/nvandessel/transitsim/internal/models"

// Phase is the regime state a base rate is chosen for. The shock regime
// splits into the disruption window and the time around it.
type Phase string

const (
	PhaseLinear      Phase = "linear"
	PhaseAdaptive    Phase = "adaptive"
	PhaseShock       Phase = "shock"
	PhaseShockWindow Phase = "shock_window"
)

// PhaseRates holds one value per phase.
type PhaseRates struct {
	Linear      float64 `json:"linear" yaml:"linear"`
	Adaptive    float64 `json:"adaptive" yaml:"adaptive"`
	Shock       float64 `json:"shock" yaml:"shock"`
	ShockWindow float64 `json:"shock_window" yaml:"shock_window"`
}

// For returns the rate for p.
func (r PhaseRates) For(p Phase) float64 {
	switch p {
	case PhaseAdaptive:
		return r.Adaptive
	case PhaseShock:
		return r.Shock
	case PhaseShockWindow:
		return r.ShockWindow
	default:
		return r.Linear
	}
}

// Config tunes every gate. DefaultConfig documents the defaults.
type Config struct {
	// FundingRDTE and FundingOM are the normalized budget weights.
	FundingRDTE float64 `json:"funding_rdte" yaml:"funding_rdte"`
	FundingOM   float64 `json:"funding_om" yaml:"funding_om"`

	// FundingCoefficients scale the budget weights per phase.
	FundingCoefficients PhaseRates `json:"funding_coefficients" yaml:"funding_coefficients"`

	ContractingBase PhaseRates `json:"contracting_base" yaml:"contracting_base"`
	TestRigidity    PhaseRates `json:"test_rigidity" yaml:"test_rigidity"`

	// StageDifficulty multiplies the test gate, indexed by stage.
	StageDifficulty []float64 `json:"stage_difficulty" yaml:"stage_difficulty"`

	AdoptionVotePassBase float64 `json:"adoption_vote_pass_base" yaml:"adoption_vote_pass_base"`
	AdoptionVoteFailBase float64 `json:"adoption_vote_fail_base" yaml:"adoption_vote_fail_base"`

	// AdoptionSampleFraction of end users are polled per adoption attempt.
	AdoptionSampleFraction float64 `json:"adoption_sample_fraction" yaml:"adoption_sample_fraction"`

	// Floor and Ceiling bound every boolean gate probability.
	Floor   float64 `json:"floor" yaml:"floor"`
	Ceiling float64 `json:"ceiling" yaml:"ceiling"`

	// StallReliefRate per tick in stage, capped at StallReliefCap.
	StallReliefRate float64 `json:"stall_relief_rate" yaml:"stall_relief_rate"`
	StallReliefCap  float64 `json:"stall_relief_cap" yaml:"stall_relief_cap"`

	// DependencyPenaltyRate per unsatisfied dependency, floored at
	// DependencyPenaltyFloor.
	DependencyPenaltyRate  float64 `json:"dependency_penalty_rate" yaml:"dependency_penalty_rate"`
	DependencyPenaltyFloor float64 `json:"dependency_penalty_floor" yaml:"dependency_penalty_floor"`

	// PriorsEnabled toggles the empirical-prior multiplier.
	PriorsEnabled bool `json:"priors_enabled" yaml:"priors_enabled"`

	// PriorWeights blend the prior into each boolean gate.
	PriorWeights map[models.Gate]float64 `json:"prior_weights" yaml:"prior_weights"`

	// PenaltyAxes lists, per gate, the attributes that form ledger keys.
	PenaltyAxes map[models.Gate][]string `json:"penalty_axes" yaml:"penalty_axes"`
}

// DefaultConfig returns the default gate tuning.
func DefaultConfig() Config {
	return Config{
		FundingRDTE: 1.0,
		FundingOM:   0.5,
		FundingCoefficients: PhaseRates{
			Linear: 0.3, Adaptive: 0.5, Shock: 0.45, ShockWindow: 0.15,
		},
		ContractingBase: PhaseRates{
			Linear: 0.55, Adaptive: 0.80, Shock: 0.65, ShockWindow: 0.40,
		},
		TestRigidity: PhaseRates{
			Linear: 0.8, Adaptive: 0.3, Shock: 0.4, ShockWindow: 0.6,
		},
		StageDifficulty:        []float64{1.0, 0.95, 0.9, 0.85, 0.8},
		AdoptionVotePassBase:   0.7,
		AdoptionVoteFailBase:   0.3,
		AdoptionSampleFraction: 0.2,
		Floor:                  0.01,
		Ceiling:                0.99,
		StallReliefRate:        0.02,
		StallReliefCap:         0.5,
		DependencyPenaltyRate:  0.15,
		DependencyPenaltyFloor: 0.4,
		PriorsEnabled:          true,
		PriorWeights: map[models.Gate]float64{
			models.GateFunding:     0.1,
			models.GateContracting: 0.1,
			models.GateTest:        0.15,
			models.GateAdoption:    0.2,
		},
		PenaltyAxes: DefaultPenaltyAxes(),
	}
}

// DefaultPenaltyAxes returns the default ledger key dimensions per gate.
func DefaultPenaltyAxes() map[models.Gate][]string {
	return map[models.Gate][]string{
		models.GateFunding:     {"entity", "funding_source"},
		models.GateContracting: {"entity", "org_type"},
		models.GateTest:        {"entity", "domain"},
		models.GateLegal:       {"entity", "authority"},
		models.GateAdoption:    {"entity", "domain"},
	}
}

// fundingBase applies the phase formula to the budget weights.
func (c Config) fundingBase(p Phase) float64 {
	k := c.FundingCoefficients.For(p)
	switch p {
	case PhaseAdaptive:
		return k * (c.FundingRDTE + c.FundingOM)
	case PhaseShock:
		return k * (c.FundingRDTE + 0.5*c.FundingOM)
	default:
		return k * c.FundingRDTE
	}
}

func (c Config) stageDifficulty(s models.Stage) float64 {
	if int(s) < 0 || int(s) >= len(c.StageDifficulty) {
		return 1.0
	}
	return c.StageDifficulty[s]
}
