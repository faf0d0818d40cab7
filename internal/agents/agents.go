// Package agents holds the governance population: policymakers whose
// agility and rigidity bend under end-user feedback in the adaptive regime,
// and end users who vote on adoption and push feedback upstream.
package agents

import (
	"github.com/nvandessel/transitsim/internal/models"
)

// Config holds the initial agent parameters.
type Config struct {
	AllocationAgility float64 `json:"allocation_agility" yaml:"allocation_agility"`
	OversightRigidity float64 `json:"oversight_rigidity" yaml:"oversight_rigidity"`
	AdoptionThreshold float64 `json:"adoption_threshold" yaml:"adoption_threshold"`
	FeedbackStrength  float64 `json:"feedback_strength" yaml:"feedback_strength"`
}

// DefaultConfig returns the default agent parameters.
func DefaultConfig() Config {
	return Config{
		AllocationAgility: 0.1,
		OversightRigidity: 0.8,
		AdoptionThreshold: 0.6,
		FeedbackStrength:  0.4,
	}
}

const (
	maxAdjustment  = 0.2
	inboxScale     = 0.1
	feedbackScale  = 0.1
	neutralAverage = 0.5
)

// Policymaker allocates funding and applies oversight.
type Policymaker struct {
	ID                string
	AllocationAgility float64
	OversightRigidity float64
	inbox             float64
}

// NewPolicymaker creates a policymaker with clamped parameters.
func NewPolicymaker(id string, cfg Config) *Policymaker {
	return &Policymaker{
		ID:                id,
		AllocationAgility: models.Clamp01(cfg.AllocationAgility),
		OversightRigidity: models.Clamp01(cfg.OversightRigidity),
	}
}

// ReceiveFeedback accumulates pressure to be processed on the next step.
func (p *Policymaker) ReceiveFeedback(amount float64) {
	p.inbox += amount
}

// Inbox returns the unprocessed feedback.
func (p *Policymaker) Inbox() float64 {
	return p.inbox
}

// Step converts feedback into more agility and less rigidity, in the
// adaptive regime only. Every regime empties the inbox.
func (p *Policymaker) Step(regime models.Regime) {
	if regime != models.RegimeAdaptive {
		p.inbox = 0
		return
	}
	adj := p.inbox * inboxScale
	if adj > maxAdjustment {
		adj = maxAdjustment
	}
	p.AllocationAgility = models.Clamp01(p.AllocationAgility + adj)
	p.OversightRigidity = models.Clamp01(p.OversightRigidity - adj)
	p.inbox = 0
}

// EndUser evaluates prototypes and signals upstream.
type EndUser struct {
	ID                string
	AdoptionThreshold float64
	FeedbackStrength  float64
}

// NewEndUser creates an end user.
func NewEndUser(id string, cfg Config) *EndUser {
	return &EndUser{
		ID:                id,
		AdoptionThreshold: cfg.AdoptionThreshold,
		FeedbackStrength:  cfg.FeedbackStrength,
	}
}

// Vote implements gate.Voter.
func (u *EndUser) Vote(quality, signal float64) bool {
	return quality+signal >= u.AdoptionThreshold
}

// Step pushes strength*0.1 feedback to every policymaker.
func (u *EndUser) Step(policymakers []*Policymaker) {
	amount := u.FeedbackStrength * feedbackScale
	for _, p := range policymakers {
		p.ReceiveFeedback(amount)
	}
}

// Governance is the mean policymaker state used by gates for one tick.
type Governance struct {
	MeanAgility  float64
	MeanRigidity float64
}

// Snapshot averages policymaker parameters. With no policymakers both means
// are 0.5.
func Snapshot(policymakers []*Policymaker) Governance {
	if len(policymakers) == 0 {
		return Governance{MeanAgility: neutralAverage, MeanRigidity: neutralAverage}
	}
	var g Governance
	for _, p := range policymakers {
		g.MeanAgility += p.AllocationAgility
		g.MeanRigidity += p.OversightRigidity
	}
	n := float64(len(policymakers))
	g.MeanAgility /= n
	g.MeanRigidity /= n
	return g
}
