package gate

import (
	"github.com/nvandessel/transitsim/internal/models"
)

// Outcomes recorded for boolean gates. The legal gate records its status.
const (
	OutcomePass = "pass"
	OutcomeFail = "fail"
)

// Factor is one named multiplier in a probability breakdown.
type Factor struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Breakdown is the full derivation of a gate probability: the base rate, the
// ordered multipliers and the clamped result.
type Breakdown struct {
	Gate    models.Gate `json:"gate"`
	Base    float64     `json:"base"`
	Factors []Factor    `json:"factors"`

	// Raw is Base times every factor, before clamping.
	Raw float64 `json:"raw"`

	// Probability is Raw clamped to [floor, ceiling].
	Probability float64 `json:"probability"`

	// Keys are the ledger keys a failure of this gate is recorded under.
	Keys []string `json:"keys,omitempty"`
}

func (b *Breakdown) mul(name string, v float64) {
	b.Factors = append(b.Factors, Factor{Name: name, Value: v})
}

// Factor returns the value of the named factor and whether it is present.
func (b Breakdown) Factor(name string) (float64, bool) {
	for _, f := range b.Factors {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

func (b *Breakdown) finish(floor, ceiling float64) {
	p := b.Base
	for _, f := range b.Factors {
		p *= f.Value
	}
	b.Raw = p
	b.Probability = models.Clamp(p, floor, ceiling)
}

// Decision is the result of one draw against a gate.
type Decision struct {
	Gate        models.Gate
	Passed      bool
	Outcome     string
	Probability float64
	Draw        float64
	Factors     []Factor
	Keys        []string

	// Legal is set only for the legal gate.
	Legal models.LegalStatus

	// VotesYes and VotesCast are set only for the adoption gate.
	VotesYes  int
	VotesCast int
}

// Event renders the decision for an EventSink.
func (d Decision) Event(tick int, entityID string, stage models.Stage) Event {
	return Event{
		Tick:        tick,
		EntityID:    entityID,
		Gate:        d.Gate,
		Stage:       stage.String(),
		Outcome:     d.Outcome,
		Probability: d.Probability,
		Draw:        d.Draw,
		Factors:     d.Factors,
	}
}
