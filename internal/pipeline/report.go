package pipeline

import (
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
)

// Report summarizes one researcher step.
type Report struct {
	EntityID string

	// Started is true when an attempt began this tick.
	Started bool

	// Decisions are the gate draws made this tick, in evaluation order.
	Decisions []gate.Decision

	FromStage models.Stage
	ToStage   models.Stage

	// Advanced is true when the test gate moved the entity to the next stage.
	Advanced bool

	// Rejected is true when an unfavorable legal review ended the attempt.
	Rejected bool

	Adopted   bool
	CycleTime int
}

// Decision returns the decision for g made this tick, if any.
func (r Report) Decision(g models.Gate) (gate.Decision, bool) {
	for _, d := range r.Decisions {
		if d.Gate == g {
			return d, true
		}
	}
	return gate.Decision{}, false
}
