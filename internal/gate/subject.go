package gate

import (
	"github.com/nvandessel/transitsim/internal/data"
	"github.com/nvandessel/transitsim/internal/models"
)

// Subject is the read-only view of a research entity that gates evaluate.
// It satisfies shock.Target.
type Subject struct {
	ID      string
	Context models.ProgramContext
	Stage   models.Stage
	Quality float64
	Legal   models.LegalStatus

	// TicksInStage drives stall relief.
	TicksInStage int

	// UnsatisfiedDeps counts dependencies not yet Fielded or Terminated.
	UnsatisfiedDeps int

	Scores data.Scores
}

// Attribute resolves entity_id itself and delegates everything else to the
// program context.
func (s Subject) Attribute(name string) (string, bool) {
	switch models.NormalizeToken(name) {
	case "entity", "entity_id", "id":
		return s.ID, true
	}
	return s.Context.Attribute(name)
}

// ShockSensitivity implements shock.Target.
func (s Subject) ShockSensitivity() float64 {
	return s.Context.ShockSensitivity
}

// Environment is the per-tick governance state shared by every evaluation.
type Environment struct {
	Tick    int
	Regime  models.Regime
	InShock bool

	// Means over all policymakers, snapshotted at the start of the tick.
	MeanAgility  float64
	MeanRigidity float64
}

// Phase maps the regime and shock flag to a base-rate phase.
func (e Environment) Phase() Phase {
	switch e.Regime {
	case models.RegimeAdaptive:
		return PhaseAdaptive
	case models.RegimeShock:
		if e.InShock {
			return PhaseShockWindow
		}
		return PhaseShock
	default:
		return PhaseLinear
	}
}

// Signal is the environmental nudge added to perceived utility when end
// users vote.
func (e Environment) Signal() float64 {
	switch e.Regime {
	case models.RegimeAdaptive:
		return 0.1
	case models.RegimeLinear:
		return -0.05
	default:
		if e.InShock {
			return -0.1
		}
		return 0
	}
}
