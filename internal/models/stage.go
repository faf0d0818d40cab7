package models

import "fmt"

// Stage is a position in the fixed approval sequence. StageIdle means the
// entity has no active attempt.
type Stage int

const (
	StageIdle              Stage = -1
	StageFeasibility       Stage = 0
	StagePrototypeDemo     Stage = 1
	StageFunctionalTest    Stage = 2
	StageVulnerabilityTest Stage = 3
	StageOperationalTest   Stage = 4
)

// StageCount is the number of stages in the pipeline.
const StageCount = 5

var stageNames = [StageCount]string{
	"feasibility",
	"prototype_demo",
	"functional_test",
	"vulnerability_test",
	"operational_test",
}

// Stages returns the fixed stage sequence in order.
func Stages() []Stage {
	return []Stage{
		StageFeasibility,
		StagePrototypeDemo,
		StageFunctionalTest,
		StageVulnerabilityTest,
		StageOperationalTest,
	}
}

// String returns the stage name, "idle" for StageIdle.
func (s Stage) String() string {
	if s == StageIdle {
		return "idle"
	}
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s indexes the stage sequence. StageIdle is not valid.
func (s Stage) Valid() bool {
	return s >= 0 && s < StageCount
}

// Last reports whether s is the final stage.
func (s Stage) Last() bool {
	return s == StageOperationalTest
}

// TRLIncrement is the readiness gain for passing the test gate at s.
func (s Stage) TRLIncrement() int {
	if s == StageOperationalTest {
		return 2
	}
	return 1
}

// InitialTRL is the readiness an entity is assumed to hold when an attempt
// starts at s.
func (s Stage) InitialTRL() int {
	switch s {
	case StageFeasibility:
		return 2
	case StagePrototypeDemo:
		return 4
	case StageFunctionalTest:
		return 5
	case StageVulnerabilityTest, StageOperationalTest:
		return 6
	default:
		return 1
	}
}

// ParseStage maps a stage name to a Stage. Unknown names return StageIdle, false.
func ParseStage(name string) (Stage, bool) {
	for i, n := range stageNames {
		if n == normalizeToken(name) {
			return Stage(i), true
		}
	}
	return StageIdle, false
}

// StageFromBudgetActivity derives the starting stage from a DoD budget activity
// code ("6.4", "BA4", "04"). Unknown codes start at feasibility.
func StageFromBudgetActivity(code string) Stage {
	switch normalizeToken(code) {
	case "6.4", "ba4", "04", "4":
		return StagePrototypeDemo
	case "6.5", "ba5", "05", "5":
		return StageFunctionalTest
	case "6.7", "ba7", "07", "7":
		return StageOperationalTest
	default:
		return StageFeasibility
	}
}

// MaxTRL is the top of the technology-readiness scale.
const MaxTRL = 9

// MinTRL is the bottom of the technology-readiness scale.
const MinTRL = 1

// ClampTRL bounds a readiness level to [MinTRL, MaxTRL].
func ClampTRL(trl int) int {
	if trl < MinTRL {
		return MinTRL
	}
	if trl > MaxTRL {
		return MaxTRL
	}
	return trl
}
