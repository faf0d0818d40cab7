package models

// ContextVersion is bumped whenever ProgramContext gains or changes a field
// that gates read.
const ContextVersion = 1

// Neutral defaults for scores missing from external data.
const (
	NeutralScore            = 0.5
	DefaultShockSensitivity = 1.0
	MaxShockSensitivity     = 2.0
)

// ProgramContext is the program-level context a research entity carries into
// every gate evaluation. All scores are resolved (defaults applied) before the
// struct is built; gates still clamp on read.
type ProgramContext struct {
	Version int `json:"version" yaml:"version"`

	// Identity and categorical dimensions
	ProgramID        string `json:"program_id,omitempty" yaml:"program_id,omitempty"`
	ServiceComponent string `json:"service,omitempty" yaml:"service,omitempty"`
	Domain           string `json:"domain,omitempty" yaml:"domain,omitempty"`
	OrgType          string `json:"org_type,omitempty" yaml:"org_type,omitempty"`
	AuthorityType    string `json:"authority,omitempty" yaml:"authority,omitempty"`
	KineticCategory  string `json:"kinetic,omitempty" yaml:"kinetic,omitempty"`
	FundingColor     string `json:"funding_color,omitempty" yaml:"funding_color,omitempty"`
	FundingSource    string `json:"funding_source,omitempty" yaml:"funding_source,omitempty"`
	BudgetActivity   string `json:"budget_activity,omitempty" yaml:"budget_activity,omitempty"`
	VendorID         string `json:"vendor,omitempty" yaml:"vendor,omitempty"`

	// StartStage overrides the stage derived from BudgetActivity.
	StartStage string `json:"start_stage,omitempty" yaml:"start_stage,omitempty"`

	// Capacity and alignment scores, 0..1
	SponsorCapacity  float64 `json:"sponsor_capacity" yaml:"sponsor_capacity"`
	ExecutorCapacity float64 `json:"executor_capacity" yaml:"executor_capacity"`
	TestCapacity     float64 `json:"test_capacity" yaml:"test_capacity"`
	MissionAlignment float64 `json:"mission_alignment" yaml:"mission_alignment"`
	DomainAlignment  float64 `json:"domain_alignment" yaml:"domain_alignment"`

	// ClassificationPenalty is 0..1; higher means more test-range friction.
	ClassificationPenalty float64 `json:"classification_penalty" yaml:"classification_penalty"`

	// ShockSensitivity scales shock magnitudes for this program, 0..2.
	ShockSensitivity float64 `json:"shock_sensitivity" yaml:"shock_sensitivity"`

	// InitialTRL of 0 means derive from the start stage.
	InitialTRL int `json:"initial_trl,omitempty" yaml:"initial_trl,omitempty"`

	// Dependencies lists entity or program identifiers this program waits on.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	Status Lifecycle `json:"status" yaml:"status"`
}

// DefaultProgramContext returns a context with neutral scores.
func DefaultProgramContext() ProgramContext {
	return ProgramContext{
		Version:          ContextVersion,
		SponsorCapacity:  NeutralScore,
		ExecutorCapacity: NeutralScore,
		TestCapacity:     NeutralScore,
		MissionAlignment: NeutralScore,
		DomainAlignment:  NeutralScore,
		ShockSensitivity: DefaultShockSensitivity,
		Status:           LifecycleActive,
	}
}

// Clamped returns a copy with every score bounded to its documented range.
func (c ProgramContext) Clamped() ProgramContext {
	c.SponsorCapacity = Clamp01(c.SponsorCapacity)
	c.ExecutorCapacity = Clamp01(c.ExecutorCapacity)
	c.TestCapacity = Clamp01(c.TestCapacity)
	c.MissionAlignment = Clamp01(c.MissionAlignment)
	c.DomainAlignment = Clamp01(c.DomainAlignment)
	c.ClassificationPenalty = Clamp01(c.ClassificationPenalty)
	c.ShockSensitivity = Clamp(c.ShockSensitivity, 0, MaxShockSensitivity)
	if c.Status == "" {
		c.Status = LifecycleActive
	}
	if c.Version == 0 {
		c.Version = ContextVersion
	}
	return c
}

// ResolveStartStage returns the configured start stage, falling back to the
// budget-activity classification.
func (c *ProgramContext) ResolveStartStage() Stage {
	if c.StartStage != "" {
		if s, ok := ParseStage(c.StartStage); ok {
			return s
		}
	}
	return StageFromBudgetActivity(c.BudgetActivity)
}

// Attribute resolves a named dimension for shock targeting and penalty keys.
// The second return is false for unknown dimension names.
func (c *ProgramContext) Attribute(name string) (string, bool) {
	switch normalizeToken(name) {
	case "program_id", "program":
		return c.ProgramID, true
	case "service", "service_component":
		return c.ServiceComponent, true
	case "domain":
		return c.Domain, true
	case "org_type", "org":
		return c.OrgType, true
	case "authority", "authority_type":
		return c.AuthorityType, true
	case "kinetic", "kinetic_category":
		return c.KineticCategory, true
	case "funding_color", "color":
		return c.FundingColor, true
	case "funding_source", "source":
		return c.FundingSource, true
	case "budget_activity":
		return c.BudgetActivity, true
	case "vendor", "vendor_id":
		return c.VendorID, true
	case "status", "lifecycle":
		return string(c.Status), true
	default:
		return "", false
	}
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp bounds v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
