package models

import "strings"

// Regime is the governance mode controlling gate base rates and adaptation.
type Regime string

const (
	RegimeLinear   Regime = "linear"   // centralized, rigid milestones
	RegimeAdaptive Regime = "adaptive" // decentralized, rolling evaluations
	RegimeShock    Regime = "shock"    // externally disrupted
)

// Valid reports whether r is a known regime.
func (r Regime) Valid() bool {
	switch r {
	case RegimeLinear, RegimeAdaptive, RegimeShock:
		return true
	}
	return false
}

// Regimes returns all known regimes in comparison order.
func Regimes() []Regime {
	return []Regime{RegimeLinear, RegimeAdaptive, RegimeShock}
}

// Gate names a probabilistic checkpoint.
type Gate string

const (
	GateFunding     Gate = "funding"
	GateContracting Gate = "contracting"
	GateTest        Gate = "test"
	GateLegal       Gate = "legal"
	GateAdoption    Gate = "adoption"

	// GateAll is the wildcard used by shock events.
	GateAll Gate = "all"
)

// Gates returns the five gates in evaluation order.
func Gates() []Gate {
	return []Gate{GateLegal, GateFunding, GateContracting, GateTest, GateAdoption}
}

// Valid reports whether g is one of the five gates.
func (g Gate) Valid() bool {
	switch g {
	case GateFunding, GateContracting, GateTest, GateLegal, GateAdoption:
		return true
	}
	return false
}

// LegalStatus is the outcome of the legal review.
type LegalStatus string

const (
	LegalNotConducted LegalStatus = "not_conducted"
	LegalFavorable    LegalStatus = "favorable"
	LegalCaveats      LegalStatus = "favorable_with_caveats"
	LegalUnfavorable  LegalStatus = "unfavorable"
)

// Cleared reports whether the review allows the attempt to proceed.
func (l LegalStatus) Cleared() bool {
	return l == LegalFavorable || l == LegalCaveats
}

// Lifecycle is the program status of a research entity.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "Active"
	LifecyclePlanning   Lifecycle = "Planning"
	LifecycleDelayed    Lifecycle = "Delayed"
	LifecycleFielded    Lifecycle = "Fielded"
	LifecycleTerminated Lifecycle = "Terminated"
)

// Terminal reports whether the status is Fielded or Terminated.
func (l Lifecycle) Terminal() bool {
	return l == LifecycleFielded || l == LifecycleTerminated
}

// ParseLifecycle accepts any casing; unknown values map to Active.
func ParseLifecycle(s string) Lifecycle {
	switch normalizeToken(s) {
	case "planning":
		return LifecyclePlanning
	case "delayed":
		return LifecycleDelayed
	case "fielded":
		return LifecycleFielded
	case "terminated":
		return LifecycleTerminated
	default:
		return LifecycleActive
	}
}

// normalizeToken lowercases and collapses separators so lookups tolerate
// "Program Base", "program-base" and "program_base" alike.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// NormalizeToken is the exported form of normalizeToken for lookup tables.
func NormalizeToken(s string) string {
	return normalizeToken(s)
}
