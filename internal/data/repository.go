// Package data supplies the read-only, pre-computed scores and empirical
// priors that gates consume. Nothing here derives tables from historical
// records; a snapshot is loaded as-is and looked up by key.
package data

import (
	"github.com/nvandessel/transitsim/internal/models"
)

// Scores are normalized per-program penalties and bonuses, all 0..1.
// The zero value is the neutral fallback for programs missing from the data.
type Scores struct {
	// GAOPenalty is the normalized GAO finding severity.
	GAOPenalty float64 `json:"gao_penalty" yaml:"gao_penalty"`
	// VendorRisk is the performance/vendor risk penalty.
	VendorRisk float64 `json:"vendor_risk" yaml:"vendor_risk"`
	// Collaboration is the ecosystem collaboration bonus.
	Collaboration float64 `json:"collaboration" yaml:"collaboration"`
}

// Clamped bounds every score to [0, 1].
func (s Scores) Clamped() Scores {
	return Scores{
		GAOPenalty:    models.Clamp01(s.GAOPenalty),
		VendorRisk:    models.Clamp01(s.VendorRisk),
		Collaboration: models.Clamp01(s.Collaboration),
	}
}

// PriorQuery identifies the categories an empirical prior may be keyed by.
// Empty fields are not looked up.
type PriorQuery struct {
	ProgramID  string
	Domain     string
	Authority  string
	VendorRisk string // bucket, see RiskBucket
	GAO        string // bucket, see RiskBucket
}

// Repository is the read-only source of external scores and priors.
type Repository interface {
	// Scores returns scores for a program or entity identifier. Unknown ids
	// yield neutral (zero) scores.
	Scores(id string) Scores

	// Prior returns the blended empirical transition rate for the query and
	// whether any category matched.
	Prior(q PriorQuery) (float64, bool)

	// OverallPrior is the fallback rate across all closed projects. Zero
	// means priors are unavailable.
	OverallPrior() float64
}

// Risk buckets used for prior lookups.
const (
	BucketLow    = "low"
	BucketMedium = "medium"
	BucketHigh   = "high"
)

// RiskBucket maps a 0..1 score to low/medium/high.
func RiskBucket(v float64) string {
	switch {
	case v < 0.33:
		return BucketLow
	case v < 0.66:
		return BucketMedium
	default:
		return BucketHigh
	}
}

// Neutral is the repository used when no snapshot is configured.
type Neutral struct{}

// Scores returns neutral scores.
func (Neutral) Scores(string) Scores { return Scores{} }

// Prior never matches.
func (Neutral) Prior(PriorQuery) (float64, bool) { return 0, false }

// OverallPrior is zero, which disables the prior multiplier.
func (Neutral) OverallPrior() float64 { return 0 }
