package gate

import "github.com/nvandessel/transitsim/internal/models"

// Lookup tables for categorical modifiers. Keys are normalized tokens;
// values missing from a table multiply by 1.

var fundingColorWeight = map[string]float64{
	"rdte":        1.0,
	"om":          0.9,
	"o&m":         0.9,
	"procurement": 0.95,
	"milcon":      0.8,
	"other":       0.9,
}

var fundingSourceMultiplier = map[string]float64{
	"program_base": 1.0,
	"pom":          1.05,
	"ufr":          0.8,
	"partner":      0.9,
}

var orgTypeMultiplier = map[string]float64{
	"govlab":     1.0,
	"contractor": 0.95,
	"commercial": 1.05,
	"ffrdc":      1.0,
	"academic":   0.9,
}

var authorityMultiplier = map[string]float64{
	"ota":     1.15,
	"far":     0.9,
	"sbir":    1.05,
	"crada":   1.0,
	"title10": 1.0,
	"title50": 0.95,
}

var lifecycleMultiplier = map[models.Lifecycle]float64{
	models.LifecycleActive:     1.0,
	models.LifecyclePlanning:   0.9,
	models.LifecycleDelayed:    0.9,
	models.LifecycleFielded:    0.7,
	models.LifecycleTerminated: 0.3,
}

var legalStatusMultiplier = map[models.LegalStatus]float64{
	models.LegalFavorable:    1.0,
	models.LegalCaveats:      0.85,
	models.LegalNotConducted: 0.9,
}

// Legal review shift contributions by authority and kinetic category.
var legalAuthorityShift = map[string]float64{
	"title50": 0.3,
	"title32": 0.1,
	"fms":     0.2,
	"covert":  0.4,
}

var legalKineticShift = map[string]float64{
	"kinetic":     0.25,
	"dual_use":    0.1,
	"non_kinetic": 0,
}

// lookup returns table[normalize(key)] or 1 when absent.
func lookup(table map[string]float64, key string) float64 {
	if key == "" {
		return 1.0
	}
	if v, ok := table[models.NormalizeToken(key)]; ok {
		return v
	}
	return 1.0
}

// shiftFor returns table[normalize(key)] or 0 when absent.
func shiftFor(table map[string]float64, key string) float64 {
	return table[models.NormalizeToken(key)]
}
