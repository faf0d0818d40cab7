// Package penalty tracks failure counts per string key and converts them into
// a bounded multiplicative factor that gates apply to their base probability.
//
// Keys are arbitrary: an entity id, a category ("test|domain=Cyber"), a
// funding source. Counts are stored as floats so that Decay can shrink them
// fractionally every tick.
package penalty

import (
	"sort"
)

// Config holds ledger tuning.
type Config struct {
	// PerFailure is the factor reduction contributed by one failure. Default: 0.02.
	PerFailure float64 `json:"per_failure" yaml:"per_failure"`

	// Cap bounds the reduction contributed by a single key. Default: 0.3.
	Cap float64 `json:"cap" yaml:"cap"`

	// Floor is the minimum combined factor, so the pipeline never stalls
	// completely. Default: 0.25.
	Floor float64 `json:"floor" yaml:"floor"`

	// Decay is the fraction of every count removed per tick. Default: 0.05.
	// Zero disables decay.
	Decay float64 `json:"decay" yaml:"decay"`
}

// DefaultConfig returns the default ledger tuning.
func DefaultConfig() Config {
	return Config{
		PerFailure: 0.02,
		Cap:        0.3,
		Floor:      0.25,
		Decay:      0.05,
	}
}

// pruneBelow is the count under which a decayed key is removed.
const pruneBelow = 1e-3

// Ledger maps penalty keys to accumulated failure counts.
// It is not safe for concurrent use; a simulation run owns one ledger.
type Ledger struct {
	config Config
	counts map[string]float64
}

// NewLedger creates an empty ledger.
func NewLedger(config Config) *Ledger {
	return &Ledger{
		config: config,
		counts: make(map[string]float64),
	}
}

// Config returns the ledger tuning.
func (l *Ledger) Config() Config {
	return l.config
}

// Record increments the failure count for each key. Empty keys are ignored.
func (l *Ledger) Record(keys []string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		l.counts[k]++
	}
}

// Count returns the current failure count for key.
func (l *Ledger) Count(key string) float64 {
	return l.counts[key]
}

// Len returns the number of tracked keys.
func (l *Ledger) Len() int {
	return len(l.counts)
}

// Factor returns the product over keys of (1 - min(cap, perFailure*count)),
// floored at the configured minimum. Unknown keys contribute 1.
func (l *Ledger) Factor(keys []string) float64 {
	factor := 1.0
	for _, k := range keys {
		count, ok := l.counts[k]
		if !ok {
			continue
		}
		factor *= 1 - keyReduction(count, l.config)
	}
	if factor < l.config.Floor {
		return l.config.Floor
	}
	return factor
}

// keyReduction is min(cap, perFailure*count), never negative.
func keyReduction(count float64, cfg Config) float64 {
	r := cfg.PerFailure * count
	if r > cfg.Cap {
		r = cfg.Cap
	}
	if r < 0 {
		return 0
	}
	return r
}

// Decay shrinks every count by the configured fraction and removes keys that
// fall below the prune threshold. It is a no-op when Decay is zero.
func (l *Ledger) Decay() {
	if l.config.Decay <= 0 {
		return
	}
	keep := 1 - l.config.Decay
	if keep < 0 {
		keep = 0
	}
	for k, c := range l.counts {
		c *= keep
		if c < pruneBelow {
			delete(l.counts, k)
			continue
		}
		l.counts[k] = c
	}
}

// Entry is a single key/count pair.
type Entry struct {
	Key   string  `json:"key"`
	Count float64 `json:"count"`
}

// Snapshot returns all entries sorted by descending count, then key.
func (l *Ledger) Snapshot() []Entry {
	entries := make([]Entry, 0, len(l.counts))
	for k, c := range l.counts {
		entries = append(entries, Entry{Key: k, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}
