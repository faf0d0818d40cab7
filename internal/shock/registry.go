// Package shock holds time-windowed disruption events and turns them into a
// multiplicative modifier for a gate evaluation.
package shock

import (
	"sort"
	"strings"

	"github.com/nvandessel/transitsim/internal/models"
)

// Wildcards accepted for event targeting.
const (
	TargetAll   = "all"
	ValueAny    = "*"
	gateAllName = string(models.GateAll)
)

// Event is a single disruption. Magnitude is signed: -0.5 halves the
// probability of a matching gate for an entity with sensitivity 1.
type Event struct {
	ID          string  `json:"event_id" yaml:"event_id"`
	Category    string  `json:"category,omitempty" yaml:"category,omitempty"`
	Start       int     `json:"start" yaml:"start"`
	Duration    int     `json:"duration" yaml:"duration"`
	Gate        string  `json:"affected_gate" yaml:"affected_gate"`
	TargetType  string  `json:"target_type" yaml:"target_type"`
	TargetValue string  `json:"target_value" yaml:"target_value"`
	Magnitude   float64 `json:"magnitude" yaml:"magnitude"`
	Note        string  `json:"note,omitempty" yaml:"note,omitempty"`
}

// End returns the first tick after the event window.
func (e Event) End() int {
	return e.Start + e.Duration
}

// ActiveAt reports whether tick falls within [Start, Start+Duration).
func (e Event) ActiveAt(tick int) bool {
	return tick >= e.Start && tick < e.End()
}

// Target is anything a shock can be aimed at. Research entities implement it.
type Target interface {
	Attribute(name string) (string, bool)
	ShockSensitivity() float64
}

// Registry is an immutable, validated set of events.
type Registry struct {
	events []Event
}

// NewRegistry normalizes events: negative durations become 0, a blank gate
// means all gates and a blank target means everyone. Events are ordered by
// start tick, then ID.
func NewRegistry(events []Event) *Registry {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		out = append(out, normalize(e))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return &Registry{events: out}
}

func normalize(e Event) Event {
	if e.Duration < 0 {
		e.Duration = 0
	}
	e.Gate = models.NormalizeToken(e.Gate)
	if e.Gate == "" {
		e.Gate = gateAllName
	}
	e.TargetType = models.NormalizeToken(e.TargetType)
	if e.TargetType == "" {
		e.TargetType = TargetAll
	}
	e.TargetValue = strings.TrimSpace(e.TargetValue)
	if e.TargetValue == "" {
		e.TargetValue = ValueAny
	}
	return e
}

// Events returns a copy of the normalized events.
func (r *Registry) Events() []Event {
	if r == nil {
		return nil
	}
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of events.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.events)
}

// Active returns the events whose window contains tick.
func (r *Registry) Active(tick int) []Event {
	if r == nil {
		return nil
	}
	var out []Event
	for _, e := range r.events {
		if e.ActiveAt(tick) {
			out = append(out, e)
		}
	}
	return out
}

// Modifier returns max(0, 1 + sum(magnitude * sensitivity)) over events that
// are active at tick, affect gate and match target. A nil registry or nil
// target yields 1.
func (r *Registry) Modifier(gate models.Gate, target Target, tick int) float64 {
	if r == nil || target == nil {
		return 1.0
	}
	sensitivity := models.Clamp(target.ShockSensitivity(), 0, models.MaxShockSensitivity)
	sum := 0.0
	for _, e := range r.events {
		if !e.ActiveAt(tick) {
			continue
		}
		if e.Gate != gateAllName && e.Gate != string(gate) {
			continue
		}
		if !matches(e, target) {
			continue
		}
		sum += e.Magnitude * sensitivity
	}
	m := 1 + sum
	if m < 0 {
		return 0
	}
	return m
}

func matches(e Event, target Target) bool {
	if e.TargetType == TargetAll || e.TargetValue == ValueAny {
		return true
	}
	v, ok := target.Attribute(e.TargetType)
	if !ok || v == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(v), e.TargetValue)
}
