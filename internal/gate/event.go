package gate

import "github.com/nvandessel/transitsim/internal/models"

// Event is one gate evaluation as written to event logs, stores and
// exports.
type Event struct {
	Tick        int         `json:"tick"`
	EntityID    string      `json:"entity_id"`
	Gate        models.Gate `json:"gate"`
	Stage       string      `json:"stage"`
	Outcome     string      `json:"outcome"`
	Probability float64     `json:"probability"`
	Draw        float64     `json:"draw"`
	Factors     []Factor    `json:"factors,omitempty"`
}

// EventSink receives gate events. Sinks that perform I/O keep the first
// error and report it when flushed or closed.
type EventSink interface {
	Record(ev Event)
}

// MultiSink fans an event out to every non-nil sink in order.
type MultiSink []EventSink

// Record implements EventSink.
func (m MultiSink) Record(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ev)
		}
	}
}

// Collector keeps every event in memory. Useful for tests and small runs.
type Collector struct {
	Events []Event
}

// Record implements EventSink.
func (c *Collector) Record(ev Event) {
	c.Events = append(c.Events, ev)
}

// Count returns the number of recorded events for gate with outcome. An
// empty outcome matches all outcomes.
func (c *Collector) Count(gate models.Gate, outcome string) int {
	n := 0
	for _, ev := range c.Events {
		if ev.Gate == gate && (outcome == "" || ev.Outcome == outcome) {
			n++
		}
	}
	return n
}
