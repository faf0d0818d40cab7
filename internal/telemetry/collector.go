// Package telemetry exposes a run as Prometheus metrics: gate outcomes and
// probabilities, per-tick population gauges and the final KPIs. Runs are
// short-lived, so metrics are written to a node-exporter textfile rather
// than scraped.
package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/simulation"
)

const namespace = "transitsim"

// ErrInvalidConfig is returned when the collector configuration is invalid.
var ErrInvalidConfig = errors.New("invalid telemetry configuration")

// Config labels every metric of one run.
type Config struct {
	RunID  string
	Regime string
	Seed   uint64
}

// Collector records one run into its own registry. It implements
// gate.EventSink, and ObserveTick matches simulation.TickObserver.
type Collector struct {
	registry *prometheus.Registry

	gateOutcomes    *prometheus.CounterVec
	gateProbability *prometheus.HistogramVec

	attempts    prometheus.Counter
	transitions prometheus.Counter

	tick           prometheus.Gauge
	inShock        prometheus.Gauge
	activeAttempts prometheus.Gauge
	ledgerKeys     prometheus.Gauge
	meanAgility    prometheus.Gauge
	meanRigidity   prometheus.Gauge

	transitionRate  prometheus.Gauge
	avgCycleTime    prometheus.Gauge
	medianCycleTime prometheus.Gauge
	diffusionSpeed  prometheus.Gauge
}

// NewCollector registers the run metrics on a fresh registry.
func NewCollector(cfg Config) (*Collector, error) {
	if cfg.RunID == "" || cfg.Regime == "" {
		return nil, fmt.Errorf("%w: run id and regime are required", ErrInvalidConfig)
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{
		"run_id": cfg.RunID,
		"regime": cfg.Regime,
		"seed":   fmt.Sprintf("%d", cfg.Seed),
	}

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		})
	}

	c := &Collector{registry: reg}
	c.gateOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "gate_evaluations_total",
		Help:        "Gate evaluations by gate and outcome",
		ConstLabels: labels,
	}, []string{"gate", "outcome"})
	c.gateProbability = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "gate_probability",
		Help:        "Composed pass probability at evaluation time",
		ConstLabels: labels,
		Buckets:     prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"gate"})
	c.attempts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "attempts_total", Help: "Prototype attempts started", ConstLabels: labels,
	})
	c.transitions = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "transitions_total", Help: "Prototypes adopted by end users", ConstLabels: labels,
	})
	c.tick = gauge("tick", "Last completed tick")
	c.inShock = gauge("in_shock", "1 while the global shock window is active")
	c.activeAttempts = gauge("active_attempts", "Entities with an attempt in progress")
	c.ledgerKeys = gauge("penalty_ledger_keys", "Distinct keys in the penalty ledger")
	c.meanAgility = gauge("policymaker_mean_agility", "Mean policymaker allocation agility")
	c.meanRigidity = gauge("policymaker_mean_rigidity", "Mean policymaker oversight rigidity")
	c.transitionRate = gauge("transition_rate", "Transitions per attempt at end of run")
	c.avgCycleTime = gauge("cycle_time_avg_ticks", "Mean ticks from attempt start to adoption")
	c.medianCycleTime = gauge("cycle_time_median_ticks", "Median ticks from attempt start to adoption")
	c.diffusionSpeed = gauge("diffusion_speed", "Mean transitions per tick")

	return c, nil
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Record implements gate.EventSink.
func (c *Collector) Record(ev gate.Event) {
	c.gateOutcomes.WithLabelValues(string(ev.Gate), ev.Outcome).Inc()
	c.gateProbability.WithLabelValues(string(ev.Gate)).Observe(ev.Probability)
}

// ObserveTick updates the per-tick gauges and counters.
func (c *Collector) ObserveTick(s simulation.TickStats) {
	c.tick.Set(float64(s.Tick))
	if s.InShock {
		c.inShock.Set(1)
	} else {
		c.inShock.Set(0)
	}
	c.attempts.Add(float64(s.NewAttempts))
	c.transitions.Add(float64(s.NewTransitions))
	c.activeAttempts.Set(float64(s.ActiveAttempts))
	c.ledgerKeys.Set(float64(s.LedgerKeys))
	c.meanAgility.Set(s.Governance.MeanAgility)
	c.meanRigidity.Set(s.Governance.MeanRigidity)
}

// Finish records the run summary.
func (c *Collector) Finish(s metrics.Summary) {
	c.transitionRate.Set(s.TransitionRate)
	c.avgCycleTime.Set(s.AvgCycleTime)
	c.medianCycleTime.Set(s.MedianCycleTime)
	c.diffusionSpeed.Set(s.DiffusionSpeed)
}

// WriteTextfile writes every metric in the text exposition format to path,
// creating parent directories. The write is atomic.
func (c *Collector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
