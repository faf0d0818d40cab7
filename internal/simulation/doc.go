// Package simulation runs the transition model: a population of research
// entities, policymakers and end users stepped in random order over discrete
// ticks, sharing one seeded generator, one penalty ledger and one shock
// registry.
//
// Model is the production entry point. Scenario, Runner and the AssertXxx
// helpers form a test harness over the same model, with every gate event
// collected for property-style assertions.
//
// Usage:
//
//	func TestAdaptiveBeatsLinear(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    adaptive := r.Run(simulation.Scenario{Name: "adaptive", Regime: models.RegimeAdaptive, Ticks: 120})
//	    linear := r.Run(simulation.Scenario{Name: "linear", Regime: models.RegimeLinear, Ticks: 120})
//	    simulation.AssertRateAtLeast(t, adaptive, linear)
//	}
package simulation
