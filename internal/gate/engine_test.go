package gate

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nvandessel/transitsim/internal/data"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/penalty"
	"github.com/nvandessel/transitsim/internal/shock"
)

func newTestEngine(ledger Ledger, shocks ShockSource, repo data.Repository) *Engine {
	return NewEngine(DefaultConfig(), ledger, shocks, repo, rand.New(rand.NewPCG(1, 2)))
}

func testSubject() Subject {
	return Subject{
		ID:      "R-001",
		Context: models.DefaultProgramContext(),
		Stage:   models.StageFeasibility,
		Quality: 0.5,
		Legal:   models.LegalFavorable,
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFundingBaseByPhase(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		phase Phase
		want  float64
	}{
		{PhaseLinear, 0.3},
		{PhaseAdaptive, 0.75},
		{PhaseShock, 0.5625},
		{PhaseShockWindow, 0.15},
	}
	for _, tt := range tests {
		if got := cfg.fundingBase(tt.phase); !near(got, tt.want) {
			t.Errorf("fundingBase(%s) = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestEnvironment_PhaseAndSignal(t *testing.T) {
	tests := []struct {
		env    Environment
		phase  Phase
		signal float64
	}{
		{Environment{Regime: models.RegimeLinear}, PhaseLinear, -0.05},
		{Environment{Regime: models.RegimeAdaptive}, PhaseAdaptive, 0.1},
		{Environment{Regime: models.RegimeShock}, PhaseShock, 0},
		{Environment{Regime: models.RegimeShock, InShock: true}, PhaseShockWindow, -0.1},
	}
	for _, tt := range tests {
		if got := tt.env.Phase(); got != tt.phase {
			t.Errorf("Phase() = %s, want %s", got, tt.phase)
		}
		if got := tt.env.Signal(); !near(got, tt.signal) {
			t.Errorf("Signal() = %v, want %v", got, tt.signal)
		}
	}
}

func TestFundingProbability_NeutralChain(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	env := Environment{Regime: models.RegimeAdaptive, MeanAgility: 0.5}

	b := e.FundingProbability(testSubject(), env)

	// 0.75 * capacity(0.5)=1.0 * agility(0.5)=1.0
	if !near(b.Probability, 0.75) {
		t.Errorf("probability = %v, want 0.75", b.Probability)
	}
	wantOrder := []string{
		"funding_color", "funding_source", "sponsor_capacity", "governance_agility",
		"lifecycle", "prior", "penalty", "shock", "stall_relief",
	}
	if len(b.Factors) != len(wantOrder) {
		t.Fatalf("factors = %d, want %d", len(b.Factors), len(wantOrder))
	}
	for i, name := range wantOrder {
		if b.Factors[i].Name != name {
			t.Errorf("factor[%d] = %s, want %s", i, b.Factors[i].Name, name)
		}
	}
}

func TestBooleanGate_CategoricalModifiers(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	s := testSubject()
	s.Context.FundingColor = "MILCON"
	s.Context.FundingSource = "UFR"
	s.Context.OrgType = "Commercial"
	s.Context.AuthorityType = "OTA"
	s.Context.Status = models.LifecycleTerminated
	s.Scores.VendorRisk = 1

	b := e.ContractingProbability(s, Environment{Regime: models.RegimeLinear})
	checks := map[string]float64{
		"funding_color":  0.8,
		"funding_source": 0.8,
		"org_type":       1.05,
		"authority":      1.15,
		"vendor_risk":    0.5,
		"lifecycle":      0.3,
	}
	for name, want := range checks {
		got, ok := b.Factor(name)
		if !ok || !near(got, want) {
			t.Errorf("factor %s = %v (present=%v), want %v", name, got, ok, want)
		}
	}
}

func TestTestProbability_Factors(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	s := testSubject()
	s.Stage = models.StageOperationalTest
	s.Legal = models.LegalCaveats
	s.UnsatisfiedDeps = 5
	s.Context.ClassificationPenalty = 1
	s.Scores = data.Scores{GAOPenalty: 1, Collaboration: 1}

	env := Environment{Regime: models.RegimeLinear, MeanRigidity: 0.8}
	b := e.TestProbability(s, env)

	// rigidity = 0.8*(0.8+0.16) = 0.768; base = 0.232*0.7 + 0.15
	wantBase := (1-0.768)*0.7 + 0.3*0.5
	if !near(b.Base, wantBase) {
		t.Errorf("base = %v, want %v", b.Base, wantBase)
	}
	checks := map[string]float64{
		"classification":   0.7,
		"gao":              0.5,
		"collaboration":    1.2,
		"legal_status":     0.85,
		"dependencies":     0.4,
		"stage_difficulty": 0.8,
	}
	for name, want := range checks {
		if got, _ := b.Factor(name); !near(got, want) {
			t.Errorf("factor %s = %v, want %v", name, got, want)
		}
	}
}

func TestStallRelief(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	s := testSubject()
	env := Environment{Regime: models.RegimeLinear}

	prev := e.TestProbability(s, env).Raw
	for ticks := 1; ticks <= 40; ticks++ {
		s.TicksInStage = ticks
		cur := e.TestProbability(s, env).Raw
		if cur < prev-1e-12 {
			t.Fatalf("raw probability decreased at ticks=%d: %v -> %v", ticks, prev, cur)
		}
		prev = cur
	}
	s.TicksInStage = 1000
	if got, _ := e.TestProbability(s, env).Factor("stall_relief"); !near(got, 1.5) {
		t.Errorf("stall relief cap = %v, want 1.5", got)
	}
}

func TestPenaltyKeys(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	s := testSubject()
	s.Context.Domain = "Cyber"

	keys := e.PenaltyKeys(models.GateTest, s)
	want := []string{"test|entity=R-001", "test|domain=Cyber"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}

	// Empty funding source is skipped
	keys = e.PenaltyKeys(models.GateFunding, s)
	if len(keys) != 1 || keys[0] != "funding|entity=R-001" {
		t.Errorf("funding keys = %v", keys)
	}
}

func TestLedgerLowersProbability(t *testing.T) {
	ledger := penalty.NewLedger(penalty.DefaultConfig())
	e := newTestEngine(ledger, nil, nil)
	s := testSubject()
	env := Environment{Regime: models.RegimeAdaptive}

	before := e.ContractingProbability(s, env)
	for i := 0; i < 5; i++ {
		e.RecordFailure(Decision{Keys: before.Keys})
	}
	after := e.ContractingProbability(s, env)
	if after.Probability >= before.Probability {
		t.Errorf("penalties should lower probability: %v -> %v", before.Probability, after.Probability)
	}
	if got, _ := after.Factor("penalty"); !near(got, 0.9) {
		t.Errorf("penalty factor = %v, want 0.9", got)
	}
}

func TestShockWindowOnFunding(t *testing.T) {
	reg := shock.NewRegistry([]shock.Event{
		{ID: "cut", Start: 10, Duration: 20, Gate: "funding", Magnitude: -0.5},
	})
	e := newTestEngine(nil, reg, nil)
	s := testSubject()

	p := func(tick int) float64 {
		return e.FundingProbability(s, Environment{Tick: tick, Regime: models.RegimeLinear}).Probability
	}
	outside := p(5)
	inside := p(15)
	after := p(30)

	if !near(inside, outside*0.5) {
		t.Errorf("inside = %v, want half of %v", inside, outside)
	}
	if !near(after, outside) {
		t.Errorf("after window = %v, want %v", after, outside)
	}
}

type fakeRepo struct {
	prior   float64
	overall float64
}

func (f fakeRepo) Scores(string) data.Scores { return data.Scores{} }
func (f fakeRepo) Prior(data.PriorQuery) (float64, bool) {
	return f.prior, f.prior > 0
}
func (f fakeRepo) OverallPrior() float64 { return f.overall }

func TestPriorMultiplier(t *testing.T) {
	s := testSubject()
	env := Environment{Regime: models.RegimeLinear}

	tests := []struct {
		name string
		repo data.Repository
		want float64
	}{
		{"neutral repo", data.Neutral{}, 1.0},
		{"higher prior", fakeRepo{prior: 0.6, overall: 0.3}, 1.15},
		{"clamped high", fakeRepo{prior: 10, overall: 0.1}, 1.5},
		{"zero overall", fakeRepo{prior: 0.5, overall: 0}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(nil, nil, tt.repo)
			got, _ := e.TestProbability(s, env).Factor("prior")
			if !near(got, tt.want) {
				t.Errorf("prior factor = %v, want %v", got, tt.want)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.PriorsEnabled = false
	e := NewEngine(cfg, nil, nil, fakeRepo{prior: 0.6, overall: 0.3}, rand.New(rand.NewPCG(1, 2)))
	if got, _ := e.TestProbability(s, env).Factor("prior"); got != 1 {
		t.Errorf("disabled priors factor = %v, want 1", got)
	}
}

func TestLegalWeights(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	s := testSubject()
	env := Environment{Regime: models.RegimeLinear}

	base := e.LegalWeights(s, env)
	if base.Shift != 0 || !near(base.Weight(models.LegalFavorable), 0.6) {
		t.Errorf("neutral weights = %+v", base.Weights)
	}

	s.Context.AuthorityType = "Title50"
	s.Context.KineticCategory = "kinetic"
	shifted := e.LegalWeights(s, env)
	if !near(shifted.Shift, 0.55) {
		t.Errorf("shift = %v, want 0.55", shifted.Shift)
	}
	// favorable 0.6*(1-0.55)=0.27; caveats 0.25+0.33*0.7; unfavorable 0.05+0.33*0.3
	if !near(shifted.Weight(models.LegalFavorable), 0.27) ||
		!near(shifted.Weight(models.LegalCaveats), 0.481) ||
		!near(shifted.Weight(models.LegalUnfavorable), 0.149) {
		t.Errorf("shifted weights = %+v", shifted.Weights)
	}

	s.Context.AuthorityType = "covert"
	if got := e.LegalWeights(s, env).Shift; !near(got, 0.65) {
		t.Errorf("shift = %v, want 0.65", got)
	}
}

func TestLegalWeights_ShockRenormalizes(t *testing.T) {
	reg := shock.NewRegistry([]shock.Event{{ID: "l", Start: 0, Duration: 5, Gate: "legal", Magnitude: -1}})
	e := newTestEngine(nil, reg, nil)
	b := e.LegalWeights(testSubject(), Environment{Tick: 1})

	if b.Weight(models.LegalFavorable) != 0 {
		t.Errorf("favorable = %v, want 0", b.Weight(models.LegalFavorable))
	}
	sum := 0.0
	for _, w := range b.Weights {
		sum += w.Weight
	}
	if !near(sum, 1) {
		t.Errorf("weights sum = %v, want 1", sum)
	}
}

func TestLegalDraw(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	seen := make(map[models.LegalStatus]int)
	for i := 0; i < 2000; i++ {
		d := e.Legal(testSubject(), Environment{})
		seen[d.Legal]++
		if d.Passed != d.Legal.Cleared() {
			t.Fatalf("Passed=%v for %s", d.Passed, d.Legal)
		}
	}
	for _, st := range []models.LegalStatus{models.LegalFavorable, models.LegalCaveats, models.LegalUnfavorable, models.LegalNotConducted} {
		if seen[st] == 0 {
			t.Errorf("outcome %s never drawn", st)
		}
	}
}

type thresholdVoter float64

func (v thresholdVoter) Vote(quality, signal float64) bool {
	return quality+signal >= float64(v)
}

func TestPoll(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	s := testSubject()
	s.Quality = 0.55

	voters := make([]Voter, 15)
	for i := range voters {
		voters[i] = thresholdVoter(0.6)
	}

	adaptive := e.Poll(s, Environment{Regime: models.RegimeAdaptive}, voters)
	if adaptive.Cast != 3 || adaptive.Yes != 3 || !adaptive.Passed {
		t.Errorf("adaptive ballot = %+v, want 3/3 passed", adaptive)
	}
	linear := e.Poll(s, Environment{Regime: models.RegimeLinear}, voters)
	if linear.Yes != 0 || linear.Passed {
		t.Errorf("linear ballot = %+v, want 0 yes", linear)
	}

	if b := e.Poll(s, Environment{}, nil); b.Passed || b.Cast != 0 {
		t.Errorf("empty ballot = %+v, want failed", b)
	}
	if got := e.SampleSize(3); got != 1 {
		t.Errorf("SampleSize(3) = %d, want 1", got)
	}
}

func TestAdoption_RecordsVotes(t *testing.T) {
	e := newTestEngine(nil, nil, nil)
	sink := &Collector{}
	e.SetSink(sink)

	voters := []Voter{thresholdVoter(0), thresholdVoter(0), thresholdVoter(0), thresholdVoter(0), thresholdVoter(0)}
	d := e.Adoption(testSubject(), Environment{Tick: 7}, voters)

	if d.VotesCast != 1 || d.VotesYes != 1 {
		t.Errorf("votes = %d/%d, want 1/1", d.VotesYes, d.VotesCast)
	}
	if len(sink.Events) != 1 || sink.Events[0].Tick != 7 || sink.Events[0].Gate != models.GateAdoption {
		t.Errorf("events = %+v", sink.Events)
	}
}

func TestProbabilityBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	regimes := models.Regimes()

	properties.Property("boolean gates stay within (0, 1]", prop.ForAll(
		func(quality, score, magnitude float64, ticks, failures, regime int, inShock bool) bool {
			ledger := penalty.NewLedger(penalty.DefaultConfig())
			reg := shock.NewRegistry([]shock.Event{{ID: "x", Start: 0, Duration: 100, Magnitude: magnitude}})
			e := newTestEngine(ledger, reg, fakeRepo{prior: score, overall: 0.3})

			s := testSubject()
			s.Quality = quality
			s.TicksInStage = ticks
			s.UnsatisfiedDeps = failures % 7
			s.Context.SponsorCapacity = score
			s.Context.ExecutorCapacity = 1 - score
			s.Context.TestCapacity = score
			s.Context.ClassificationPenalty = score
			s.Context.ShockSensitivity = 2 * score
			s.Scores = data.Scores{GAOPenalty: score, VendorRisk: score, Collaboration: score}
			env := Environment{Tick: 50, Regime: regimes[regime], InShock: inShock, MeanAgility: score, MeanRigidity: quality}

			for i := 0; i < failures; i++ {
				ledger.Record(e.PenaltyKeys(models.GateTest, s))
			}

			for _, b := range []Breakdown{
				e.FundingProbability(s, env),
				e.ContractingProbability(s, env),
				e.TestProbability(s, env),
				e.AdoptionProbability(s, env, inShock),
			} {
				if !(b.Probability > 0 && b.Probability <= 1) {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(-2, 2),
		gen.IntRange(0, 200),
		gen.IntRange(0, 60),
		gen.IntRange(0, len(regimes)-1),
		gen.Bool(),
	))

	properties.Property("legal weights form a distribution", prop.ForAll(
		func(magnitude float64, failures int) bool {
			ledger := penalty.NewLedger(penalty.DefaultConfig())
			reg := shock.NewRegistry([]shock.Event{{ID: "x", Start: 0, Duration: 10, Gate: "legal", Magnitude: magnitude}})
			e := newTestEngine(ledger, reg, nil)
			s := testSubject()
			s.Context.AuthorityType = "covert"
			for i := 0; i < failures; i++ {
				ledger.Record(e.PenaltyKeys(models.GateLegal, s))
			}
			b := e.LegalWeights(s, Environment{Tick: 1})
			sum := 0.0
			for _, w := range b.Weights {
				if w.Weight < 0 {
					return false
				}
				sum += w.Weight
			}
			return math.Abs(sum-1) < 1e-9 && b.Shift <= 0.8
		},
		gen.Float64Range(-3, 3),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
