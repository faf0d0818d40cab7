package simulation

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/nvandessel/transitsim/internal/agents"
	"github.com/nvandessel/transitsim/internal/data"
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/logging"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/penalty"
	"github.com/nvandessel/transitsim/internal/pipeline"
	"github.com/nvandessel/transitsim/internal/shock"
)

// seedMix decorrelates the second PCG stream word from the seed.
const seedMix = 0x9e3779b97f4a7c15

// Options configures a Model. DefaultOptions documents the defaults.
type Options struct {
	Regime models.Regime
	Seed   uint64

	Researchers  int
	Policymakers int
	EndUsers     int

	// ShockAt and ShockDuration define the global shock window, used only
	// in the shock regime.
	ShockAt       int
	ShockDuration int

	Pipeline  pipeline.Config
	Agents    agents.Config
	Gates     gate.Config
	Penalties penalty.Config

	// Repository supplies scores and priors. nil means neutral.
	Repository data.Repository

	// Programs are assigned to researchers round-robin. Empty means every
	// researcher gets a neutral context.
	Programs []models.ProgramContext

	// Shocks are targeted disruption events.
	Shocks []shock.Event

	// Sink receives one event per gate evaluation. nil disables events.
	Sink gate.EventSink

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// DefaultOptions returns the default model options.
func DefaultOptions() Options {
	return Options{
		Regime:        models.RegimeLinear,
		Seed:          42,
		Researchers:   40,
		Policymakers:  10,
		EndUsers:      30,
		ShockAt:       80,
		ShockDuration: 20,
		Pipeline:      pipeline.DefaultConfig(),
		Agents:        agents.DefaultConfig(),
		Gates:         gate.DefaultConfig(),
		Penalties:     penalty.DefaultConfig(),
	}
}

// TickStats summarizes one completed tick for observers.
type TickStats struct {
	Tick           int
	InShock        bool
	NewAttempts    int
	NewTransitions int
	ActiveAttempts int
	LedgerKeys     int
	Governance     agents.Governance
	Gates          map[models.Gate]metrics.Tally
}

// TickObserver is called after every tick.
type TickObserver func(TickStats)

// Model owns the population, the shared generator and the clock.
type Model struct {
	opts   Options
	rng    *rand.Rand
	logger *slog.Logger

	ledger *penalty.Ledger
	shocks *shock.Registry
	engine *gate.Engine
	agg    *metrics.Aggregator

	researchers  []*pipeline.Researcher
	policymakers []*agents.Policymaker
	endUsers     []*agents.EndUser
	voters       []gate.Voter

	tick      int
	inShock   bool
	observers []TickObserver
}

// New builds a model and its population. It returns an error for an unknown
// regime or negative population sizes.
func New(opts Options) (*Model, error) {
	if !opts.Regime.Valid() {
		return nil, fmt.Errorf("unknown regime %q", opts.Regime)
	}
	if opts.Researchers < 0 || opts.Policymakers < 0 || opts.EndUsers < 0 {
		return nil, fmt.Errorf("population sizes must be non-negative: %d/%d/%d",
			opts.Researchers, opts.Policymakers, opts.EndUsers)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	repo := opts.Repository
	if repo == nil {
		repo = data.Neutral{}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^seedMix))
	ledger := penalty.NewLedger(opts.Penalties)
	shocks := shock.NewRegistry(opts.Shocks)
	engine := gate.NewEngine(opts.Gates, ledger, shocks, repo, rng)
	if opts.Sink != nil {
		engine.SetSink(opts.Sink)
	}

	m := &Model{
		opts:   opts,
		rng:    rng,
		logger: logger,
		ledger: ledger,
		shocks: shocks,
		engine: engine,
		agg:    metrics.New(),
	}

	for i := 0; i < opts.Researchers; i++ {
		ctx := models.DefaultProgramContext()
		if len(opts.Programs) > 0 {
			ctx = opts.Programs[i%len(opts.Programs)]
		}
		id := fmt.Sprintf("R-%03d", i)
		scoresID := ctx.ProgramID
		if scoresID == "" {
			scoresID = id
		}
		m.researchers = append(m.researchers,
			pipeline.NewResearcher(id, ctx, repo.Scores(scoresID), opts.Pipeline, rng))
	}
	for i := 0; i < opts.Policymakers; i++ {
		m.policymakers = append(m.policymakers, agents.NewPolicymaker(fmt.Sprintf("P-%03d", i), opts.Agents))
	}
	for i := 0; i < opts.EndUsers; i++ {
		u := agents.NewEndUser(fmt.Sprintf("E-%03d", i), opts.Agents)
		m.endUsers = append(m.endUsers, u)
		m.voters = append(m.voters, u)
	}

	for _, id := range pipeline.UnknownDependencies(m.researchers) {
		logger.Warn("unknown dependency treated as satisfied", "dependency", id)
	}
	logger.Debug("model initialized",
		"regime", opts.Regime,
		"seed", opts.Seed,
		"researchers", len(m.researchers),
		"policymakers", len(m.policymakers),
		"end_users", len(m.endUsers),
		"shocks", shocks.Len())

	return m, nil
}

// AddObserver registers a function called after every tick.
func (m *Model) AddObserver(fn TickObserver) {
	m.observers = append(m.observers, fn)
}

// Step advances the clock by one tick. Every agent steps exactly once in a
// random order drawn from the shared generator. An invariant violation in a
// researcher aborts the step with a wrapped pipeline.ErrInvalidStage.
func (m *Model) Step() error {
	if m.opts.Regime == models.RegimeShock {
		m.inShock = m.tick >= m.opts.ShockAt && m.tick < m.opts.ShockAt+m.opts.ShockDuration
	}

	gov := agents.Snapshot(m.policymakers)
	t := pipeline.Tick{
		Env: gate.Environment{
			Tick:         m.tick,
			Regime:       m.opts.Regime,
			InShock:      m.inShock,
			MeanAgility:  gov.MeanAgility,
			MeanRigidity: gov.MeanRigidity,
		},
		Deps:   pipeline.BuildDependencies(m.researchers),
		Gates:  m.engine,
		Voters: m.voters,
		Rand:   m.rng,
	}

	pre := m.totalTransitions()
	stats := TickStats{
		Tick:       m.tick,
		InShock:    m.inShock,
		Governance: gov,
		Gates:      make(map[models.Gate]metrics.Tally),
	}

	order := m.schedule()
	for _, idx := range order {
		switch {
		case idx < len(m.researchers):
			rep, err := m.researchers[idx].Step(t)
			if err != nil {
				return fmt.Errorf("tick %d: %w", m.tick, err)
			}
			m.agg.Observe(rep)
			if rep.Started {
				stats.NewAttempts++
			}
			for _, d := range rep.Decisions {
				tally := stats.Gates[d.Gate]
				if d.Passed {
					tally.Pass++
				} else {
					tally.Fail++
				}
				stats.Gates[d.Gate] = tally
			}
			if rep.Adopted {
				m.agg.OnTransition(rep.CycleTime)
			}
		case idx < len(m.researchers)+len(m.policymakers):
			m.policymakers[idx-len(m.researchers)].Step(m.opts.Regime)
		default:
			m.endUsers[idx-len(m.researchers)-len(m.policymakers)].Step(m.policymakers)
		}
	}

	stats.NewTransitions = m.totalTransitions() - pre
	m.agg.RegisterTick(stats.NewTransitions)
	m.ledger.Decay()

	for _, r := range m.researchers {
		if r.Active() {
			stats.ActiveAttempts++
		}
	}
	stats.LedgerKeys = m.ledger.Len()
	for _, fn := range m.observers {
		fn(stats)
	}

	m.tick++
	return nil
}

// schedule returns a random permutation over all agents: researchers first
// in index space, then policymakers, then end users.
func (m *Model) schedule() []int {
	n := len(m.researchers) + len(m.policymakers) + len(m.endUsers)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	m.rng.Shuffle(n, func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

func (m *Model) totalTransitions() int {
	n := 0
	for _, r := range m.researchers {
		n += r.Transitions
	}
	return n
}

// Run advances n ticks and returns the run summary. It stops at the first
// step error.
func (m *Model) Run(n int) (metrics.Summary, error) {
	for i := 0; i < n; i++ {
		if err := m.Step(); err != nil {
			return metrics.Summary{}, err
		}
	}
	return m.Summary(), nil
}

// Summary returns the KPIs accumulated so far.
func (m *Model) Summary() metrics.Summary {
	return m.agg.Summary()
}

// Tick returns the number of completed ticks.
func (m *Model) Tick() int {
	return m.tick
}

// InShock reports whether the last tick ran inside the shock window.
func (m *Model) InShock() bool {
	return m.inShock
}

// Researchers returns the research population.
func (m *Model) Researchers() []*pipeline.Researcher {
	return m.researchers
}

// Researcher returns the entity with id, or nil.
func (m *Model) Researcher(id string) *pipeline.Researcher {
	for _, r := range m.researchers {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Policymakers returns the policymaker population.
func (m *Model) Policymakers() []*agents.Policymaker {
	return m.policymakers
}

// EndUsers returns the end-user population.
func (m *Model) EndUsers() []*agents.EndUser {
	return m.endUsers
}

// Ledger returns the penalty ledger.
func (m *Model) Ledger() *penalty.Ledger {
	return m.ledger
}

// Engine returns the gate engine.
func (m *Model) Engine() *gate.Engine {
	return m.engine
}

// Options returns the options the model was built with.
func (m *Model) Options() Options {
	return m.opts
}
