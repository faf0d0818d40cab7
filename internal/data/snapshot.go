package data

import (
	"fmt"
	"os"
	"strings"

	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/shock"
	"gopkg.in/yaml.v3"
)

// PriorTables holds empirical transition rates keyed by category value.
type PriorTables struct {
	Program    map[string]float64 `json:"program,omitempty" yaml:"program,omitempty"`
	Domain     map[string]float64 `json:"domain,omitempty" yaml:"domain,omitempty"`
	Authority  map[string]float64 `json:"authority,omitempty" yaml:"authority,omitempty"`
	VendorRisk map[string]float64 `json:"vendor_risk,omitempty" yaml:"vendor_risk,omitempty"`
	GAO        map[string]float64 `json:"gao,omitempty" yaml:"gao,omitempty"`
}

// ProgramRecord is one program row from the snapshot. Pointer fields
// distinguish "absent" from an explicit zero.
type ProgramRecord struct {
	ProgramID        string `yaml:"program_id"`
	ServiceComponent string `yaml:"service,omitempty"`
	Domain           string `yaml:"domain,omitempty"`
	OrgType          string `yaml:"org_type,omitempty"`
	AuthorityType    string `yaml:"authority,omitempty"`
	KineticCategory  string `yaml:"kinetic,omitempty"`
	FundingColor     string `yaml:"funding_color,omitempty"`
	FundingSource    string `yaml:"funding_source,omitempty"`
	BudgetActivity   string `yaml:"budget_activity,omitempty"`
	VendorID         string `yaml:"vendor,omitempty"`
	StartStage       string `yaml:"start_stage,omitempty"`
	Status           string `yaml:"status,omitempty"`

	SponsorCapacity       *float64 `yaml:"sponsor_capacity,omitempty"`
	ExecutorCapacity      *float64 `yaml:"executor_capacity,omitempty"`
	TestCapacity          *float64 `yaml:"test_capacity,omitempty"`
	MissionAlignment      *float64 `yaml:"mission_alignment,omitempty"`
	DomainAlignment       *float64 `yaml:"domain_alignment,omitempty"`
	ClassificationPenalty *float64 `yaml:"classification_penalty,omitempty"`
	ShockSensitivity      *float64 `yaml:"shock_sensitivity,omitempty"`
	InitialTRL            int      `yaml:"initial_trl,omitempty"`

	Dependencies []string `yaml:"dependencies,omitempty"`
}

// Context converts the record into a clamped ProgramContext, filling absent
// scores with neutral defaults.
func (r ProgramRecord) Context() models.ProgramContext {
	c := models.DefaultProgramContext()
	c.ProgramID = strings.TrimSpace(r.ProgramID)
	c.ServiceComponent = r.ServiceComponent
	c.Domain = r.Domain
	c.OrgType = r.OrgType
	c.AuthorityType = r.AuthorityType
	c.KineticCategory = r.KineticCategory
	c.FundingColor = r.FundingColor
	c.FundingSource = r.FundingSource
	c.BudgetActivity = r.BudgetActivity
	c.VendorID = r.VendorID
	c.StartStage = r.StartStage
	c.InitialTRL = r.InitialTRL
	if r.Status != "" {
		c.Status = models.ParseLifecycle(r.Status)
	}

	setScore(&c.SponsorCapacity, r.SponsorCapacity)
	setScore(&c.ExecutorCapacity, r.ExecutorCapacity)
	setScore(&c.TestCapacity, r.TestCapacity)
	setScore(&c.MissionAlignment, r.MissionAlignment)
	setScore(&c.DomainAlignment, r.DomainAlignment)
	setScore(&c.ClassificationPenalty, r.ClassificationPenalty)
	setScore(&c.ShockSensitivity, r.ShockSensitivity)

	for _, d := range r.Dependencies {
		if d = strings.TrimSpace(d); d != "" {
			c.Dependencies = append(c.Dependencies, d)
		}
	}
	return c.Clamped()
}

func setScore(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// Snapshot is the on-disk layout of a data file.
type Snapshot struct {
	OverallPrior float64           `yaml:"overall_prior"`
	Priors       PriorTables       `yaml:"priors"`
	Scores       map[string]Scores `yaml:"scores"`
	Programs     []ProgramRecord   `yaml:"programs"`
	Shocks       []shock.Event     `yaml:"shocks"`
}

// Static is a Repository backed by an in-memory snapshot.
type Static struct {
	overall  float64
	priors   PriorTables
	scores   map[string]Scores
	programs []models.ProgramContext
	shocks   []shock.Event
}

// LoadFile reads a YAML snapshot from path.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading data snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parsing data snapshot %s: %w", path, err)
	}
	return NewStatic(snap), nil
}

// NewStatic builds a repository from an already decoded snapshot. Category
// keys are normalized; program ids are kept verbatim.
func NewStatic(snap Snapshot) *Static {
	s := &Static{
		overall: models.Clamp01(snap.OverallPrior),
		priors: PriorTables{
			Program:    clampTable(snap.Priors.Program, false),
			Domain:     clampTable(snap.Priors.Domain, true),
			Authority:  clampTable(snap.Priors.Authority, true),
			VendorRisk: clampTable(snap.Priors.VendorRisk, true),
			GAO:        clampTable(snap.Priors.GAO, true),
		},
		scores: make(map[string]Scores, len(snap.Scores)),
		shocks: snap.Shocks,
	}
	for id, sc := range snap.Scores {
		s.scores[strings.TrimSpace(id)] = sc.Clamped()
	}
	for _, rec := range snap.Programs {
		s.programs = append(s.programs, rec.Context())
	}
	return s
}

func clampTable(in map[string]float64, normalize bool) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if normalize {
			k = models.NormalizeToken(k)
		} else {
			k = strings.TrimSpace(k)
		}
		out[k] = models.Clamp01(v)
	}
	return out
}

// Scores implements Repository.
func (s *Static) Scores(id string) Scores {
	return s.scores[strings.TrimSpace(id)]
}

// Prior averages every category table that has an entry for the query.
func (s *Static) Prior(q PriorQuery) (float64, bool) {
	sum, n := 0.0, 0
	add := func(table map[string]float64, key string, normalize bool) {
		if key == "" || table == nil {
			return
		}
		if normalize {
			key = models.NormalizeToken(key)
		}
		if v, ok := table[key]; ok {
			sum += v
			n++
		}
	}
	add(s.priors.Program, strings.TrimSpace(q.ProgramID), false)
	add(s.priors.Domain, q.Domain, true)
	add(s.priors.Authority, q.Authority, true)
	add(s.priors.VendorRisk, q.VendorRisk, true)
	add(s.priors.GAO, q.GAO, true)
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// OverallPrior implements Repository.
func (s *Static) OverallPrior() float64 {
	return s.overall
}

// Programs returns the program contexts in file order.
func (s *Static) Programs() []models.ProgramContext {
	out := make([]models.ProgramContext, len(s.programs))
	copy(out, s.programs)
	return out
}

// Shocks returns the shock events declared in the snapshot.
func (s *Static) Shocks() []shock.Event {
	out := make([]shock.Event, len(s.shocks))
	copy(out, s.shocks)
	return out
}

// Coverage reports how many entries each prior table holds.
func (s *Static) Coverage() map[string]int {
	return map[string]int{
		"program":     len(s.priors.Program),
		"domain":      len(s.priors.Domain),
		"authority":   len(s.priors.Authority),
		"vendor_risk": len(s.priors.VendorRisk),
		"gao":         len(s.priors.GAO),
	}
}
