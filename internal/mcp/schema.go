package mcp

import (
	"time"

	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/pipeline"
)

// TransitsimRunInput defines the input for the transitsim_run tool. Zero
// values keep the project configuration.
type TransitsimRunInput struct {
	Regime       string `json:"regime,omitempty" jsonschema:"Governance regime: linear, adaptive or shock"`
	Seed         uint64 `json:"seed,omitempty" jsonschema:"Random seed (0 keeps the configured seed)"`
	Ticks        int    `json:"ticks,omitempty" jsonschema:"Number of ticks to simulate"`
	Researchers  int    `json:"researchers,omitempty" jsonschema:"Number of research entities"`
	Policymakers int    `json:"policymakers,omitempty" jsonschema:"Number of policymakers"`
	EndUsers     int    `json:"end_users,omitempty" jsonschema:"Number of end users voting on adoption"`
	Data         string `json:"data,omitempty" jsonschema:"Data snapshot path inside the project root"`
	Label        string `json:"label,omitempty" jsonschema:"Free-text label stored with the run"`
	Focus        string `json:"focus,omitempty" jsonschema:"Entity id (e.g. R-003) whose final state is returned"`
}

// TransitsimRunOutput defines the output for the transitsim_run tool.
type TransitsimRunOutput struct {
	RunID     string          `json:"run_id" jsonschema:"Identifier of the stored run"`
	ConfigSHA string          `json:"config_sha" jsonschema:"sha256 of the effective configuration"`
	Regime    string          `json:"regime"`
	Seed      uint64          `json:"seed"`
	Ticks     int             `json:"ticks"`
	Label     string          `json:"label,omitempty"`
	Summary   metrics.Summary `json:"summary" jsonschema:"Run KPIs and gate tallies"`
	Artifacts []string        `json:"artifacts,omitempty" jsonschema:"Export files written for the run"`
	Focus     *pipeline.State `json:"focus,omitempty" jsonschema:"Final state of the focused entity"`
	Warnings  []string        `json:"warnings,omitempty" jsonschema:"Inputs that were reset to defaults"`
}

// TransitsimCompareInput defines the input for the transitsim_compare tool.
type TransitsimCompareInput struct {
	Regimes []string `json:"regimes,omitempty" jsonschema:"Regimes to compare (default: all)"`
	Runs    int      `json:"runs,omitempty" jsonschema:"Seeds per regime starting at the configured seed (default: 1)"`
	Ticks   int      `json:"ticks,omitempty" jsonschema:"Number of ticks per run"`
	Seed    uint64   `json:"seed,omitempty" jsonschema:"First seed (0 keeps the configured seed)"`
}

// TransitsimCompareOutput defines the output for the transitsim_compare tool.
type TransitsimCompareOutput struct {
	Results []RegimeSummary `json:"results" jsonschema:"Per-regime aggregates, highest transition rate first"`
	Best    string          `json:"best" jsonschema:"Regime with the highest mean transition rate"`
}

// RegimeSummary is one regime's aggregate over the compared seeds.
type RegimeSummary struct {
	Regime             string  `json:"regime"`
	Runs               int     `json:"runs"`
	MeanTransitionRate float64 `json:"mean_transition_rate"`
	MeanAvgCycleTime   float64 `json:"mean_avg_cycle_time"`
	MeanDiffusion      float64 `json:"mean_diffusion_speed"`
	Transitions        int     `json:"transitions"`
	Attempts           int     `json:"attempts"`
}

// TransitsimRunsInput defines the input for the transitsim_runs tool.
type TransitsimRunsInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"Run id or unique prefix; empty lists recent runs"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum runs to list (default: 20)"`
}

// TransitsimRunsOutput defines the output for the transitsim_runs tool.
type TransitsimRunsOutput struct {
	Runs  []RunListItem `json:"runs" jsonschema:"Stored runs, newest first"`
	Count int           `json:"count"`
}

// RunListItem is a stored run.
type RunListItem struct {
	ID             string           `json:"id"`
	Label          string           `json:"label,omitempty"`
	Regime         string           `json:"regime"`
	Seed           uint64           `json:"seed"`
	Ticks          int              `json:"ticks"`
	ConfigSHA      string           `json:"config_sha"`
	TransitionRate float64          `json:"transition_rate"`
	Transitions    int              `json:"transitions"`
	CreatedAt      time.Time        `json:"created_at"`
	Summary        *metrics.Summary `json:"summary,omitempty"`
}

// TransitsimEventsInput defines the input for the transitsim_events tool.
type TransitsimEventsInput struct {
	RunID    string `json:"run_id" jsonschema:"Run id or unique prefix"`
	Gate     string `json:"gate,omitempty" jsonschema:"Filter by gate: legal, funding, contracting, test, adoption"`
	Outcome  string `json:"outcome,omitempty" jsonschema:"Filter by outcome (e.g. pass, fail, not_conducted)"`
	EntityID string `json:"entity_id,omitempty" jsonschema:"Filter by entity id"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum events to return (default: 100)"`
}

// TransitsimEventsOutput defines the output for the transitsim_events tool.
type TransitsimEventsOutput struct {
	RunID  string                   `json:"run_id"`
	Counts map[string]metrics.Tally `json:"counts" jsonschema:"Pass and fail counts per gate over the whole run"`
	Events []EventItem              `json:"events"`
	Count  int                      `json:"count"`
}

// EventItem is one stored gate evaluation.
type EventItem struct {
	Tick        int     `json:"tick"`
	EntityID    string  `json:"entity_id"`
	Gate        string  `json:"gate"`
	Stage       string  `json:"stage"`
	Outcome     string  `json:"outcome"`
	Probability float64 `json:"probability"`
	Draw        float64 `json:"draw"`
}
