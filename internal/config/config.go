// Package config provides unified configuration loading for transitsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/transitsim/internal/agents"
	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
	"github.com/nvandessel/transitsim/internal/penalty"
	"github.com/nvandessel/transitsim/internal/pipeline"
	"github.com/nvandessel/transitsim/internal/shock"
	"github.com/nvandessel/transitsim/internal/simulation"
)

// Config contains all transitsim configuration settings.
type Config struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Pipeline   pipeline.Config  `json:"pipeline" yaml:"pipeline"`
	Agents     agents.Config    `json:"agents" yaml:"agents"`
	Gates      gate.Config      `json:"gates" yaml:"gates"`
	Penalties  penalty.Config   `json:"penalties" yaml:"penalties"`

	// Shocks are targeted disruption events. Events from the data snapshot
	// are appended to these.
	Shocks []shock.Event `json:"shocks,omitempty" yaml:"shocks,omitempty"`

	Data    DataConfig    `json:"data" yaml:"data"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulationConfig sets the regime, seed, clock and population.
type SimulationConfig struct {
	Regime models.Regime `json:"regime" yaml:"regime"`
	Seed   uint64        `json:"seed" yaml:"seed"`
	Ticks  int           `json:"ticks" yaml:"ticks"`

	Researchers  int `json:"researchers" yaml:"researchers"`
	Policymakers int `json:"policymakers" yaml:"policymakers"`
	EndUsers     int `json:"end_users" yaml:"end_users"`

	// ShockAt and ShockDuration place the global shock window.
	ShockAt       int `json:"shock_at" yaml:"shock_at"`
	ShockDuration int `json:"shock_duration" yaml:"shock_duration"`
}

// DataConfig points at the optional external data snapshot.
type DataConfig struct {
	// Path is a YAML snapshot with priors, scores, programs and shocks.
	// Empty means neutral data.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// OutputConfig selects where run artifacts go.
type OutputConfig struct {
	// Dir holds the run database, event logs and exports.
	Dir string `json:"dir" yaml:"dir"`

	// Store persists run metadata and gate events to SQLite.
	Store bool `json:"store" yaml:"store"`

	// Arrow writes gate events to an Arrow IPC file per run.
	Arrow bool `json:"arrow" yaml:"arrow"`

	// Metrics writes Prometheus textfile metrics per run.
	Metrics bool `json:"metrics" yaml:"metrics"`
}

// LoggingConfig configures transitsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "warn", "info" (default), "debug", or "trace".
	// "debug" enables gate event logging to .transitsim/gate_events.jsonl.
	// "trace" additionally includes every gate factor.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	opts := simulation.DefaultOptions()
	return &Config{
		Simulation: SimulationConfig{
			Regime:        opts.Regime,
			Seed:          opts.Seed,
			Ticks:         constants.DefaultTicks,
			Researchers:   opts.Researchers,
			Policymakers:  opts.Policymakers,
			EndUsers:      opts.EndUsers,
			ShockAt:       opts.ShockAt,
			ShockDuration: opts.ShockDuration,
		},
		Pipeline:  opts.Pipeline,
		Agents:    opts.Agents,
		Gates:     opts.Gates,
		Penalties: opts.Penalties,
		Output: OutputConfig{
			Dir:   constants.OutputDir,
			Store: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> <root>/.transitsim/config.yaml -> environment variables
func Load(root string) (*Config, error) {
	config := Default()

	configPath := filepath.Join(root, constants.OutputDir, constants.ConfigFile)
	if _, statErr := os.Stat(configPath); statErr == nil {
		fileConfig, loadErr := LoadFromFile(configPath)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config file: %w", loadErr)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadPath loads configuration from path and then applies environment
// variable overrides, like Load does for the default location.
func LoadPath(path string) (*Config, error) {
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields absent
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Data.Path = expandEnvVars(config.Data.Path)
	config.Output.Dir = expandEnvVars(config.Output.Dir)

	return config, nil
}

// WriteFile writes the config as YAML to path, creating parent directories.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

var validate = validator.New()

// rule is one field check applied by Sanitize.
type rule struct {
	field string
	tag   string
	check func(c *Config) any
	reset func(c, def *Config)
}

func floatRule(field, tag string, get func(c *Config) *float64) rule {
	return rule{
		field: field,
		tag:   tag,
		check: func(c *Config) any { return *get(c) },
		reset: func(c, def *Config) { *get(c) = *get(def) },
	}
}

func intRule(field, tag string, get func(c *Config) *int) rule {
	return rule{
		field: field,
		tag:   tag,
		check: func(c *Config) any { return *get(c) },
		reset: func(c, def *Config) { *get(c) = *get(def) },
	}
}

var rules = []rule{
	{
		field: "simulation.regime",
		tag:   "oneof=linear adaptive shock",
		check: func(c *Config) any { return string(c.Simulation.Regime) },
		reset: func(c, def *Config) { c.Simulation.Regime = def.Simulation.Regime },
	},
	intRule("simulation.ticks", "gte=1", func(c *Config) *int { return &c.Simulation.Ticks }),
	intRule("simulation.researchers", "gte=0", func(c *Config) *int { return &c.Simulation.Researchers }),
	intRule("simulation.policymakers", "gte=0", func(c *Config) *int { return &c.Simulation.Policymakers }),
	intRule("simulation.end_users", "gte=0", func(c *Config) *int { return &c.Simulation.EndUsers }),
	intRule("simulation.shock_at", "gte=0", func(c *Config) *int { return &c.Simulation.ShockAt }),
	intRule("simulation.shock_duration", "gte=0", func(c *Config) *int { return &c.Simulation.ShockDuration }),

	floatRule("pipeline.prototype_rate", "gte=0,lte=1", func(c *Config) *float64 { return &c.Pipeline.PrototypeRate }),
	floatRule("pipeline.learning_rate", "gte=0,lte=1", func(c *Config) *float64 { return &c.Pipeline.LearningRate }),

	floatRule("agents.allocation_agility", "gte=0,lte=1", func(c *Config) *float64 { return &c.Agents.AllocationAgility }),
	floatRule("agents.oversight_rigidity", "gte=0,lte=1", func(c *Config) *float64 { return &c.Agents.OversightRigidity }),
	floatRule("agents.adoption_threshold", "gte=0,lte=1", func(c *Config) *float64 { return &c.Agents.AdoptionThreshold }),
	floatRule("agents.feedback_strength", "gte=0,lte=1", func(c *Config) *float64 { return &c.Agents.FeedbackStrength }),

	floatRule("gates.funding_rdte", "gte=0", func(c *Config) *float64 { return &c.Gates.FundingRDTE }),
	floatRule("gates.funding_om", "gte=0", func(c *Config) *float64 { return &c.Gates.FundingOM }),
	floatRule("gates.adoption_vote_pass_base", "gte=0,lte=1", func(c *Config) *float64 { return &c.Gates.AdoptionVotePassBase }),
	floatRule("gates.adoption_vote_fail_base", "gte=0,lte=1", func(c *Config) *float64 { return &c.Gates.AdoptionVoteFailBase }),
	floatRule("gates.adoption_sample_fraction", "gt=0,lte=1", func(c *Config) *float64 { return &c.Gates.AdoptionSampleFraction }),
	floatRule("gates.floor", "gt=0,lt=1", func(c *Config) *float64 { return &c.Gates.Floor }),
	floatRule("gates.ceiling", "gt=0,lte=1", func(c *Config) *float64 { return &c.Gates.Ceiling }),
	floatRule("gates.stall_relief_rate", "gte=0", func(c *Config) *float64 { return &c.Gates.StallReliefRate }),
	floatRule("gates.stall_relief_cap", "gte=0", func(c *Config) *float64 { return &c.Gates.StallReliefCap }),
	floatRule("gates.dependency_penalty_rate", "gte=0,lte=1", func(c *Config) *float64 { return &c.Gates.DependencyPenaltyRate }),
	floatRule("gates.dependency_penalty_floor", "gte=0,lte=1", func(c *Config) *float64 { return &c.Gates.DependencyPenaltyFloor }),

	floatRule("penalties.per_failure", "gte=0,lte=1", func(c *Config) *float64 { return &c.Penalties.PerFailure }),
	floatRule("penalties.cap", "gte=0,lte=1", func(c *Config) *float64 { return &c.Penalties.Cap }),
	floatRule("penalties.floor", "gte=0,lte=1", func(c *Config) *float64 { return &c.Penalties.Floor }),
	floatRule("penalties.decay", "gte=0,lte=1", func(c *Config) *float64 { return &c.Penalties.Decay }),

	{
		field: "logging.level",
		tag:   "omitempty,oneof=warn info debug trace",
		check: func(c *Config) any { return strings.ToLower(c.Logging.Level) },
		reset: func(c, def *Config) { c.Logging.Level = def.Logging.Level },
	},
}

// Sanitize resets every invalid field to its default and returns one
// warning per reset field. It never fails.
func (c *Config) Sanitize() []string {
	def := Default()
	var warnings []string
	for _, r := range rules {
		v := r.check(c)
		if err := validate.Var(v, r.tag); err != nil {
			r.reset(c, def)
			warnings = append(warnings, fmt.Sprintf("%s: invalid value %v (%s), using default %v", r.field, v, r.tag, r.check(c)))
		}
	}
	if c.Gates.Floor >= c.Gates.Ceiling {
		c.Gates.Floor, c.Gates.Ceiling = def.Gates.Floor, def.Gates.Ceiling
		warnings = append(warnings, fmt.Sprintf("gates: floor must be below ceiling, using defaults %v and %v", c.Gates.Floor, c.Gates.Ceiling))
	}
	if len(c.Gates.StageDifficulty) != models.StageCount {
		c.Gates.StageDifficulty = def.Gates.StageDifficulty
		warnings = append(warnings, fmt.Sprintf("gates.stage_difficulty: need %d values, using defaults", models.StageCount))
	}
	if c.Output.Dir == "" {
		c.Output.Dir = def.Output.Dir
	}
	return warnings
}

// ModelOptions maps the config onto simulation options. Repository,
// Programs, Sink and Logger are left for the caller.
func (c *Config) ModelOptions() simulation.Options {
	opts := simulation.DefaultOptions()
	opts.Regime = c.Simulation.Regime
	opts.Seed = c.Simulation.Seed
	opts.Researchers = c.Simulation.Researchers
	opts.Policymakers = c.Simulation.Policymakers
	opts.EndUsers = c.Simulation.EndUsers
	opts.ShockAt = c.Simulation.ShockAt
	opts.ShockDuration = c.Simulation.ShockDuration
	opts.Pipeline = c.Pipeline
	opts.Agents = c.Agents
	opts.Gates = c.Gates
	opts.Penalties = c.Penalties
	opts.Shocks = append([]shock.Event(nil), c.Shocks...)
	return opts
}

// SHA returns the sha256 of the canonical JSON encoding of the config. Two
// configs with the same SHA drive identical runs for the same seed.
func (c *Config) SHA() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("TRANSITSIM_REGIME"); v != "" {
		config.Simulation.Regime = models.Regime(strings.ToLower(v))
	}

	if v := os.Getenv("TRANSITSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}

	if v := os.Getenv("TRANSITSIM_TICKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Ticks = n
		}
	}

	if v := os.Getenv("TRANSITSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("TRANSITSIM_DATA"); v != "" {
		config.Data.Path = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
