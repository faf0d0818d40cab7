package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/store"
)

var smallRun = []string{"--ticks", "15", "--researchers", "10", "--policymakers", "3", "--end-users", "6"}

// runCLI executes the root command against root and returns stdout.
func runCLI(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--root", root, "--log-level", "warn"}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, root string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, root, args...)
	if err != nil {
		t.Fatalf("transitsim %s: %v", strings.Join(args, " "), err)
	}
	return out
}

// clearEnv unsets TRANSITSIM_* overrides for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TRANSITSIM_REGIME", "TRANSITSIM_SEED", "TRANSITSIM_TICKS", "TRANSITSIM_LOG_LEVEL", "TRANSITSIM_DATA"} {
		t.Setenv(k, "")
	}
}

type runOutput struct {
	RunID     string          `json:"run_id"`
	ConfigSHA string          `json:"config_sha"`
	Label     string          `json:"label"`
	Summary   metrics.Summary `json:"summary"`
	Artifacts []string        `json:"artifacts"`
	Regime    string          `json:"regime"`
	Seed      uint64          `json:"seed"`
	Ticks     int             `json:"ticks"`
	Stored    bool            `json:"stored"`
	Focus     *struct {
		ID    string `json:"id"`
		Stage string `json:"stage"`
	} `json:"focus"`
}

func runJSON(t *testing.T, root string, args ...string) runOutput {
	t.Helper()
	args = append(append([]string{"run", "--format", "json"}, smallRun...), args...)
	out := mustRunCLI(t, root, args...)
	var got runOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding run output: %v\n%s", err, out)
	}
	return got
}

func TestVersion(t *testing.T) {
	root := t.TempDir()

	out := mustRunCLI(t, root, "version")
	if !strings.HasPrefix(out, "transitsim version "+version) {
		t.Errorf("version output = %q", out)
	}

	out = mustRunCLI(t, root, "version", "--format", "json")
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding version json: %v", err)
	}
	want := map[string]string{"version": version, "commit": commit, "date": date}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("version json mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := runCLI(t, t.TempDir(), "version", "--format", "xml"); err == nil {
		t.Error("expected error for --format xml")
	}
}

func TestRun_StoresResult(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	got := runJSON(t, root, "--regime", "adaptive", "--seed", "11", "--label", "first")
	if got.RunID == "" || len(got.ConfigSHA) != 64 {
		t.Fatalf("run output missing id or sha: %+v", got)
	}
	if got.Regime != "adaptive" || got.Seed != 11 || got.Ticks != 15 {
		t.Errorf("run echoed regime=%s seed=%d ticks=%d", got.Regime, got.Seed, got.Ticks)
	}
	if !got.Stored {
		t.Error("run should be stored by default")
	}
	if got.Summary.Transitions > got.Summary.Attempts {
		t.Errorf("transitions %d > attempts %d", got.Summary.Transitions, got.Summary.Attempts)
	}

	s, err := store.NewSQLiteRunStore(filepath.Join(root, constants.OutputDir))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer s.Close()
	run, err := s.GetRun(t.Context(), got.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Label != "first" || run.ConfigSHA != got.ConfigSHA {
		t.Errorf("stored run = %+v", run)
	}
	if diff := cmp.Diff(got.Summary, run.Summary); diff != "" {
		t.Errorf("stored summary mismatch (-printed +stored):\n%s", diff)
	}
}

func TestRun_Deterministic(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	a := runJSON(t, root, "--seed", "5", "--no-store")
	b := runJSON(t, root, "--seed", "5", "--no-store")
	if a.ConfigSHA != b.ConfigSHA {
		t.Errorf("config sha differs: %s vs %s", a.ConfigSHA, b.ConfigSHA)
	}
	if diff := cmp.Diff(a.Summary, b.Summary); diff != "" {
		t.Errorf("same seed gave different summaries (-a +b):\n%s", diff)
	}
}

func TestRun_NoStore(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	got := runJSON(t, root, "--no-store")
	if got.Stored {
		t.Error("--no-store run reported stored")
	}
	if _, err := os.Stat(filepath.Join(root, constants.OutputDir, constants.DatabaseFile)); !os.IsNotExist(err) {
		t.Errorf("run database should not exist, stat err = %v", err)
	}
}

func TestRun_Exports(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	got := runJSON(t, root, "--arrow", "--metrics")
	if len(got.Artifacts) != 2 {
		t.Fatalf("artifacts = %v, want arrow and prom files", got.Artifacts)
	}
	for _, a := range got.Artifacts {
		if _, err := os.Stat(a); err != nil {
			t.Errorf("artifact %s: %v", a, err)
		}
	}
}

func TestRun_Focus(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	got := runJSON(t, root, "--focus", "R-003", "--no-store")
	if got.Focus == nil || got.Focus.ID != "R-003" || got.Focus.Stage == "" {
		t.Errorf("focus = %+v", got.Focus)
	}

	out := mustRunCLI(t, root, append(append([]string{"run", "--no-store"}, smallRun...), "--focus", "R-003")...)
	if !strings.Contains(out, "Entity R-003") {
		t.Errorf("text output missing entity block:\n%s", out)
	}

	if _, err := runCLI(t, root, append(append([]string{"run", "--no-store"}, smallRun...), "--focus", "R-999")...); err == nil {
		t.Error("expected error for unknown focus entity")
	}
}

func TestRun_InvalidFlags(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown regime", []string{"--regime", "chaotic"}},
		{"zero ticks", []string{"--ticks", "0"}},
		{"too many ticks", []string{"--ticks", "100000"}},
		{"negative researchers", []string{"--researchers", "-1"}},
		{"too many end users", []string{"--end-users", "999999"}},
		{"missing data file", []string{"--data", "nope.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "--no-store"}, tt.args...)
			if _, err := runCLI(t, t.TempDir(), args...); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}

func TestRunsListShowDelete(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	first := runJSON(t, root, "--seed", "1")
	second := runJSON(t, root, "--seed", "2", "--label", "second")

	out := mustRunCLI(t, root, "runs", "list", "--format", "json")
	var list struct {
		Runs  []store.Run `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decoding runs list: %v", err)
	}
	if list.Count != 2 {
		t.Fatalf("runs list count = %d, want 2", list.Count)
	}
	if list.Runs[0].ID != second.RunID {
		t.Errorf("newest run first: got %s, want %s", list.Runs[0].ID, second.RunID)
	}

	text := mustRunCLI(t, root, "runs", "list")
	if !strings.Contains(text, "second") || !strings.Contains(text, shortID(first.RunID)) {
		t.Errorf("runs list text missing rows:\n%s", text)
	}

	out = mustRunCLI(t, root, "runs", "show", first.RunID[:12], "--events", "5", "--format", "json")
	var show struct {
		Run        store.Run                `json:"run"`
		GateCounts map[string]metrics.Tally `json:"gate_counts"`
		Events     []json.RawMessage        `json:"events"`
	}
	if err := json.Unmarshal([]byte(out), &show); err != nil {
		t.Fatalf("decoding runs show: %v", err)
	}
	if show.Run.ID != first.RunID {
		t.Errorf("show resolved %s, want %s", show.Run.ID, first.RunID)
	}
	if len(show.Events) > 5 {
		t.Errorf("show returned %d events, limit 5", len(show.Events))
	}

	if _, err := runCLI(t, root, "runs", "show", first.RunID, "--gate", "bribery"); err == nil {
		t.Error("expected error for unknown gate")
	}

	mustRunCLI(t, root, "runs", "delete", first.RunID)
	if _, err := runCLI(t, root, "runs", "show", first.RunID); err == nil {
		t.Error("deleted run still shown")
	}
}

func TestRunsList_Empty(t *testing.T) {
	clearEnv(t)
	out := mustRunCLI(t, t.TempDir(), "runs", "list")
	if !strings.Contains(out, "No runs stored yet") {
		t.Errorf("empty list output = %q", out)
	}
}

func TestCompare(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	cfgPath := filepath.Join(root, "small.yaml")
	if err := os.WriteFile(cfgPath, []byte("simulation:\n  researchers: 8\n  policymakers: 3\n  end_users: 5\n"), 0600); err != nil {
		t.Fatal(err)
	}

	out := mustRunCLI(t, root, "--config", cfgPath, "compare", "--runs", "2", "--ticks", "10", "--format", "json")
	var got struct {
		Runs    int `json:"runs"`
		Results []struct {
			Regime             string  `json:"regime"`
			Runs               int     `json:"runs"`
			MeanTransitionRate float64 `json:"mean_transition_rate"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding compare output: %v", err)
	}
	if len(got.Results) != 3 {
		t.Fatalf("compare returned %d regimes, want 3", len(got.Results))
	}
	for i, r := range got.Results {
		if r.Runs != 2 {
			t.Errorf("%s runs = %d, want 2", r.Regime, r.Runs)
		}
		if i > 0 && r.MeanTransitionRate > got.Results[i-1].MeanTransitionRate {
			t.Errorf("results not ranked by transition rate: %+v", got.Results)
		}
	}

	out = mustRunCLI(t, root, "--config", cfgPath, "compare", "--regimes", "linear,shock", "--ticks", "10")
	if !strings.Contains(out, "linear") || !strings.Contains(out, "shock") || strings.Contains(out, "adaptive") {
		t.Errorf("compare table output:\n%s", out)
	}

	// compare runs are not stored
	out = mustRunCLI(t, root, "--config", cfgPath, "runs", "list", "--format", "json")
	if !strings.Contains(out, `"count": 0`) {
		t.Errorf("compare stored runs:\n%s", out)
	}
}

func TestCompare_InvalidFlags(t *testing.T) {
	clearEnv(t)
	tests := [][]string{
		{"compare", "--runs", "0"},
		{"compare", "--runs", "1000"},
		{"compare", "--regimes", "linear,bogus"},
		{"compare", "--ticks", "-3"},
	}
	for _, args := range tests {
		if _, err := runCLI(t, t.TempDir(), args...); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestConfigInitShow(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	mustRunCLI(t, root, "config", "init")
	path := filepath.Join(root, constants.OutputDir, constants.ConfigFile)
	written, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	want, _ := config.Default().SHA()
	if sha, _ := written.SHA(); sha != want {
		t.Error("init wrote a config that differs from the defaults")
	}

	if _, err := runCLI(t, root, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	mustRunCLI(t, root, "config", "init", "--force")

	out := mustRunCLI(t, root, "config", "show")
	if !strings.HasPrefix(out, "# sha: ") || !strings.Contains(out, "simulation:") {
		t.Errorf("config show output:\n%s", out)
	}

	out = mustRunCLI(t, root, "config", "show", "--format", "json")
	var got struct {
		SHA    string `json:"sha"`
		Config struct {
			Simulation struct {
				Ticks int `json:"ticks"`
			} `json:"simulation"`
		} `json:"config"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding config json: %v", err)
	}
	if len(got.SHA) != 64 || got.Config.Simulation.Ticks != constants.DefaultTicks {
		t.Errorf("config show json = %+v", got)
	}
}

func TestConfigShow_EnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSITSIM_TICKS", "42")

	out := mustRunCLI(t, t.TempDir(), "config", "show", "--format", "json")
	if !strings.Contains(out, `"ticks": 42`) {
		t.Errorf("env override not applied:\n%s", out)
	}
}

func TestResolve(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "data.yaml")
	if got := resolve("/project", abs); got != abs {
		t.Errorf("resolve kept absolute path: got %s", got)
	}
	if got := resolve("/project", "data.yaml"); got != filepath.Join("/project", "data.yaml") {
		t.Errorf("resolve relative = %s", got)
	}
}
