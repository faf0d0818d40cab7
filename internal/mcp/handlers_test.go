package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/ratelimit"
	"github.com/nvandessel/transitsim/internal/store"
)

func TestHandleTransitsimRun(t *testing.T) {
	s, root := newTestServer(t, smallConfig)
	ctx := context.Background()

	result, out, err := s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, TransitsimRunInput{
		Regime: "Adaptive",
		Ticks:  20,
		Label:  "<b>sweep</b>\nbaseline",
		Focus:  "R-002",
	})
	if err != nil {
		t.Fatalf("handleTransitsimRun failed: %v", err)
	}
	if result != nil {
		t.Error("expected nil result (SDK auto-populates)")
	}

	if out.RunID == "" || out.ConfigSHA == "" {
		t.Errorf("missing identifiers: %+v", out)
	}
	if out.Regime != "adaptive" || out.Seed != 7 || out.Ticks != 20 {
		t.Errorf("regime/seed/ticks = %s/%d/%d", out.Regime, out.Seed, out.Ticks)
	}
	if out.Label != "sweep baseline" {
		t.Errorf("label = %q, want sanitized", out.Label)
	}
	if out.Summary.Ticks != 20 {
		t.Errorf("summary ticks = %d", out.Summary.Ticks)
	}
	if out.Focus == nil || out.Focus.ID != "R-002" {
		t.Errorf("focus = %+v", out.Focus)
	}
	if len(out.Artifacts) != 2 {
		t.Fatalf("artifacts = %v, want arrow and metrics exports", out.Artifacts)
	}
	for _, a := range out.Artifacts {
		if filepath.IsAbs(a) {
			t.Errorf("artifact %q should be relative to the root", a)
		}
		if _, err := os.Stat(filepath.Join(root, a)); err != nil {
			t.Errorf("artifact %q missing: %v", a, err)
		}
	}

	stored, err := s.store.GetRun(ctx, out.RunID)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if diff := cmp.Diff(out.Summary, stored.Summary); diff != "" {
		t.Errorf("stored summary mismatch (-tool +stored):\n%s", diff)
	}
}

func TestHandleTransitsimRun_Deterministic(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)
	ctx := context.Background()
	in := TransitsimRunInput{Regime: "shock", Seed: 11, Ticks: 25}

	_, a, err := s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatal(err)
	}
	_, b, err := s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatal(err)
	}
	if a.RunID == b.RunID {
		t.Error("each run needs its own id")
	}
	if a.ConfigSHA != b.ConfigSHA {
		t.Error("same inputs should hash to the same config")
	}
	if diff := cmp.Diff(a.Summary, b.Summary); diff != "" {
		t.Errorf("same seed produced different summaries:\n%s", diff)
	}
}

func TestHandleTransitsimRun_DoesNotLeakOverrides(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)

	if _, _, err := s.handleTransitsimRun(context.Background(), &sdk.CallToolRequest{}, TransitsimRunInput{
		Regime: "shock", Seed: 99, Ticks: 5, Researchers: 4,
	}); err != nil {
		t.Fatal(err)
	}
	if s.cfg.Simulation.Seed != 7 || s.cfg.Simulation.Ticks != 15 || s.cfg.Simulation.Researchers != 10 {
		t.Errorf("server config mutated: %+v", s.cfg.Simulation)
	}
}

func TestHandleTransitsimRun_InvalidInput(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "snapshot.yaml")

	tests := []struct {
		name        string
		in          TransitsimRunInput
		errContains string
	}{
		{"unknown regime", TransitsimRunInput{Regime: "chaotic"}, "unknown regime"},
		{"negative ticks", TransitsimRunInput{Ticks: -1}, "ticks"},
		{"too many ticks", TransitsimRunInput{Ticks: constants.MaxTicks + 1}, "ticks"},
		{"negative researchers", TransitsimRunInput{Researchers: -3}, "researchers"},
		{"population too large", TransitsimRunInput{EndUsers: constants.MaxPopulation + 1}, "end_users"},
		{"data outside root", TransitsimRunInput{Data: outside}, "invalid data path"},
		{"data escapes root", TransitsimRunInput{Data: "../../snapshot.yaml"}, "invalid data path"},
		{"missing data file", TransitsimRunInput{Data: "missing.yaml"}, "run failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, smallConfig)
			_, _, err := s.handleTransitsimRun(context.Background(), &sdk.CallToolRequest{}, tt.in)
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("err = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestHandleTransitsimRun_UnknownFocus(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)

	_, out, err := s.handleTransitsimRun(context.Background(), &sdk.CallToolRequest{}, TransitsimRunInput{Focus: "R-999"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Focus != nil {
		t.Errorf("focus = %+v, want nil", out.Focus)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "R-999") {
		t.Errorf("warnings = %v", out.Warnings)
	}
}

func TestHandleTransitsimRun_RateLimited(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)
	ctx := context.Background()

	var err error
	for i := 0; i < 4 && err == nil; i++ {
		_, _, err = s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, TransitsimRunInput{Ticks: 1})
	}
	if !errors.Is(err, ratelimit.ErrLimited) {
		t.Errorf("err = %v, want rate limit after burst of 3", err)
	}
}

func TestHandleTransitsimCompare(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)

	_, out, err := s.handleTransitsimCompare(context.Background(), &sdk.CallToolRequest{}, TransitsimCompareInput{
		Regimes: []string{"linear", "ADAPTIVE"},
		Runs:    2,
		Ticks:   20,
	})
	if err != nil {
		t.Fatalf("handleTransitsimCompare failed: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(out.Results))
	}
	if out.Best != out.Results[0].Regime {
		t.Errorf("best = %q, first = %q", out.Best, out.Results[0].Regime)
	}
	if out.Results[0].MeanTransitionRate < out.Results[1].MeanTransitionRate {
		t.Error("results should be ranked by mean transition rate")
	}
	for _, r := range out.Results {
		if r.Runs != 2 {
			t.Errorf("%s runs = %d, want 2", r.Regime, r.Runs)
		}
	}

	runs, err := s.store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("compare stored %d runs, want none", len(runs))
	}
}

func TestHandleTransitsimCompare_InvalidInput(t *testing.T) {
	tests := []struct {
		name        string
		in          TransitsimCompareInput
		errContains string
	}{
		{"unknown regime", TransitsimCompareInput{Regimes: []string{"linear", "ad hoc"}}, "unknown regime"},
		{"too many runs", TransitsimCompareInput{Runs: constants.MaxCompareRuns + 1}, "runs"},
		{"negative runs", TransitsimCompareInput{Runs: -1}, "runs"},
		{"too many ticks", TransitsimCompareInput{Ticks: constants.MaxTicks + 1}, "ticks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, smallConfig)
			_, _, err := s.handleTransitsimCompare(context.Background(), &sdk.CallToolRequest{}, tt.in)
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("err = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestHandleTransitsimRuns(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)
	ctx := context.Background()

	_, empty, err := s.handleTransitsimRuns(ctx, &sdk.CallToolRequest{}, TransitsimRunsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if empty.Count != 0 || empty.Runs == nil {
		t.Errorf("empty store: %+v", empty)
	}

	var ids []string
	for _, regime := range []string{"linear", "adaptive"} {
		_, out, err := s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, TransitsimRunInput{Regime: regime, Ticks: 10})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, out.RunID)
	}

	_, list, err := s.handleTransitsimRuns(ctx, &sdk.CallToolRequest{}, TransitsimRunsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
	for _, item := range list.Runs {
		if item.Summary != nil {
			t.Error("list entries should omit the full summary")
		}
	}

	_, limited, err := s.handleTransitsimRuns(ctx, &sdk.CallToolRequest{}, TransitsimRunsInput{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if limited.Count != 1 {
		t.Errorf("limited count = %d, want 1", limited.Count)
	}

	_, one, err := s.handleTransitsimRuns(ctx, &sdk.CallToolRequest{}, TransitsimRunsInput{RunID: ids[1][:13]})
	if err != nil {
		t.Fatalf("get by prefix: %v", err)
	}
	if one.Count != 1 || one.Runs[0].ID != ids[1] || one.Runs[0].Regime != "adaptive" {
		t.Errorf("get = %+v", one.Runs)
	}
	if one.Runs[0].Summary == nil || one.Runs[0].Summary.Ticks != 10 {
		t.Errorf("get should include the summary: %+v", one.Runs[0].Summary)
	}

	_, _, err = s.handleTransitsimRuns(ctx, &sdk.CallToolRequest{}, TransitsimRunsInput{RunID: "no-such-run"})
	if !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestHandleTransitsimEvents(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)
	ctx := context.Background()

	_, run, err := s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, TransitsimRunInput{Ticks: 30})
	if err != nil {
		t.Fatal(err)
	}

	_, all, err := s.handleTransitsimEvents(ctx, &sdk.CallToolRequest{}, TransitsimEventsInput{RunID: run.RunID, Limit: 5000})
	if err != nil {
		t.Fatalf("handleTransitsimEvents failed: %v", err)
	}
	if all.RunID != run.RunID {
		t.Errorf("run id = %q", all.RunID)
	}
	if all.Count == 0 || all.Count > maxEventsLimit {
		t.Errorf("count = %d, want 1..%d", all.Count, maxEventsLimit)
	}
	if len(all.Counts) == 0 {
		t.Error("expected per-gate counts")
	}

	_, funding, err := s.handleTransitsimEvents(ctx, &sdk.CallToolRequest{}, TransitsimEventsInput{
		RunID: run.RunID[:8], Gate: "Funding", Limit: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if funding.Count > 10 {
		t.Errorf("limit ignored: %d events", funding.Count)
	}
	for _, ev := range funding.Events {
		if ev.Gate != "funding" {
			t.Errorf("gate filter leaked %q", ev.Gate)
		}
		if ev.Probability < 0 || ev.Probability > 1 {
			t.Errorf("probability %v out of range", ev.Probability)
		}
	}
}

func TestHandleTransitsimEvents_InvalidInput(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)
	ctx := context.Background()

	if _, _, err := s.handleTransitsimEvents(ctx, &sdk.CallToolRequest{}, TransitsimEventsInput{}); err == nil {
		t.Error("expected error for missing run_id")
	}
	if _, _, err := s.handleTransitsimEvents(ctx, &sdk.CallToolRequest{}, TransitsimEventsInput{RunID: "x", Gate: "budget"}); err == nil ||
		!strings.Contains(err.Error(), "unknown gate") {
		t.Errorf("err = %v, want unknown gate", err)
	}
	if _, _, err := s.handleTransitsimEvents(ctx, &sdk.CallToolRequest{}, TransitsimEventsInput{RunID: "missing"}); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestRelativeArtifacts(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "project")
	got := relativeArtifacts(root, []string{
		filepath.Join(root, ".transitsim", "exports", "a.prom"),
		filepath.Join(string(filepath.Separator), "elsewhere", "b.prom"),
	})
	want := []string{
		filepath.Join(".transitsim", "exports", "a.prom"),
		filepath.Join(string(filepath.Separator), "elsewhere", "b.prom"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("relativeArtifacts mismatch (-want +got):\n%s", diff)
	}
}
