package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func readAudit(t *testing.T, dir string) []AuditEntry {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, AuditFile))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("parse audit line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestAuditLogger_NilSafety(t *testing.T) {
	var logger *AuditLogger
	logger.Log(AuditEntry{Tool: "transitsim_run"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger = %v", err)
	}
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	logger := NewAuditLogger(dir)
	if logger == nil {
		t.Fatal("expected logger")
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger.Log(AuditEntry{Timestamp: now, Tool: "transitsim_run", DurationMs: 42, Status: "success", RunID: "abc"})
	logger.Log(AuditEntry{Timestamp: now, Tool: "transitsim_runs", Status: "error", Error: "boom"})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	logger.Log(AuditEntry{Tool: "after close"})

	got := readAudit(t, dir)
	want := []AuditEntry{
		{Timestamp: now, Tool: "transitsim_run", DurationMs: 42, Status: "success", RunID: "abc"},
		{Timestamp: now, Tool: "transitsim_runs", Status: "error", Error: "boom"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("audit entries mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(filepath.Join(dir, AuditFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEntry{Tool: "transitsim_runs", Status: "success"})
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readAudit(t, dir)); got != 50 {
		t.Errorf("entries = %d, want 50", got)
	}
}

func TestAuditLogger_BadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if logger := NewAuditLogger(filepath.Join(file, "sub")); logger != nil {
		t.Error("expected nil logger when the directory cannot be created")
	}
}

func TestSanitizeToolParams(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   map[string]string
	}{
		{"nil", nil, nil},
		{
			"safe values logged",
			map[string]any{"regime": "shock", "seed": uint64(9), "ticks": 50},
			map[string]string{"regime": "shock", "seed": "9", "ticks": "50", "_param_count": "3"},
		},
		{
			"paths and labels presence only",
			map[string]any{"data": "/home/me/secret.yaml", "label": "q3 review", "run_id": "abc"},
			map[string]string{"data": "(set)", "label": "(set)", "run_id": "(set)", "_param_count": "3"},
		},
		{
			"zero values dropped",
			map[string]any{"regime": "", "seed": uint64(0), "runs": 0, "regimes": []string(nil)},
			map[string]string{"_param_count": "0"},
		},
		{
			"unknown keys counted but not logged",
			map[string]any{"mystery": "value", "limit": 5},
			map[string]string{"limit": "5", "_param_count": "2"},
		},
		{
			"lists formatted",
			map[string]any{"regimes": []string{"linear", "shock"}},
			map[string]string{"regimes": "[linear shock]", "_param_count": "1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, sanitizeToolParams(tt.params)); diff != "" {
				t.Errorf("sanitizeToolParams mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAuditTool_RecordsToolCalls(t *testing.T) {
	s, _ := newTestServer(t, smallConfig)
	ctx := context.Background()

	_, out, err := s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, TransitsimRunInput{
		Ticks: 5, Label: "private label",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = s.handleTransitsimRun(ctx, &sdk.CallToolRequest{}, TransitsimRunInput{Regime: "bogus"})
	if err == nil {
		t.Fatal("expected error")
	}

	s.auditLogger.Close()
	entries := readAudit(t, s.cfg.Output.Dir)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	ok := entries[0]
	if ok.Tool != "transitsim_run" || ok.Status != "success" || ok.RunID != out.RunID {
		t.Errorf("success entry = %+v", ok)
	}
	if ok.Params["label"] != "(set)" || ok.Params["ticks"] != "5" {
		t.Errorf("params = %v", ok.Params)
	}

	raw, err := os.ReadFile(filepath.Join(s.cfg.Output.Dir, AuditFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "private label") {
		t.Error("label text leaked into the audit log")
	}

	bad := entries[1]
	if bad.Status != "error" || !strings.Contains(bad.Error, "unknown regime") || bad.RunID != "" {
		t.Errorf("error entry = %+v", bad)
	}
}
