package penalty

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestLedger_FactorUnknownKeys(t *testing.T) {
	l := NewLedger(DefaultConfig())
	if f := l.Factor([]string{"a", "b"}); f != 1.0 {
		t.Errorf("empty ledger factor = %v, want 1", f)
	}
	if f := l.Factor(nil); f != 1.0 {
		t.Errorf("nil keys factor = %v, want 1", f)
	}
}

func TestLedger_RecordAndFactor(t *testing.T) {
	cfg := Config{PerFailure: 0.1, Cap: 0.5, Floor: 0.0, Decay: 0}
	l := NewLedger(cfg)

	l.Record([]string{"entity=R-001", "domain=Cyber", ""})
	l.Record([]string{"entity=R-001"})

	if c := l.Count("entity=R-001"); c != 2 {
		t.Errorf("count = %v, want 2", c)
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2 (empty key ignored)", l.Len())
	}

	// (1 - 0.2) * (1 - 0.1) = 0.72
	got := l.Factor([]string{"entity=R-001", "domain=Cyber"})
	if math.Abs(got-0.72) > 1e-9 {
		t.Errorf("factor = %v, want 0.72", got)
	}
}

func TestLedger_CapAndFloor(t *testing.T) {
	cfg := Config{PerFailure: 0.1, Cap: 0.3, Floor: 0.6, Decay: 0}
	l := NewLedger(cfg)
	for i := 0; i < 50; i++ {
		l.Record([]string{"a"})
	}

	if got := l.Factor([]string{"a"}); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("capped factor = %v, want 0.7", got)
	}

	for i := 0; i < 50; i++ {
		l.Record([]string{"b"})
	}
	// 0.7 * 0.7 = 0.49 < floor
	if got := l.Factor([]string{"a", "b"}); got != 0.6 {
		t.Errorf("floored factor = %v, want 0.6", got)
	}
}

func TestLedger_Decay(t *testing.T) {
	cfg := Config{PerFailure: 0.05, Cap: 0.5, Floor: 0, Decay: 0.5}
	l := NewLedger(cfg)
	// A key listed twice in one call counts twice.
	l.Record([]string{"a", "a"})
	l.Record([]string{"a"})
	if c := l.Count("a"); c != 3 {
		t.Fatalf("count before decay = %v, want 3", c)
	}

	before := l.Factor([]string{"a"})
	l.Decay()
	if c := l.Count("a"); c != 1.5 {
		t.Errorf("count after decay = %v, want 1.5", c)
	}
	after := l.Factor([]string{"a"})
	if after <= before {
		t.Errorf("factor should recover after decay: before=%v after=%v", before, after)
	}

	for i := 0; i < 20; i++ {
		l.Decay()
	}
	if l.Len() != 0 {
		t.Errorf("decayed keys should be pruned, Len = %d", l.Len())
	}
}

func TestLedger_DecayZeroIsNoop(t *testing.T) {
	l := NewLedger(Config{PerFailure: 0.1, Cap: 1, Floor: 0, Decay: 0})
	l.Record([]string{"a"})
	l.Decay()
	if c := l.Count("a"); c != 1 {
		t.Errorf("count = %v, want 1", c)
	}
}

func TestLedger_Snapshot(t *testing.T) {
	l := NewLedger(DefaultConfig())
	l.Record([]string{"b", "a", "c"})
	l.Record([]string{"c"})

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	want := []string{"c", "a", "b"}
	for i, e := range snap {
		if e.Key != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, e.Key, want[i])
		}
	}
}

func TestLedger_FactorMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("factor is non-increasing in failure count", prop.ForAll(
		func(perFailure, capV, floor float64, n int) bool {
			l := NewLedger(Config{PerFailure: perFailure, Cap: capV, Floor: floor})
			keys := []string{"k"}
			prev := l.Factor(keys)
			for i := 0; i < n; i++ {
				l.Record(keys)
				cur := l.Factor(keys)
				if cur > prev+1e-12 {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.Float64Range(0, 0.5),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 0.9),
		gen.IntRange(0, 60),
	))

	properties.Property("factor is non-decreasing after decay", prop.ForAll(
		func(decay float64, n int) bool {
			l := NewLedger(Config{PerFailure: 0.03, Cap: 0.6, Floor: 0.1, Decay: decay})
			keys := []string{"k", "j"}
			for i := 0; i < n; i++ {
				l.Record(keys[:1+i%2])
			}
			before := l.Factor(keys)
			l.Decay()
			return l.Factor(keys) >= before-1e-12
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 80),
	))

	properties.Property("factor stays within [floor, 1]", prop.ForAll(
		func(floor float64, n int) bool {
			l := NewLedger(Config{PerFailure: 0.2, Cap: 1, Floor: floor})
			for i := 0; i < n; i++ {
				l.Record([]string{"a", "b", "c"})
			}
			f := l.Factor([]string{"a", "b", "c"})
			return f >= floor && f <= 1
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}
