package timing

import (
	"testing"
	"time"

	"synsched/internal/engine/tier"
)

var goFull = Key{Language: "go", Tier: tier.Small, Class: ClassFull, Injections: true}

func newMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(DefaultParams())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestDeriveTimeout_UnknownKeyGetsMax(t *testing.T) {
	m := newMetrics(t)
	got := m.DeriveTimeout(goFull, 10*time.Millisecond, time.Second)
	if got != time.Second {
		t.Fatalf("expected max for unknown key, got %s", got)
	}
}

func TestDeriveTimeout_AlwaysClamped(t *testing.T) {
	m := newMetrics(t)
	min, max := 20*time.Millisecond, 500*time.Millisecond

	samples := []time.Duration{time.Microsecond, time.Millisecond, 80 * time.Millisecond, 10 * time.Second}
	for _, s := range samples {
		m.RecordTaskResult(goFull, s, false, true)
		got := m.DeriveTimeout(goFull, min, max)
		if got < min || got > max {
			t.Fatalf("after sample %s budget %s outside [%s, %s]", s, got, min, max)
		}
	}

	// Inverted bounds collapse to min.
	if got := m.DeriveTimeout(goFull, max, min); got != max {
		t.Fatalf("expected inverted bounds to collapse to %s, got %s", max, got)
	}
}

func TestDeriveTimeout_FastKeyConvergesTight(t *testing.T) {
	m := newMetrics(t)
	for i := 0; i < 30; i++ {
		m.RecordTaskResult(goFull, 2*time.Millisecond, false, true)
	}
	got := m.DeriveTimeout(goFull, time.Millisecond, 2*time.Second)
	// 2ms * 3 = 6ms once converged.
	if got > 10*time.Millisecond {
		t.Fatalf("expected tight budget for fast key, got %s", got)
	}
}

func TestDeriveTimeout_TimeoutsRaiseBudget(t *testing.T) {
	min, max := time.Millisecond, 10*time.Second

	baseline := newMetrics(t)
	penalised := newMetrics(t)
	for i := 0; i < 5; i++ {
		baseline.RecordTaskResult(goFull, 50*time.Millisecond, false, true)
		penalised.RecordTaskResult(goFull, 50*time.Millisecond, false, true)
	}
	base := baseline.DeriveTimeout(goFull, min, max)

	prev := base
	for i := 0; i < 6; i++ {
		budget := penalised.DeriveTimeout(goFull, min, max)
		penalised.RecordTaskResult(goFull, budget, true, false)
		next := penalised.DeriveTimeout(goFull, min, max)
		if next < max && next <= prev {
			t.Fatalf("timeout %d did not raise budget: prev=%s next=%s", i, prev, next)
		}
		if next <= base {
			t.Fatalf("budget %s not above zero-timeout baseline %s", next, base)
		}
		prev = next
	}

	for i := 0; i < 50; i++ {
		penalised.RecordTaskResult(goFull, max, true, false)
	}
	if got := penalised.DeriveTimeout(goFull, min, max); got != max {
		t.Fatalf("expected repeated timeouts to saturate at max, got %s", got)
	}
}

func TestRecordTaskResult_FailureKeepsDuration(t *testing.T) {
	m := newMetrics(t)
	m.RecordTaskResult(goFull, 40*time.Millisecond, false, true)
	m.RecordTaskResult(goFull, time.Microsecond, false, false)

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 key, got %d", len(snap))
	}
	if snap[0].EMA != 40*time.Millisecond {
		t.Fatalf("engine failure should not move the duration average, got %s", snap[0].EMA)
	}
	if snap[0].Samples != 2 {
		t.Fatalf("expected 2 samples, got %d", snap[0].Samples)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	m := newMetrics(t)
	incremental := goFull
	incremental.Class = ClassIncremental

	m.RecordTaskResult(goFull, 100*time.Millisecond, false, true)
	m.RecordTaskResult(incremental, 5*time.Millisecond, false, true)

	full := m.DeriveTimeout(goFull, time.Millisecond, 10*time.Second)
	inc := m.DeriveTimeout(incremental, time.Millisecond, 10*time.Second)
	if inc >= full {
		t.Fatalf("expected incremental budget below full budget: inc=%s full=%s", inc, full)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", m.Len())
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"defaults", DefaultParams(), true},
		{"zero alpha", Params{Alpha: 0, BaseMultiplier: 2, TimeoutPenalty: 1}, false},
		{"alpha above one", Params{Alpha: 1.5, BaseMultiplier: 2, TimeoutPenalty: 1}, false},
		{"multiplier below one", Params{Alpha: 0.5, BaseMultiplier: 0.5, TimeoutPenalty: 1}, false},
		{"negative penalty", Params{Alpha: 0.5, BaseMultiplier: 2, TimeoutPenalty: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() err=%v, want ok=%v", err, tt.ok)
			}
		})
	}

	m := newMetrics(t)
	if err := m.SetParams(Params{}); err == nil {
		t.Fatal("expected SetParams to reject invalid params")
	}
}
