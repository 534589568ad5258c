package api

import (
	"testing"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/store"
)

var (
	now      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tempRule = types.ThresholdRule{SensorType: "temp", Min: 10, Max: 30}
)

func entry(v float64, warnings, total int, age time.Duration) store.Entry {
	return store.Entry{
		Reading:   types.Reading{SensorID: "t-1", SensorType: "temp", Value: v, Unit: "C"},
		UpdatedAt: now.Add(-age),
		Warnings:  warnings,
		Total:     total,
	}
}

func keys(hints []DiagnosticHint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = h.Key
	}
	return out
}

func TestDiagnostics_Range(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantKey   string
		wantLevel string
	}{
		{"inside", 20, "ok", "ok"},
		{"near max", 29, "near_max", "info"},
		{"near min", 10.5, "near_min", "info"},
		{"slightly above", 31, "above_max", "warning"},
		{"far above", 40, "above_max", "critical"},
		{"slightly below", 9, "below_min", "warning"},
		{"far below", -5, "below_min", "critical"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hints := computeDiagnostics(entry(tc.value, 0, 1, 0), tempRule, true, now)
			if len(hints) != 1 {
				t.Fatalf("hints = %v, want one", keys(hints))
			}
			if hints[0].Key != tc.wantKey || hints[0].Level != tc.wantLevel {
				t.Errorf("got %s/%s, want %s/%s", hints[0].Key, hints[0].Level, tc.wantKey, tc.wantLevel)
			}
		})
	}
}

func TestDiagnostics_NoThreshold(t *testing.T) {
	e := entry(1e6, 0, 10, 0)
	e.Reading.SensorType = "lux"
	hints := computeDiagnostics(e, types.ThresholdRule{}, false, now)
	if len(hints) != 1 || hints[0].Key != "no_threshold" {
		t.Errorf("hints = %v, want [no_threshold]", keys(hints))
	}
}

func TestDiagnostics_BreachRatio(t *testing.T) {
	hints := computeDiagnostics(entry(20, 6, 10, 0), tempRule, true, now)
	if len(hints) != 1 || hints[0].Key != "frequent_breaches" || hints[0].Level != "warning" {
		t.Fatalf("hints = %v", keys(hints))
	}
	if hints[0].Value == nil || *hints[0].Value != 60 {
		t.Errorf("Value = %v, want 60", hints[0].Value)
	}

	hints = computeDiagnostics(entry(20, 2, 10, 0), tempRule, true, now)
	if len(hints) != 1 || hints[0].Key != "occasional_breaches" {
		t.Errorf("hints = %v", keys(hints))
	}

	// Too few samples.
	hints = computeDiagnostics(entry(20, 3, 4, 0), tempRule, true, now)
	if len(hints) != 1 || hints[0].Key != "ok" {
		t.Errorf("hints = %v, want [ok]", keys(hints))
	}
}

func TestDiagnostics_QuietAndOrdering(t *testing.T) {
	hints := computeDiagnostics(entry(45, 5, 5, 10*time.Minute), tempRule, true, now)
	got := keys(hints)
	want := []string{"above_max", "frequent_breaches", "quiet"}
	if len(got) != len(want) {
		t.Fatalf("hints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hints[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if hints[0].Level != "critical" {
		t.Errorf("above_max level = %s", hints[0].Level)
	}
}
