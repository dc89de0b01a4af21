package iammeter

import (
	"testing"
	"time"

	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/telemetry"
)

func TestFirstNonZero_PrefersNonZeroOverZero(t *testing.T) {
	raw := map[string]any{"a": 0.0, "b": 12.5}
	v, ok := firstNonZero(raw, []string{"a", "b"})
	if !ok || v != 12.5 {
		t.Fatalf("got (%v, %v), want (12.5, true)", v, ok)
	}
}

func TestFirstNonZero_FallsBackToZeroIfAllZero(t *testing.T) {
	raw := map[string]any{"a": 0.0, "b": 0.0}
	v, ok := firstNonZero(raw, []string{"a", "b"})
	if !ok || v != 0.0 {
		t.Fatalf("got (%v, %v), want (0, true)", v, ok)
	}
}

func TestFirstNonZero_MissingBothIsNotOK(t *testing.T) {
	raw := map[string]any{}
	_, ok := firstNonZero(raw, []string{"a", "b"})
	if ok {
		t.Fatal("expected not-ok when no candidate present")
	}
}

func TestResolveQuantity_PrefersRegisterMapOverHardcoded(t *testing.T) {
	raw := map[string]any{"legacy": 230.0}
	called := false
	v := resolveQuantity(raw, []string{"legacy", "extended"}, func() (float64, bool) {
		called = true
		return 999, true
	})
	if v != 230.0 {
		t.Fatalf("got %v, want 230.0 from the register map", v)
	}
	if called {
		t.Fatal("hardcoded fallback should not run when the register map has a nonzero value")
	}
}

func TestResolveQuantity_FallsBackToHardcodedWhenBothIDsAbsent(t *testing.T) {
	raw := map[string]any{}
	v := resolveQuantity(raw, []string{"legacy", "extended"}, func() (float64, bool) {
		return 231.5, true
	})
	if v != 231.5 {
		t.Fatalf("got %v, want 231.5 from the hardcoded fallback", v)
	}
}

func TestResolveQuantity_FallsBackToHardcodedWhenBothIDsReadZero(t *testing.T) {
	raw := map[string]any{"legacy": 0.0, "extended": 0.0}
	v := resolveQuantity(raw, []string{"legacy", "extended"}, func() (float64, bool) {
		return 49.8, true
	})
	if v != 49.8 {
		t.Fatalf("got %v, want 49.8 from the hardcoded fallback", v)
	}
}

func TestResolveQuantity_StaysZeroWhenHardcodedAlsoFails(t *testing.T) {
	raw := map[string]any{}
	v := resolveQuantity(raw, []string{"legacy", "extended"}, func() (float64, bool) {
		return 0, false
	})
	if v != 0 {
		t.Fatalf("got %v, want 0 when every tier is absent", v)
	}
}

func TestLayoutOrder_RespectsPreference(t *testing.T) {
	a := &Adapter{cfg: config.IAMMeterConfig{PreferLegacyRegisters: true}}
	order := a.layoutOrder("legacy", "extended")
	if order[0] != "legacy" {
		t.Fatalf("got order %v, want legacy first", order)
	}
	a.cfg.PreferLegacyRegisters = false
	order = a.layoutOrder("legacy", "extended")
	if order[0] != "extended" {
		t.Fatalf("got order %v, want extended first", order)
	}
}

func TestApplyDailyEnergy_AccumulatesPositiveDeltas(t *testing.T) {
	a := &Adapter{}
	tel := &telemetry.MeterTelemetry{TS: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)}
	a.applyDailyEnergy(tel, 100.0, 50.0)
	if tel.TodayForwardEnergyKWh != 0 {
		t.Fatalf("first sample should not add a delta, got %v", tel.TodayForwardEnergyKWh)
	}

	tel2 := &telemetry.MeterTelemetry{TS: time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC)}
	a.applyDailyEnergy(tel2, 100.5, 50.2)
	if tel2.TodayForwardEnergyKWh != 0.5 {
		t.Fatalf("got forward %v, want 0.5", tel2.TodayForwardEnergyKWh)
	}
	if tel2.TodayReverseEnergyKWh != 0.2 {
		t.Fatalf("got reverse %v, want 0.2", tel2.TodayReverseEnergyKWh)
	}
}

func TestApplyDailyEnergy_NegativeDeltaResetsInsteadOfGoingNegative(t *testing.T) {
	a := &Adapter{}
	ts := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	a.applyDailyEnergy(&telemetry.MeterTelemetry{TS: ts}, 100.0, 50.0)
	a.applyDailyEnergy(&telemetry.MeterTelemetry{TS: ts.Add(time.Hour)}, 100.5, 50.0)

	// counter rolled over / meter reset: new reading is lower than last
	tel := &telemetry.MeterTelemetry{TS: ts.Add(2 * time.Hour)}
	a.applyDailyEnergy(tel, 0.2, 50.0)
	if tel.TodayForwardEnergyKWh != 0.2 {
		t.Fatalf("got %v, want 0.2 (restarted from current reading)", tel.TodayForwardEnergyKWh)
	}
}

func TestApplyDailyEnergy_CalendarBoundaryResets(t *testing.T) {
	a := &Adapter{}
	day1 := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	a.applyDailyEnergy(&telemetry.MeterTelemetry{TS: day1}, 100.0, 50.0)
	a.applyDailyEnergy(&telemetry.MeterTelemetry{TS: day1.Add(30 * time.Minute)}, 101.0, 50.0)

	day2 := time.Date(2026, 7, 31, 0, 30, 0, 0, time.UTC)
	tel := &telemetry.MeterTelemetry{TS: day2}
	a.applyDailyEnergy(tel, 101.1, 50.0)
	// the daily accumulator zeroes at the boundary, but the delta since
	// the last poll (101.1-101.0=0.1) still counts toward the new day.
	if got := tel.TodayForwardEnergyKWh; got < 0.099 || got > 0.101 {
		t.Fatalf("got %v, want ~0.1 (accumulator reset, delta since last poll still counted)", got)
	}
}
