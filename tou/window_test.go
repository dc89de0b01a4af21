package tou

import "testing"

func f(v float64) *float64 { return &v }

func TestNormalize_ExplicitCharge(t *testing.T) {
	w := Normalize(map[string]any{
		"chg_start": "08:00", "charge_power_w": -3000.0, "charge_end_soc": 90.0,
	}, nil)
	if w.Type != TypeCharge {
		t.Fatalf("got type %v, want charge", w.Type)
	}
	if w.PowerW != 3000 {
		t.Fatalf("got power %d, want 3000 (absolute)", w.PowerW)
	}
}

func TestNormalize_AutoResolvesFromSOC(t *testing.T) {
	discharge := Normalize(map[string]any{
		"start_time": "20:00", "power_w": 2000.0, "target_soc_pct": 30.0,
	}, f(80))
	if discharge.Type != TypeDischarge {
		t.Fatalf("got %v, want discharge", discharge.Type)
	}

	charge := Normalize(map[string]any{
		"start_time": "20:00", "power_w": 2000.0, "target_soc_pct": 95.0,
	}, f(80))
	if charge.Type != TypeCharge {
		t.Fatalf("got %v, want charge", charge.Type)
	}
}

func TestCapability_Invariant(t *testing.T) {
	c := Capability{MaxWindows: 6, Bidirectional: true, MaxChargeWindows: 6, MaxDischargeWindows: 6}
	if c.MaxWindows < c.MaxChargeWindows || c.MaxWindows < c.MaxDischargeWindows {
		t.Fatalf("capability invariant violated: %+v", c)
	}
	if c.Bidirectional && (c.MaxChargeWindows != c.MaxWindows || c.MaxDischargeWindows != c.MaxWindows) {
		t.Fatalf("bidirectional adapter must have equal window counts: %+v", c)
	}
}
