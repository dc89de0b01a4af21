package hybridinverter

import "testing"

func TestDecodeMode(t *testing.T) {
	cases := map[int]string{0: "Standby", 2: "Normal", 4: "Fault", 9: "Unknown(9)"}
	for raw, want := range cases {
		if got := decodeMode(raw); got != want {
			t.Errorf("decodeMode(%d) = %q, want %q", raw, got, want)
		}
	}
}

func TestDecodeOffGrid(t *testing.T) {
	if decodeOffGrid(0b000) {
		t.Fatal("bit 2 clear should not be off-grid")
	}
	if !decodeOffGrid(0b100) {
		t.Fatal("bit 2 set should be off-grid")
	}
}

func TestDecodeFault_FirstNonzero(t *testing.T) {
	raw := map[string]any{
		"fault_word_0": 0,
		"fault_word_1": 0x0012,
		"fault_word_2": 0x0034,
	}
	if got, want := decodeFault(raw), "F1:0012"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeFault_AllZero(t *testing.T) {
	raw := map[string]any{"fault_word_0": 0, "fault_word_1": 0}
	if got := decodeFault(raw); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestNormalizeBatteryPower(t *testing.T) {
	p := 500.0
	got := normalizeBatteryPower(&p, true)
	if *got != -500.0 {
		t.Fatalf("got %v, want -500", *got)
	}
	got2 := normalizeBatteryPower(&p, false)
	if *got2 != 500.0 {
		t.Fatalf("got %v, want 500", *got2)
	}
}

func TestDetectMetadata_ConfigPriority(t *testing.T) {
	m := DetectMetadata(PhaseSingle, map[string]any{"load_l1_power_w": 100.0}, 1)
	if m.Phase != PhaseSingle {
		t.Fatalf("config phase must win over detection, got %v", m.Phase)
	}
}

func TestDetectPhaseTypeFromTelemetry_PhaseFieldWins(t *testing.T) {
	extra := map[string]any{"grid_l2_voltage_v": 230.0, "inverter_type": "2"}
	if got := DetectPhaseTypeFromTelemetry(extra); got != PhaseThree {
		t.Fatalf("got %v, want three (phase-field detection takes priority)", got)
	}
}

func TestDetectPhaseTypeFromRegister(t *testing.T) {
	if got := DetectPhaseTypeFromRegister("5"); got != PhaseThree {
		t.Fatalf("got %v, want three", got)
	}
	if got := DetectPhaseTypeFromRegister("3"); got != PhaseSingle {
		t.Fatalf("got %v, want single", got)
	}
	if got := DetectPhaseTypeFromRegister("99"); got != PhaseUnknown {
		t.Fatalf("got %v, want unknown", got)
	}
}
