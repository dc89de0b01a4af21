package hybridinverter

import (
	"fmt"
	"strings"
)

// PhaseType is the detected or configured phase topology of an inverter.
type PhaseType string

const (
	PhaseUnknown PhaseType = ""
	PhaseSingle  PhaseType = "single"
	PhaseThree   PhaseType = "three"
)

// Metadata carries the phase topology for one inverter, plus how many
// physical inverters back this adapter (normally 1).
type Metadata struct {
	Phase          PhaseType
	InverterCount  int
}

// ShouldPublishPhaseData reports whether per-phase fields should be
// surfaced on the telemetry record.
func (m Metadata) ShouldPublishPhaseData() bool {
	return m.Phase == PhaseThree
}

var phaseFieldKeys = []string{
	"load_l%d_power_w", "grid_l%d_power_w", "load_l%d_voltage_v", "grid_l%d_voltage_v",
}

// DetectPhaseTypeFromTelemetry implements the phase-detection priority
// order after the config declaration: presence of any per-phase field in
// raw device data is the most reliable signal and is checked first, then
// the inverter_type enum, then grid_type_setting.
func DetectPhaseTypeFromTelemetry(extra map[string]any) PhaseType {
	for _, phase := range []int{1, 2, 3} {
		for _, tmpl := range phaseFieldKeys {
			if _, ok := extra[fmt.Sprintf(tmpl, phase)]; ok {
				return PhaseThree
			}
		}
	}

	if inverterType, ok := extra["inverter_type"]; ok {
		if p := DetectPhaseTypeFromRegister(inverterType); p != PhaseUnknown {
			return p
		}
	}

	if gridType, ok := extra["grid_type_setting"]; ok {
		s := fmt.Sprintf("%v", gridType)
		switch {
		case s == "0" || strings.EqualFold(s, "three phase"):
			return PhaseThree
		case s == "1" || strings.EqualFold(s, "single-phase"):
			return PhaseSingle
		}
	}

	return PhaseUnknown
}

// DetectPhaseTypeFromRegister maps the inverter_type enum value alone:
// "5"/"3 Phase Hybrid Inverter" is three-phase; "2","3","4" are known
// single-phase codes; anything else is unknown.
func DetectPhaseTypeFromRegister(value any) PhaseType {
	if value == nil {
		return PhaseUnknown
	}
	s := fmt.Sprintf("%v", value)
	switch {
	case s == "5" || strings.EqualFold(s, "3 phase hybrid inverter"):
		return PhaseThree
	case s == "2" || s == "3" || s == "4":
		return PhaseSingle
	}
	return PhaseUnknown
}

// DetectMetadata resolves phase topology with priority: explicit config
// declaration, then detection from telemetry/extra.
func DetectMetadata(configPhase PhaseType, extra map[string]any, inverterCount int) Metadata {
	if inverterCount <= 0 {
		inverterCount = 1
	}
	if configPhase != PhaseUnknown {
		return Metadata{Phase: configPhase, InverterCount: inverterCount}
	}
	return Metadata{Phase: DetectPhaseTypeFromTelemetry(extra), InverterCount: inverterCount}
}
