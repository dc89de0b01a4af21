// Package tou models Time-of-Use charge/discharge windows and the
// normalization from a vendor's raw command fields into the canonical
// Window shape.
package tou

import "fmt"

// Type is the direction of a TOU window.
type Type string

const (
	TypeCharge    Type = "charge"
	TypeDischarge Type = "discharge"
	TypeAuto      Type = "auto" // direction inferred at apply-time from target vs. current SOC
)

// Window is a normalized schedule entry. TargetSOCPct and TargetVoltageV
// are each set when the raw command carried them (either, both, or
// neither); the adapter's mode-source decides which one is applied.
type Window struct {
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"
	PowerW    int    // absolute watts
	TargetSOCPct   *float64
	TargetVoltageV *float64
	Type Type
}

// Capability advertises what an adapter's TOU scheduler supports.
type Capability struct {
	MaxWindows                int
	Bidirectional             bool
	SeparateChargeDischarge   bool
	MaxChargeWindows          int
	MaxDischargeWindows       int
}

// DefaultCapability mirrors the base adapter's conservative default: 3
// windows, not bidirectional, separate charge/discharge families.
func DefaultCapability() Capability {
	return Capability{
		MaxWindows:              3,
		Bidirectional:           false,
		SeparateChargeDischarge: true,
		MaxChargeWindows:        3,
		MaxDischargeWindows:     3,
	}
}

// Normalize builds a canonical Window from a vendor's raw command
// fields. It accepts whichever of the alternate key names the caller
// supplies (start_time/chg_start/dch_start, power_w/charge_power_w/
// discharge_power_w, target_soc_pct/charge_end_soc/discharge_end_soc)
// and determines Type either from an explicit "type" field or from
// which family of keys is present; for "auto" with currentSOCPct given,
// direction is resolved by comparing target to current.
func Normalize(raw map[string]any, currentSOCPct *float64) Window {
	w := Window{
		StartTime: firstString(raw, "start_time", "chg_start", "dch_start"),
		EndTime:   firstString(raw, "end_time", "chg_end", "dch_end"),
		Type:      TypeAuto,
	}

	if p := firstFloat(raw, "power_w", "charge_power_w", "discharge_power_w"); p != nil {
		w.PowerW = int(abs(*p))
	}

	if soc := firstFloat(raw, "target_soc_pct", "charge_end_soc", "discharge_end_soc"); soc != nil {
		w.TargetSOCPct = soc
	}
	if v := firstFloat(raw, "target_voltage_v"); v != nil {
		w.TargetVoltageV = v
	}

	if t, ok := raw["type"]; ok {
		w.Type = Type(fmt.Sprintf("%v", t))
	} else {
		_, hasCharge := firstPresent(raw, "charge_power_w", "chg_start", "charge_end_soc")
		_, hasDischarge := firstPresent(raw, "discharge_power_w", "dch_start", "discharge_end_soc")
		switch {
		case hasCharge:
			w.Type = TypeCharge
		case hasDischarge:
			w.Type = TypeDischarge
		default:
			w.Type = TypeAuto
		}
	}

	if w.Type == TypeAuto && currentSOCPct != nil && w.TargetSOCPct != nil {
		switch {
		case *w.TargetSOCPct < *currentSOCPct:
			w.Type = TypeDischarge
		case *w.TargetSOCPct > *currentSOCPct:
			w.Type = TypeCharge
		}
	}

	return w
}

// IsChargeWindow reports whether a window, once resolved, represents a
// grid-charging window — used to compute the charge_mode bitfield's bit
// 0 in the apply protocol.
func (w Window) IsChargeWindow(currentSOCPct *float64) bool {
	switch w.Type {
	case TypeCharge:
		return true
	case TypeDischarge:
		return false
	default: // auto
		if currentSOCPct != nil && w.TargetSOCPct != nil {
			return *w.TargetSOCPct > *currentSOCPct
		}
		return false
	}
}

func firstPresent(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]any, keys ...string) string {
	if v, ok := firstPresent(raw, keys...); ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func firstFloat(raw map[string]any, keys ...string) *float64 {
	v, ok := firstPresent(raw, keys...)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case float64:
		return &x
	case int:
		f := float64(x)
		return &f
	}
	return nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
