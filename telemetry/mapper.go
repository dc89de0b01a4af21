package telemetry

import "github.com/devskill-org/solar-device-core/registermap"

// Standard field names, mirroring the canonical cross-device vocabulary.
const (
	FieldTS                = "ts"
	FieldPVPowerW          = "pv_power_w"
	FieldPV1PowerW         = "pv1_power_w"
	FieldPV2PowerW         = "pv2_power_w"
	FieldPV3PowerW         = "pv3_power_w"
	FieldPV4PowerW         = "pv4_power_w"
	FieldLoadPowerW        = "load_power_w"
	FieldGridPowerW        = "grid_power_w"
	FieldBattPowerW        = "batt_power_w"
	FieldBattSOCPct        = "batt_soc_pct"
	FieldBattVoltageV      = "batt_voltage_v"
	FieldBattCurrentA      = "batt_current_a"
	FieldBattTempC         = "batt_temp_c"
	FieldInverterTempC     = "inverter_temp_c"
	FieldInverterMode      = "inverter_mode"
	FieldErrorCode         = "error_code"
	FieldDeviceModel       = "device_model"
	FieldSerialNumber      = "serial_number"
	FieldRatedPowerW       = "rated_power_w"
	FieldOffGridMode       = "off_grid_mode"
	FieldTodayEnergy       = "today_energy"
	FieldTotalEnergy       = "total_energy"
	FieldTodayLoadEnergy   = "today_load_energy"
	FieldTodayImportEnergy = "today_import_energy"
	FieldTodayExportEnergy = "today_export_energy"
)

// Mapper builds device-id <-> standard-id indexes once from a register
// map and translates raw device dicts into standardized form. It is
// immutable after construction and safe for concurrent use.
type Mapper struct {
	deviceToStandard map[string]string
	standardToDevice map[string][]string
}

// NewMapper builds a Mapper from a loaded register map: for every
// descriptor, standard_id is used if present, otherwise the device id
// doubles as its own standard id.
func NewMapper(m *registermap.Map) *Mapper {
	mp := &Mapper{
		deviceToStandard: make(map[string]string, len(m.Registers)),
		standardToDevice: make(map[string][]string, len(m.Registers)),
	}
	for _, d := range m.Registers {
		std := d.StandardID
		if std == "" {
			std = d.ID
		}
		mp.deviceToStandard[d.ID] = std
		mp.standardToDevice[std] = append(mp.standardToDevice[std], d.ID)
	}
	return mp
}

// MapToStandard translates a raw device_id -> value dict into a
// standard_id -> value dict, preserving the original values under
// "extra". Idempotent and safe across repeated calls.
func (mp *Mapper) MapToStandard(device map[string]any) map[string]any {
	out := make(map[string]any, len(device)+1)
	for k, v := range device {
		std, ok := mp.deviceToStandard[k]
		if !ok {
			std = k
		}
		out[std] = v
	}
	extra := make(map[string]any, len(device))
	for k, v := range device {
		extra[k] = v
	}
	out["extra"] = extra
	return out
}

// StandardField returns the standard id for a device id, defaulting to
// the device id itself when no mapping was declared.
func (mp *Mapper) StandardField(deviceID string) string {
	if std, ok := mp.deviceToStandard[deviceID]; ok {
		return std
	}
	return deviceID
}

// DeviceFields returns every device id that maps to the given standard
// id.
func (mp *Mapper) DeviceFields(standardID string) []string {
	return mp.standardToDevice[standardID]
}
