// Package telemetry defines the normalized telemetry records produced by
// every adapter in this module and the mapper that translates
// device-local register ids into the standardized field names.
package telemetry

import "time"

// Telemetry is a timestamped snapshot of one inverter/meter-class
// device. Sign convention: positive battery power/current means
// charging; positive grid power means import. Adapters invert at the
// boundary where the underlying register disagrees.
type Telemetry struct {
	TS time.Time

	PVPowerW  *float64
	PV1PowerW *float64
	PV2PowerW *float64
	PV3PowerW *float64
	PV4PowerW *float64

	LoadPowerW *float64
	GridPowerW *float64
	BattPowerW *float64

	BattSOCPct    *float64
	BattVoltageV  *float64
	BattCurrentA  *float64
	BattTempC     *float64

	InverterTempC *float64
	InverterMode  string
	ErrorCode     string

	TodayEnergy               *float64
	TotalEnergy               *float64
	TodayLoadEnergy           *float64
	TodayImportEnergy         *float64
	TodayExportEnergy         *float64
	TodayBatteryChargeEnergy  *float64
	TodayBatteryDischargeEnergy *float64

	OffGridMode bool

	Phase *PhaseTelemetry

	DeviceModel  string
	SerialNumber string
	RatedPowerW  *float64

	// Extra preserves every device-local key for downstream
	// specialization; it always contains at least the raw register
	// read that produced this record.
	Extra map[string]any
}

// PhaseTelemetry carries per-phase fields for three-phase inverters.
type PhaseTelemetry struct {
	LoadL1PowerW, LoadL2PowerW, LoadL3PowerW       *float64
	LoadL1VoltageV, LoadL2VoltageV, LoadL3VoltageV *float64
	LoadL1CurrentA, LoadL2CurrentA, LoadL3CurrentA *float64
	LoadFrequencyHz                                *float64

	GridL1PowerW, GridL2PowerW, GridL3PowerW       *float64
	GridL1VoltageV, GridL2VoltageV, GridL3VoltageV *float64
	GridL1CurrentA, GridL2CurrentA, GridL3CurrentA *float64
	GridFrequencyHz                                *float64

	GridLineVoltageABV, GridLineVoltageBCV, GridLineVoltageCAV *float64
}

// CellStats gives per-unit min/max/delta for a cell-level quantity.
type CellStats struct {
	Min, Max, Delta float64
}

// BatteryUnit is one physical pack within a bank.
type BatteryUnit struct {
	Power       int // 1-based unit index
	VoltageV    float64
	CurrentA    float64
	TempC       float64
	SOCPct      float64
	SOHPct      float64
	CycleCount  int
}

// CellEntry is one cell within one unit.
type CellEntry struct {
	Power  int // unit index
	Cell   int // 1-based cell index
	VoltageV float64
	TempC    float64
}

// BatteryBankTelemetry aggregates a multi-pack battery bank: bank-wide
// stats, per-unit records, and per-cell records with per-unit min/max/
// delta summaries for voltage and temperature.
type BatteryBankTelemetry struct {
	TS time.Time

	BatteriesCount   int
	CellsPerBattery  int
	AvgVoltageV      float64
	SummedCurrentA   float64
	AvgTempC         float64
	AvgSOCPct        float64

	Units []BatteryUnit
	Cells []CellEntry

	CellVoltageStatsByUnit map[int]CellStats
	CellTempStatsByUnit    map[int]CellStats

	Extra map[string]any
}

// MeterTelemetry is the normalized record for a dedicated energy meter
// (IAMMeter-class device).
type MeterTelemetry struct {
	TS time.Time

	VoltageV  float64
	CurrentA  float64
	PowerW    float64
	FrequencyHz float64
	PowerFactor float64

	L1VoltageV, L2VoltageV, L3VoltageV *float64
	L1CurrentA, L2CurrentA, L3CurrentA *float64
	L1PowerW, L2PowerW, L3PowerW       *float64

	ForwardEnergyKWh float64
	ReverseEnergyKWh float64
	TodayForwardEnergyKWh float64
	TodayReverseEnergyKWh float64

	Extra map[string]any
}
