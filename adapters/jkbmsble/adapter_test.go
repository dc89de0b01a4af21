package jkbmsble

import (
	"testing"

	"github.com/devskill-org/solar-device-core/telemetry"
	"github.com/devskill-org/solar-device-core/transport/ble"
)

func TestBankAggregation_TwoPacks(t *testing.T) {
	// S6
	samples := []ble.Sample{
		{VoltageV: 51.2, CurrentA: 10, SOCPct: 55},
		{VoltageV: 51.0, CurrentA: 8, SOCPct: 53},
	}
	bank := &telemetry.BatteryBankTelemetry{}
	applyBankAggregates(bank, samples)

	if bank.BatteriesCount != 2 {
		t.Fatalf("got %d packs, want 2", bank.BatteriesCount)
	}
	if got := bank.AvgVoltageV; got < 51.05 || got > 51.15 {
		t.Fatalf("got voltage %v, want ~51.1", got)
	}
	if bank.SummedCurrentA != 18.0 {
		t.Fatalf("got current %v, want 18.0", bank.SummedCurrentA)
	}
	if got := bank.AvgSOCPct; got < 53.9 || got > 54.1 {
		t.Fatalf("got soc %v, want ~54", got)
	}
	if power := BankPowerW(bank); power < 900 || power > 935 {
		t.Fatalf("got power %v, want ~919", power)
	}
}

func TestBankAggregation_AveragesTemperatureAcrossPacks(t *testing.T) {
	samples := []ble.Sample{
		{VoltageV: 51.2, CurrentA: 10, SOCPct: 55, Temperatures: []float64{20.0, 22.0}},
		{VoltageV: 51.0, CurrentA: 8, SOCPct: 53, Temperatures: []float64{26.0}},
	}
	bank := &telemetry.BatteryBankTelemetry{}
	applyBankAggregates(bank, samples)

	// pack 1 averages to 21, pack 2 reports 26; bank averages the packs.
	if got := bank.AvgTempC; got < 23.4 || got > 23.6 {
		t.Fatalf("got avg temp %v, want ~23.5", got)
	}
}

func TestAddCells_BroadcastsSingleTempAcrossCells(t *testing.T) {
	bank := &telemetry.BatteryBankTelemetry{
		CellVoltageStatsByUnit: map[int]telemetry.CellStats{},
		CellTempStatsByUnit:    map[int]telemetry.CellStats{},
	}
	addCells(bank, 1, []float64{3.30, 3.31, 3.29}, []float64{25.0})

	if len(bank.Cells) != 3 {
		t.Fatalf("got %d cells, want 3", len(bank.Cells))
	}
	for _, c := range bank.Cells {
		if c.TempC != 25.0 {
			t.Fatalf("got cell temp %v, want 25.0 broadcast from the single sensor", c.TempC)
		}
	}
	stats := bank.CellTempStatsByUnit[1]
	if stats.Min != 25.0 || stats.Max != 25.0 {
		t.Fatalf("got temp stats %+v, want min=max=25.0", stats)
	}
}
