package pytes

import "testing"

func TestCellEntry_CarriesTemperatureWhenPresent(t *testing.T) {
	temp := 24.5
	c := CellReading{Cell: 3, VoltageV: 3.35, TempC: &temp}
	entry := cellEntry(2, c)
	if entry.Power != 2 || entry.Cell != 3 || entry.VoltageV != 3.35 {
		t.Fatalf("got %+v, want power=2 cell=3 voltage=3.35", entry)
	}
	if entry.TempC != 24.5 {
		t.Fatalf("got temp %v, want 24.5", entry.TempC)
	}
}

func TestCellEntry_ZeroTempWhenAbsent(t *testing.T) {
	c := CellReading{Cell: 1, VoltageV: 3.30}
	entry := cellEntry(1, c)
	if entry.TempC != 0 {
		t.Fatalf("got temp %v, want 0 when the console didn't report one", entry.TempC)
	}
}
