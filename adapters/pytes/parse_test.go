package pytes

import "testing"

func TestParsePackSummary(t *testing.T) {
	lines := []string{
		"Power Volt.   Curr.   Temp.   Coulomb Base.St  Volt.St Curr.St Temp.St Coul.St",
		"Voltage         :  51200                                                       ",
		"Current         :  10500                                                       ",
		"Temperature     :   25300                                                      ",
		"Coulomb         :     87                                                       ",
		"Basic Status    :  Charge                                                      ",
		"Command completed                                                              ",
	}
	s := ParsePackSummary(lines)
	if s.VoltageV == nil || *s.VoltageV != 51.2 {
		t.Fatalf("voltage = %v, want 51.2", s.VoltageV)
	}
	if s.CurrentA == nil || *s.CurrentA != 10.5 {
		t.Fatalf("current = %v, want 10.5", s.CurrentA)
	}
	if s.SOCPct == nil || *s.SOCPct != 87 {
		t.Fatalf("soc = %v, want 87", s.SOCPct)
	}
	if !s.HasData {
		t.Fatal("expected HasData true")
	}
}

func TestParseCellTable(t *testing.T) {
	lines := []string{
		"Battery  Volt     Curr     Tempr    Base State  Volt. State  Curr. State  Temp. State  SOC",
		"0        3380     0        25000    Normal      Normal       Normal       Normal       87%",
		"1        3390     0        25100    Normal      Normal       Normal       Normal       87%",
		"Command completed",
	}
	cells, stats := ParseCellTable(lines)
	if len(cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(cells))
	}
	if cells[0].Cell != 1 || cells[0].VoltageV != 3.380 {
		t.Fatalf("cell 0 = %+v", cells[0])
	}
	if cells[1].Cell != 2 || cells[1].VoltageV != 3.390 {
		t.Fatalf("cell 1 = %+v", cells[1])
	}
	if cells[0].TempC == nil || *cells[0].TempC != 25.0 {
		t.Fatalf("cell 0 temp = %v, want 25.0", cells[0].TempC)
	}
	if stats.VoltageMinV != 3.380 || stats.VoltageMaxV != 3.390 {
		t.Fatalf("stats = %+v", stats)
	}
	if !stats.HasTemp || stats.TempMinC != 25.0 || stats.TempMaxC != 25.1 {
		t.Fatalf("temp stats = %+v", stats)
	}
}

func TestParseCellTable_MissingSOCColumnFallsBackToCoulomb(t *testing.T) {
	// documented firmware quirk: no SOC header, Coulomb doubles as SOC
	lines := []string{
		"Battery  Volt     Curr     Tempr    Base State  Volt. State  Curr. State  Temp. State  Coulomb",
		"0        3380     0        25000    Normal      Normal       Normal       Normal       1500MAH",
		"Command completed",
	}
	cells, _ := ParseCellTable(lines)
	if len(cells) != 1 {
		t.Fatalf("got %d cells, want 1", len(cells))
	}
}

func TestParseSOH_AllNormalMeans100Pct(t *testing.T) {
	lines := []string{
		"soh 1",
		"Power   1",
		"Battery    Voltage    SOHCount   SOHStatus",
		"0          3484       12         Normal",
		"1          3490       14         Normal",
		"Command completed",
	}
	res := ParseSOH(lines)
	if res.SOHPct == nil || *res.SOHPct != 100.0 {
		t.Fatalf("soh = %v, want 100", res.SOHPct)
	}
	if res.CycleCount == nil || *res.CycleCount != 14 {
		t.Fatalf("cycles = %v, want 14 (max)", res.CycleCount)
	}
}

func TestParseSOH_PartialNormalIsFraction(t *testing.T) {
	lines := []string{
		"Battery    Voltage    SOHCount   SOHStatus",
		"0          3484       12         Normal",
		"1          3490       14         Warning",
		"Command completed",
	}
	res := ParseSOH(lines)
	if res.SOHPct == nil || *res.SOHPct != 50.0 {
		t.Fatalf("soh = %v, want 50", res.SOHPct)
	}
}

func TestParseInfo(t *testing.T) {
	lines := []string{
		"Device address      : 1",
		"Manufacturer        : Pylon",
		"Device name         : US2KBPL",
		"Barcode             : HPTBH02240A03193",
		"Command completed",
	}
	info := ParseInfo(lines)
	if info["serial_number"] != "HPTBH02240A03193" {
		t.Fatalf("serial = %q", info["serial_number"])
	}
	if info["model"] != "US2KBPL" {
		t.Fatalf("model = %q", info["model"])
	}
}
