// Package pytes implements the ASCII console battery adapter: line
// oriented commands issued over a serial link, with a state machine
// governing which commands run on a given poll (info once, stat every
// 5 minutes, soh once a day per pack) and cached-fallback when a
// periodic command is skipped this cycle.
package pytes

import (
	"strconv"
	"strings"
)

// summaryField is one "Label           : value" line in a `pwr N`
// response, identified by its label prefix.
type summaryField struct {
	prefix string
	key    string
}

var summaryFields = []summaryField{
	{"Voltage         :", "voltage_mv"},
	{"Current         :", "current_ma"},
	{"Temperature     :", "temperature_mdeg"},
	{"Coulomb         :", "soc"},
	{"Basic Status    :", "basic_st"},
	{"Volt Status     :", "volt_st"},
	{"Current Status  :", "current_st"},
	{"Tmpr. Status    :", "temp_st"},
	{"Coul. Status    :", "coul_st"},
	{"Soh. Status     :", "soh_st"},
	{"Heater Status   :", "heater_st"},
}

// PackSummary is the parsed `pwr N` response for one pack.
type PackSummary struct {
	VoltageV    *float64
	CurrentA    *float64
	TempC       *float64
	SOCPct      *int
	BasicState  string
	VoltState   string
	CurrentState string
	TempState   string
	CoulState   string
	SOHState    string
	HeaterState string
	HasData     bool
}

// ParsePackSummary parses a `pwr N` response. Field values sit at a
// fixed column offset (19:27) after the label, matching the firmware's
// fixed-width console formatting.
func ParsePackSummary(lines []string) PackSummary {
	var s PackSummary
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		for _, f := range summaryFields {
			if !strings.Contains(line, f.prefix) {
				continue
			}
			val := fieldValue(line)
			switch f.key {
			case "voltage_mv":
				if n, ok := parseInt(val); ok {
					v := float64(n) / 1000.0
					s.VoltageV = &v
					s.HasData = true
				}
			case "current_ma":
				if n, ok := parseInt(val); ok {
					v := float64(n) / 1000.0
					s.CurrentA = &v
					s.HasData = true
				}
			case "temperature_mdeg":
				if n, ok := parseInt(val); ok {
					v := float64(n) / 1000.0
					s.TempC = &v
				}
			case "soc":
				if n, ok := parseInt(val); ok {
					s.SOCPct = &n
					s.HasData = true
				}
			case "basic_st":
				s.BasicState = strings.TrimSpace(val)
			case "volt_st":
				s.VoltState = strings.TrimSpace(val)
			case "current_st":
				s.CurrentState = strings.TrimSpace(val)
			case "temp_st":
				s.TempState = strings.TrimSpace(val)
			case "coul_st":
				s.CoulState = strings.TrimSpace(val)
			case "soh_st":
				s.SOHState = strings.TrimSpace(val)
			case "heater_st":
				s.HeaterState = strings.TrimSpace(val)
			}
			break
		}
	}
	return s
}

// fieldValue extracts the fixed-width value column (offset 19..27) a
// console summary line carries after its label, tolerating shorter
// lines.
func fieldValue(line string) string {
	const start, end = 19, 27
	if len(line) <= start {
		return ""
	}
	if len(line) < end {
		return strings.TrimSpace(line[start:])
	}
	return strings.TrimSpace(line[start:end])
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CellReading is one row of a `bat N` per-cell table.
type CellReading struct {
	Cell    int
	VoltageV float64
	CurrentA *float64
	TempC    *float64
	SOCPct   *int
}

// CellStats summarizes a pack's cell table (min/max/delta voltage).
type CellStats struct {
	VoltageMinV, VoltageMaxV, VoltageDeltaV float64
	TempMinC, TempMaxC, TempDeltaC          float64
	HasTemp                                 bool
}

// ParseCellTable parses the `bat N` tabular response. The header row is
// discovered by scanning for a line containing both "Battery" and
// "Volt" (column order is not fixed across firmware revisions); a
// documented firmware quirk omits the SOC header entirely, in which
// case the Coulomb column is assumed to carry SOC and Coulomb shifts
// one column right.
func ParseCellTable(lines []string) ([]CellReading, CellStats) {
	headerIdx := -1
	for i, l := range lines {
		if strings.Contains(l, "Battery") && strings.Contains(l, "Volt") {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return nil, CellStats{}
	}

	cols := splitColumns(lines[headerIdx])
	idx := map[string]int{}
	for i, c := range cols {
		idx[c] = i
	}
	if _, ok := idx["SOC"]; !ok {
		if coulIdx, ok := idx["Coulomb"]; ok {
			idx["SOC"] = coulIdx
			idx["Coulomb"] = coulIdx + 1
		}
	}

	var cells []CellReading
	for i := headerIdx + 1; i < len(lines); i++ {
		if i == len(lines)-1 {
			break // trailing "Command completed" line
		}
		row := splitColumns(lines[i])
		cellNum, ok := colInt(row, idx, "Battery")
		if !ok {
			continue
		}
		voltMv, ok := colInt(row, idx, "Volt")
		if !ok {
			continue
		}
		c := CellReading{Cell: cellNum + 1, VoltageV: float64(voltMv) / 1000.0}
		if curr, ok := colInt(row, idx, "Curr"); ok {
			v := float64(curr) / 1000.0
			c.CurrentA = &v
		}
		if temp, ok := colInt(row, idx, "Tempr"); ok {
			v := float64(temp) / 1000.0
			c.TempC = &v
		}
		if soc, ok := colStr(row, idx, "SOC"); ok {
			soc = strings.TrimSuffix(soc, "%")
			if n, ok := parseInt(soc); ok {
				c.SOCPct = &n
			}
		}
		cells = append(cells, c)
	}

	return cells, computeCellStats(cells)
}

func computeCellStats(cells []CellReading) CellStats {
	var stats CellStats
	if len(cells) == 0 {
		return stats
	}
	stats.VoltageMinV, stats.VoltageMaxV = cells[0].VoltageV, cells[0].VoltageV
	for _, c := range cells {
		if c.VoltageV < stats.VoltageMinV {
			stats.VoltageMinV = c.VoltageV
		}
		if c.VoltageV > stats.VoltageMaxV {
			stats.VoltageMaxV = c.VoltageV
		}
		if c.TempC != nil {
			if !stats.HasTemp {
				stats.TempMinC, stats.TempMaxC, stats.HasTemp = *c.TempC, *c.TempC, true
			}
			if *c.TempC < stats.TempMinC {
				stats.TempMinC = *c.TempC
			}
			if *c.TempC > stats.TempMaxC {
				stats.TempMaxC = *c.TempC
			}
		}
	}
	stats.VoltageDeltaV = stats.VoltageMaxV - stats.VoltageMinV
	if stats.HasTemp {
		stats.TempDeltaC = stats.TempMaxC - stats.TempMinC
	}
	return stats
}

func splitColumns(line string) []string {
	fields := strings.Fields(strings.TrimSpace(line))
	return fields
}

func colInt(row []string, idx map[string]int, col string) (int, bool) {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return 0, false
	}
	return parseInt(row[i])
}

func colStr(row []string, idx map[string]int, col string) (string, bool) {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return "", false
	}
	return row[i], true
}

// SOHResult is the parsed `soh N` response.
type SOHResult struct {
	SOHPct     *float64
	CycleCount *int
}

// ParseSOH parses the `soh N` table (Battery/Voltage/SOHCount/SOHStatus
// rows). SOH is inferred from cell status rather than reported
// directly: if every cell reports "Normal" the pack is 100% healthy,
// otherwise it is the fraction of cells that do.
func ParseSOH(lines []string) SOHResult {
	inTable := false
	var cycleCounts []int
	var normal, total int

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.Contains(line, "Battery") && strings.Contains(line, "Voltage") && strings.Contains(line, "SOHCount") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		if strings.Contains(line, "Command completed") {
			break
		}
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}
		count, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		cycleCounts = append(cycleCounts, count)
		total++
		if strings.EqualFold(parts[3], "Normal") {
			normal++
		}
	}

	var res SOHResult
	if len(cycleCounts) == 0 {
		return res
	}
	maxCycles := cycleCounts[0]
	for _, c := range cycleCounts {
		if c > maxCycles {
			maxCycles = c
		}
	}
	res.CycleCount = &maxCycles
	pct := 100.0
	if total > 0 {
		pct = (float64(normal) / float64(total)) * 100.0
	}
	res.SOHPct = &pct
	return res
}

// InfoResult is the parsed `info` response (device identity fields).
type InfoResult map[string]string

// ParseInfo parses the `info` command's "Label : value" lines.
func ParseInfo(lines []string) InfoResult {
	info := InfoResult{}
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		if !strings.Contains(line, ":") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		switch {
		case strings.Contains(key, "barcode"):
			info["serial_number"] = val
		case strings.Contains(key, "device name") || key == "name":
			info["model"] = val
		case strings.Contains(key, "manufacturer"):
			info["manufacturer"] = val
		case strings.Contains(key, "main soft version"):
			info["main_software_version"] = val
		}
	}
	return info
}
