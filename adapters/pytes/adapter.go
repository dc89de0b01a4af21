package pytes

import (
	"strconv"
	"time"

	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/errkind"
	"github.com/devskill-org/solar-device-core/telemetry"
	"github.com/devskill-org/solar-device-core/transport/serial"
)

const (
	statInterval       = 5 * time.Minute
	sohInterval        = 24 * time.Hour
	interCommandDelay  = 500 * time.Millisecond
	cellReadDelay      = 300 * time.Millisecond
	summaryTimeout     = 1200 * time.Millisecond
	cellTableTimeout   = 1500 * time.Millisecond
	commandCompleteTag = "Command completed"
)

// Adapter drives the Pytes/Pylontech ASCII console protocol over a
// serial link: `pwr N` / `bat N` per pack on every poll,
// `stat`/`status` every 5 minutes, `soh N` once a day per pack, and
// `info` once at startup.
type Adapter struct {
	cfg     config.ConsoleConfig
	console *serial.Console

	infoCalled  bool
	info        InfoResult
	lastStatAt  time.Time
	lastSOHAt   map[int]time.Time
	lastStatus  map[string]any
	lastBank    *telemetry.BatteryBankTelemetry
}

// New constructs a console adapter for the given pack count.
func New(cfg config.ConsoleConfig) *Adapter {
	return &Adapter{cfg: cfg, lastSOHAt: map[int]time.Time{}}
}

func (a *Adapter) Connect() error {
	p, err := serial.OpenSerial(a.cfg.Port, a.cfg.BaudRate)
	if err != nil {
		return err
	}
	a.console = serial.NewConsole(p)
	return nil
}

func (a *Adapter) Close() error {
	if a.console == nil {
		return nil
	}
	return a.console.Close()
}

func (a *Adapter) CheckConnectivity() bool {
	return a.console != nil
}

func (a *Adapter) send(cmd string, timeout time.Duration) ([]string, error) {
	if a.console == nil {
		return nil, errkind.Wrap(errkind.TransportUnavailable, nil, "console not connected")
	}
	if err := a.console.WriteLine(cmd); err != nil {
		return nil, errkind.Wrap(errkind.TransportUnavailable, err, "writing command %q", cmd)
	}
	lines, err := a.console.ReadUntil(commandCompleteTag, timeout)
	time.Sleep(interCommandDelay)
	return lines, err
}

// Poll executes one polling cycle across every pack: `info` on the
// first call only, `stat`/`status` if the 5-minute interval elapsed
// (else the previous cycle's cached value is reused), then per pack
// `pwr N` + `bat N`, with `soh N` gated to once every 24h per pack
// (cached otherwise).
func (a *Adapter) Poll() *telemetry.BatteryBankTelemetry {
	if !a.infoCalled {
		if lines, err := a.send("info", summaryTimeout); err == nil {
			a.info = ParseInfo(lines)
		}
		a.infoCalled = true
	}

	now := time.Now()
	if now.Sub(a.lastStatAt) >= statInterval {
		if status, ok := a.fetchStat(); ok {
			a.lastStatus = status
			a.lastStatAt = now
		}
	}

	bank := &telemetry.BatteryBankTelemetry{
		TS:                     now,
		BatteriesCount:         a.cfg.PackCount,
		CellVoltageStatsByUnit: map[int]telemetry.CellStats{},
		CellTempStatsByUnit:    map[int]telemetry.CellStats{},
		Extra:                  map[string]any{},
	}
	for k, v := range a.info {
		bank.Extra[k] = v
	}
	for k, v := range a.lastStatus {
		bank.Extra[k] = v
	}

	var vSum, iSum, tSum, socSum float64
	var vCount, tCount, socCount int

	for power := 1; power <= a.cfg.PackCount; power++ {
		unit, cells, stats := a.pollUnit(power)
		bank.Units = append(bank.Units, unit)
		for _, c := range cells {
			bank.Cells = append(bank.Cells, cellEntry(power, c))
		}
		if len(cells) > 0 {
			bank.CellVoltageStatsByUnit[power] = telemetry.CellStats{
				Min: stats.VoltageMinV, Max: stats.VoltageMaxV, Delta: stats.VoltageDeltaV,
			}
			if stats.HasTemp {
				bank.CellTempStatsByUnit[power] = telemetry.CellStats{
					Min: stats.TempMinC, Max: stats.TempMaxC, Delta: stats.TempDeltaC,
				}
			}
		}
		if unit.VoltageV != 0 {
			vSum += unit.VoltageV
			vCount++
		}
		iSum += unit.CurrentA
		if unit.TempC != 0 {
			tSum += unit.TempC
			tCount++
		}
		if unit.SOCPct != 0 {
			socSum += unit.SOCPct
			socCount++
		}
	}
	if vCount > 0 {
		bank.AvgVoltageV = vSum / float64(vCount)
	}
	bank.SummedCurrentA = iSum
	if tCount > 0 {
		bank.AvgTempC = tSum / float64(tCount)
	}
	if socCount > 0 {
		bank.AvgSOCPct = socSum / float64(socCount)
	}

	a.lastBank = bank
	return bank
}

// cellEntry converts one parsed cell-table row into the telemetry
// record shape, carrying the per-cell temperature reading through when
// the console reported one.
func cellEntry(power int, c CellReading) telemetry.CellEntry {
	entry := telemetry.CellEntry{Power: power, Cell: c.Cell, VoltageV: c.VoltageV}
	if c.TempC != nil {
		entry.TempC = *c.TempC
	}
	return entry
}

func (a *Adapter) pollUnit(power int) (telemetry.BatteryUnit, []CellReading, CellStats) {
	unit := telemetry.BatteryUnit{Power: power}

	lines, err := a.send(cmdPwr(power), summaryTimeout)
	time.Sleep(cellReadDelay)
	if err == nil {
		s := ParsePackSummary(lines)
		if s.VoltageV != nil {
			unit.VoltageV = *s.VoltageV
		}
		if s.CurrentA != nil {
			unit.CurrentA = *s.CurrentA
		}
		if s.TempC != nil {
			unit.TempC = *s.TempC
		}
		if s.SOCPct != nil {
			unit.SOCPct = float64(*s.SOCPct)
		}
	}

	sohPct, cycles, ok := a.fetchSOH(power)
	if ok {
		unit.SOHPct = float64(sohPct)
		unit.CycleCount = cycles
	} else if a.lastBank != nil {
		for _, prev := range a.lastBank.Units {
			if prev.Power == power {
				unit.SOHPct = prev.SOHPct
				unit.CycleCount = prev.CycleCount
				break
			}
		}
	}

	var cells []CellReading
	var stats CellStats
	if cellLines, err := a.send(cmdBat(power), cellTableTimeout); err == nil {
		time.Sleep(cellReadDelay)
		cells, stats = ParseCellTable(cellLines)
	}

	return unit, cells, stats
}

// fetchSOH runs `soh N` only once every 24h per pack; returns ok=false
// when the cached value should be reused instead.
func (a *Adapter) fetchSOH(power int) (sohPct int, cycles int, ok bool) {
	now := time.Now()
	if now.Sub(a.lastSOHAt[power]) < sohInterval {
		return 0, 0, false
	}
	lines, err := a.send(cmdSoh(power), summaryTimeout)
	time.Sleep(interCommandDelay)
	if err != nil {
		return 0, 0, false
	}
	res := ParseSOH(lines)
	a.lastSOHAt[power] = now
	if res.SOHPct == nil {
		return 0, 0, false
	}
	c := 0
	if res.CycleCount != nil {
		c = *res.CycleCount
	}
	return int(*res.SOHPct), c, true
}

func (a *Adapter) fetchStat() (map[string]any, bool) {
	for _, cmd := range []string{"stat", "status"} {
		lines, err := a.send(cmd, summaryTimeout)
		if err != nil || len(lines) == 0 {
			continue
		}
		return map[string]any{"raw_status_lines": len(lines)}, true
	}
	return nil, false
}

func cmdPwr(power int) string { return "pwr " + strconv.Itoa(power) }
func cmdBat(power int) string { return "bat " + strconv.Itoa(power) }
func cmdSoh(power int) string { return "soh " + strconv.Itoa(power) }
