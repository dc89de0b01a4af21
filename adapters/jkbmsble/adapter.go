// Package jkbmsble implements the multi-pack BLE battery adapter for
// the JK-BMS vendor protocol: one persistent GATT connection per pack,
// sequential connect/poll to respect the host BLE stack's serialization
// requirement, and bank-level telemetry aggregation.
package jkbmsble

import (
	"strings"
	"time"

	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/errkind"
	"github.com/devskill-org/solar-device-core/telemetry"
	"github.com/devskill-org/solar-device-core/transport/ble"
)

// PowerCycler power-cycles the host Bluetooth adapter. The real
// implementation (a host command) is injected by the caller; this
// module only decides when to invoke it.
type PowerCycler interface {
	PowerCycleBluetooth() error
}

type pack struct {
	conn          *ble.Pack
	cellCount     int
	wideOffset    bool
	infoQueried   bool
	lastNotFound  bool
}

// Adapter manages a bank of JK-BMS packs over BLE.
type Adapter struct {
	cfg         config.BLEConfig
	addresses   []string
	packs       []*pack
	powerCycler PowerCycler
}

// New constructs an adapter for the given BLE addresses.
func New(cfg config.BLEConfig, powerCycler PowerCycler) *Adapter {
	a := &Adapter{cfg: cfg, addresses: cfg.Addresses, powerCycler: powerCycler}
	for _, addr := range cfg.Addresses {
		a.packs = append(a.packs, &pack{conn: ble.NewPack(addr)})
	}
	return a
}

// Connect performs the sequential connect protocol: packs are connected
// one at a time with >=ConnectSpacing between attempts (the host BLE
// stack rejects concurrent connects with InProgress, which is not
// retried here). If every pack fails with a "not found" style error,
// the bank power-cycles the Bluetooth adapter once and retries the
// whole bank.
func (a *Adapter) Connect() error {
	if err := a.connectAll(); err != nil {
		return err
	}
	if a.anyConnected() {
		return nil
	}
	if a.powerCycler != nil && a.allNotFound() {
		if err := a.powerCycler.PowerCycleBluetooth(); err != nil {
			return errkind.Wrap(errkind.TransportUnavailable, err, "power-cycling bluetooth adapter")
		}
		time.Sleep(3 * time.Second)
		if err := a.connectAll(); err != nil {
			return err
		}
	}
	if !a.anyConnected() {
		return errkind.Wrap(errkind.TransportUnavailable, nil, "no JK-BMS packs reachable")
	}
	return nil
}

func (a *Adapter) connectAll() error {
	for i, p := range a.packs {
		if i > 0 {
			time.Sleep(a.cfg.ConnectSpacing)
		}
		err := p.conn.Connect(a.cfg.ConnectTimeout)
		p.lastNotFound = err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
	}
	return nil
}

func (a *Adapter) anyConnected() bool {
	for _, p := range a.packs {
		if p.conn.Connected() {
			return true
		}
	}
	return false
}

func (a *Adapter) allNotFound() bool {
	for _, p := range a.packs {
		if !p.lastNotFound {
			return false
		}
	}
	return len(a.packs) > 0
}

func (a *Adapter) Close() error {
	for _, p := range a.packs {
		_ = p.conn.Close()
	}
	return nil
}

func (a *Adapter) CheckConnectivity() bool {
	return a.anyConnected()
}

// Poll reads every pack sequentially with PollSpacing between them. A
// pack whose error reads as a lost connection ("not connected",
// "InProgress", "not found") gets one reconnect-and-retry attempt; a pack
// that still fails is skipped and the bank continues with partial data
// rather than failing the whole poll.
func (a *Adapter) Poll() *telemetry.BatteryBankTelemetry {
	bank := &telemetry.BatteryBankTelemetry{
		TS:                     time.Now(),
		CellVoltageStatsByUnit: map[int]telemetry.CellStats{},
		CellTempStatsByUnit:    map[int]telemetry.CellStats{},
		Extra:                  map[string]any{},
	}

	var samples []ble.Sample
	for i, p := range a.packs {
		if i > 0 {
			time.Sleep(a.cfg.PollSpacing)
		}
		s, err := a.pollOne(p)
		if err != nil {
			if reconnectable(err) {
				if rErr := p.conn.Connect(a.cfg.ConnectTimeout); rErr == nil {
					s, err = a.pollOne(p)
				}
			}
		}
		if err != nil {
			continue
		}
		samples = append(samples, s)
		unitIdx := i + 1
		unit := telemetry.BatteryUnit{
			Power: unitIdx, VoltageV: s.VoltageV, CurrentA: s.CurrentA,
			SOCPct: s.SOCPct, CycleCount: s.NumCycles,
		}
		if avgTemp, ok := avgTemperature(s); ok {
			unit.TempC = avgTemp
		}
		bank.Units = append(bank.Units, unit)
		addCells(bank, unitIdx, s.CellVoltagesV, s.Temperatures)
	}

	applyBankAggregates(bank, samples)
	return bank
}

// applyBankAggregates fills in the bank-wide summary fields (average
// voltage, summed current, average SOC, average temperature) from the
// per-pack samples. Summed, not averaged, current matches the physical
// reality of packs wired in parallel.
func applyBankAggregates(bank *telemetry.BatteryBankTelemetry, samples []ble.Sample) {
	bank.BatteriesCount = len(samples)
	if len(samples) == 0 {
		return
	}
	bank.CellsPerBattery = len(samples[0].CellVoltagesV)
	var vSum, iSum, socSum, tSum float64
	var tCount int
	for _, s := range samples {
		vSum += s.VoltageV
		iSum += s.CurrentA
		socSum += s.SOCPct
		if avgTemp, ok := avgTemperature(s); ok {
			tSum += avgTemp
			tCount++
		}
	}
	bank.AvgVoltageV = vSum / float64(len(samples))
	bank.SummedCurrentA = iSum
	bank.AvgSOCPct = socSum / float64(len(samples))
	if tCount > 0 {
		bank.AvgTempC = tSum / float64(tCount)
	}
}

// avgTemperature averages a sample's valid temperature sensor readings,
// falling back to the MOS temperature when no sensor readings decoded.
func avgTemperature(s ble.Sample) (float64, bool) {
	if len(s.Temperatures) > 0 {
		var sum float64
		for _, t := range s.Temperatures {
			sum += t
		}
		return sum / float64(len(s.Temperatures)), true
	}
	if s.MOSTempC != nil {
		return *s.MOSTempC, true
	}
	return 0, false
}

// BankPowerW computes the bank's instantaneous power from its
// aggregated voltage and summed current (positive = charging).
func BankPowerW(bank *telemetry.BatteryBankTelemetry) float64 {
	return bank.AvgVoltageV * bank.SummedCurrentA
}

// addCells records per-cell voltage entries and, when the pack reported
// temperature sensors, broadcasts them across cells the way the vendor
// app does: one sensor reading is shared by every cell, multiple
// readings are distributed round-robin by cell index.
func addCells(bank *telemetry.BatteryBankTelemetry, unitIdx int, voltages []float64, temps []float64) {
	if len(voltages) == 0 {
		return
	}
	minV, maxV := voltages[0], voltages[0]
	var minT, maxT float64
	hasTemp := len(temps) > 0
	if hasTemp {
		minT, maxT = temps[0], temps[0]
	}
	for cellIdx, v := range voltages {
		entry := telemetry.CellEntry{Power: unitIdx, Cell: cellIdx + 1, VoltageV: v}
		if hasTemp {
			t := temps[cellIdx%len(temps)]
			entry.TempC = t
			if t < minT {
				minT = t
			}
			if t > maxT {
				maxT = t
			}
		}
		bank.Cells = append(bank.Cells, entry)
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	bank.CellVoltageStatsByUnit[unitIdx] = telemetry.CellStats{Min: minV, Max: maxV, Delta: maxV - minV}
	if hasTemp {
		bank.CellTempStatsByUnit[unitIdx] = telemetry.CellStats{Min: minT, Max: maxT, Delta: maxT - minT}
	}
}

func reconnectable(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not connected") || strings.Contains(s, "inprogress") || strings.Contains(s, "not found")
}

func (a *Adapter) pollOne(p *pack) (ble.Sample, error) {
	if !p.conn.Connected() {
		return ble.Sample{}, errkind.Wrap(errkind.TransportUnavailable, nil, "pack not connected")
	}
	if !p.infoQueried {
		resp, err := p.conn.Query(0x97, nil, a.cfg.ResponseTimeout)
		if err == nil && len(resp) > 30 {
			major := int(resp[6])
			p.wideOffset = major >= 11
			p.cellCount = 1
			if len(resp) > 114 {
				if c := int(resp[114]); c >= 1 && c <= 24 {
					p.cellCount = c
				}
			}
		}
		p.infoQueried = true
	}

	resp, err := p.conn.Query(0x96, nil, a.cfg.ResponseTimeout)
	if err != nil {
		return ble.Sample{}, err
	}
	offset := 0
	if p.wideOffset {
		offset = 32
	}
	cellCount := p.cellCount
	if cellCount == 0 {
		cellCount = 1
	}
	return ble.DecodeSample(resp, offset, cellCount)
}
