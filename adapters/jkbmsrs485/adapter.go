package jkbmsrs485

import (
	"sync"
	"time"

	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/errkind"
	"github.com/devskill-org/solar-device-core/telemetry"
	"github.com/devskill-org/solar-device-core/transport/serial"
)

const readChunkSize = 4096

// batteryState is the latest accumulated reading for one pack, updated
// by the background listener and read by Poll without blocking.
type batteryState struct {
	frame     StatusFrame
	updatedAt time.Time
}

// Adapter passively sniffs RS-485 bus traffic between a JK-BMS master
// and its packs, attributing decoded status frames to the battery id
// carried by the most recently observed data-request Modbus frame. It
// never writes to the bus.
type Adapter struct {
	cfg  config.SnifferConfig
	port *serial.Port

	mu          sync.Mutex
	buf         []byte
	currentID   int
	states      map[int]*batteryState
	stopCh      chan struct{}
	listenerErr error
}

// New constructs a sniffer adapter from its connection config.
func New(cfg config.SnifferConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		states: map[int]*batteryState{},
	}
}

// Connect opens the bus connection (TCP gateway or physical serial
// port) and starts the background listener goroutine.
func (a *Adapter) Connect() error {
	var p *serial.Port
	var err error
	switch a.cfg.Transport {
	case "tcp":
		p, err = serial.DialTCP(a.cfg.Address, 5*time.Second)
	default:
		baud := a.cfg.BaudRate
		if baud == 0 {
			baud = 115200
		}
		p, err = serial.OpenSerial(a.cfg.Port, baud)
	}
	if err != nil {
		return err
	}
	a.port = p
	a.stopCh = make(chan struct{})
	go a.listen()
	return nil
}

func (a *Adapter) Close() error {
	if a.stopCh != nil {
		close(a.stopCh)
	}
	if a.port != nil {
		return a.port.Close()
	}
	return nil
}

func (a *Adapter) CheckConnectivity() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listenerErr == nil && len(a.states) > 0
}

// listen runs for the adapter's lifetime, reading chunks off the bus
// into a rolling buffer and consuming frames as they become
// recognizable. It never blocks Poll: all state updates happen under
// the adapter's mutex and Poll only ever takes a snapshot.
func (a *Adapter) listen() {
	chunk := make([]byte, readChunkSize)
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		n, err := a.port.ReadChunk(chunk)
		if err != nil {
			a.mu.Lock()
			a.listenerErr = errkind.Wrap(errkind.TransportUnavailable, err, "reading sniffer bus")
			a.mu.Unlock()
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}

		a.mu.Lock()
		a.buf = append(a.buf, chunk[:n]...)
		a.buf = a.consumeLocked(a.buf)
		a.mu.Unlock()
	}
}

// consumeLocked scans buf for frame starts and applies every frame it
// can fully parse, returning the unconsumed remainder (a partial frame
// tail is kept for the next read). Caller holds a.mu.
func (a *Adapter) consumeLocked(buf []byte) []byte {
	pos := 0
	for {
		start, kind := serial.FindNextFrameStart(buf, pos)
		if start < 0 {
			// nothing recognizable left; keep a bounded tail in case a
			// header is split across reads
			if len(buf) > 8 {
				return buf[len(buf)-8:]
			}
			return buf
		}

		switch kind {
		case serial.FrameModbus:
			mf := serial.ParseModbusFrame(buf, start)
			if mf == nil {
				// header matched but frame incomplete; wait for more data
				return buf[start:]
			}
			if mf.Command == serial.ModbusDataRequestOpcode {
				a.currentID = mf.BatteryID
			}
			pos = start + mf.Length
		case serial.FrameData:
			end := start + len(serial.DataFrameHeader) + 2
			if end > len(buf) {
				return buf[start:]
			}
			frameType := buf[start+4]
			// full status frame needs at least minStatusFrameLen bytes
			// from start; if the buffer is shorter, wait for more data
			// unless this already looks like the tail of the stream.
			want := start + minStatusFrameLen
			if frameType == serial.FrameTypeStatus && len(buf) < want {
				return buf[start:]
			}
			a.applyDataFrameLocked(buf[start:])
			pos = start + len(serial.DataFrameHeader)
		default:
			return buf[start:]
		}
	}
}

func (a *Adapter) applyDataFrameLocked(frame []byte) {
	if len(frame) < 5 {
		return
	}
	frameType := frame[4]
	if frameType != serial.FrameTypeStatus {
		return
	}
	sf, err := ParseFrameType02(frame, 0)
	if err != nil && len(sf.CellVoltagesV) == 0 {
		return
	}
	a.states[a.currentID] = &batteryState{frame: sf, updatedAt: time.Now()}
}

// Poll returns a snapshot of whatever per-battery state has been
// accumulated so far. It never blocks on the bus.
func (a *Adapter) Poll() *telemetry.BatteryBankTelemetry {
	a.mu.Lock()
	defer a.mu.Unlock()

	bank := &telemetry.BatteryBankTelemetry{
		TS:                     time.Now(),
		CellVoltageStatsByUnit: map[int]telemetry.CellStats{},
		CellTempStatsByUnit:    map[int]telemetry.CellStats{},
		Extra:                  map[string]any{},
	}
	if len(a.states) == 0 {
		return bank
	}

	var vSum, iSum, socSum, tSum float64
	count, tCount := 0, 0
	for id, st := range a.states {
		sf := st.frame
		unit := telemetry.BatteryUnit{
			Power: id, VoltageV: sf.PackVoltageV, CurrentA: sf.CurrentA,
			SOCPct: float64(sf.SOCPct), SOHPct: float64(sf.SOHPct), CycleCount: sf.CycleCount,
		}
		// unit temperature averages the sensor probes, falling back to
		// the MOS reading when no probe decoded
		var temps []float64
		for _, t := range []*float64{sf.Temp1C, sf.Temp2C, sf.Temp3C, sf.Temp4C} {
			if t != nil {
				temps = append(temps, *t)
			}
		}
		if len(temps) == 0 && sf.MOSTempC != nil {
			temps = append(temps, *sf.MOSTempC)
		}
		if len(temps) > 0 {
			var sum float64
			for _, t := range temps {
				sum += t
			}
			unit.TempC = sum / float64(len(temps))
			tSum += unit.TempC
			tCount++
		}
		bank.Units = append(bank.Units, unit)
		if len(sf.CellVoltagesV) > 0 {
			minV, maxV := sf.CellVoltagesV[0], sf.CellVoltagesV[0]
			for cellIdx, v := range sf.CellVoltagesV {
				bank.Cells = append(bank.Cells, telemetry.CellEntry{Power: id, Cell: cellIdx + 1, VoltageV: v})
				if v < minV {
					minV = v
				}
				if v > maxV {
					maxV = v
				}
			}
			bank.CellVoltageStatsByUnit[id] = telemetry.CellStats{Min: minV, Max: maxV, Delta: maxV - minV}
		}
		vSum += sf.PackVoltageV
		iSum += sf.CurrentA
		socSum += float64(sf.SOCPct)
		count++
	}
	bank.BatteriesCount = count
	if count > 0 {
		bank.AvgVoltageV = vSum / float64(count)
		bank.SummedCurrentA = iSum
		bank.AvgSOCPct = socSum / float64(count)
	}
	if tCount > 0 {
		bank.AvgTempC = tSum / float64(tCount)
	}
	return bank
}

// BatteryIDs returns the set of battery ids currently tracked, sorted
// ascending, for tests and diagnostics.
func (a *Adapter) BatteryIDs() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]int, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
