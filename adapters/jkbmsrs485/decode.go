// Package jkbmsrs485 implements the RS-485 passive sniffer adapter: a
// non-blocking listener that eavesdrops on the JK-BMS bus traffic
// (either a request/response Modbus exchange or the vendor's own data
// frames) and attributes decoded status to the battery id carried by
// the most recently observed data-request Modbus frame.
package jkbmsrs485

import (
	"encoding/binary"

	"github.com/devskill-org/solar-device-core/errkind"
)

// StatusFrame is a decoded vendor status (frame type 0x02) reading.
// Same sign, scale, and sentinel rules as the BLE decoder; the RS-485
// variant's offsets are fixed (no firmware-version-dependent shift).
type StatusFrame struct {
	CellVoltagesV []float64
	MOSTempC      *float64
	Temp1C        *float64
	Temp2C        *float64
	Temp3C        *float64
	Temp4C        *float64
	PowerW        float64
	CurrentA      float64 // positive = charging
	SOCPct        int
	RemainingAh   float64
	TotalAh       float64
	CycleCount    int
	CycleCapacityAh float64
	SOHPct        int
	PackVoltageV  float64
	AvgCellVoltageV float64
}

// Temperatures returns every decoded temperature sensor reading
// (mos_temp, temp1..temp4), in the order the original firmware's status
// frame lays them out, omitting any that decoded to the -2000 sentinel.
func (f StatusFrame) Temperatures() []float64 {
	var out []float64
	for _, t := range []*float64{f.MOSTempC, f.Temp1C, f.Temp2C, f.Temp3C, f.Temp4C} {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out
}

const minStatusFrameLen = 238

func decodeTempDeciC(raw int16) *float64 {
	if int(raw) == -2000 {
		return nil
	}
	v := float64(raw) / 10.0
	return &v
}

// ParseFrameType02 decodes a vendor status data frame. Cell voltages are
// read unconditionally starting at offset 6 (best-effort, even on a
// short frame); the remaining summary fields require the frame to carry
// at least 238 bytes (the pack voltage is a uint32 at offset 234).
func ParseFrameType02(data []byte, cellCount int) (StatusFrame, error) {
	var f StatusFrame
	if cellCount <= 0 {
		cellCount = 24
	}
	for i := 0; i < cellCount; i++ {
		off := 6 + i*2
		if off+2 > len(data) {
			break
		}
		mv := binary.LittleEndian.Uint16(data[off:])
		if mv == 0 {
			continue
		}
		f.CellVoltagesV = append(f.CellVoltagesV, float64(mv)/1000.0)
	}
	if len(f.CellVoltagesV) > 0 {
		var sum float64
		for _, v := range f.CellVoltagesV {
			sum += v
		}
		f.AvgCellVoltageV = sum / float64(len(f.CellVoltagesV))
	}

	if len(data) < minStatusFrameLen {
		return f, errkind.Wrap(errkind.PartialRead, nil, "status frame short (%d bytes), summary fields omitted", len(data))
	}

	f.MOSTempC = decodeTempDeciC(int16(binary.LittleEndian.Uint16(data[144:])))
	f.PowerW = float64(binary.LittleEndian.Uint32(data[154:])) / 1000.0
	f.CurrentA = float64(int32(binary.LittleEndian.Uint32(data[158:]))) / 1000.0
	f.Temp1C = decodeTempDeciC(int16(binary.LittleEndian.Uint16(data[162:])))
	f.Temp2C = decodeTempDeciC(int16(binary.LittleEndian.Uint16(data[164:])))
	f.SOCPct = int(data[173])
	f.RemainingAh = float64(binary.LittleEndian.Uint32(data[174:])) / 1000.0
	f.TotalAh = float64(binary.LittleEndian.Uint32(data[178:])) / 1000.0
	f.CycleCount = int(binary.LittleEndian.Uint32(data[182:]))
	f.CycleCapacityAh = float64(binary.LittleEndian.Uint32(data[186:])) / 100.0
	f.SOHPct = int(data[190])
	f.PackVoltageV = float64(binary.LittleEndian.Uint32(data[234:])) / 100.0
	// temp3/temp4 sit past the guaranteed-present window; decode them
	// only when the frame actually carries that many bytes.
	if len(data) >= 256 {
		f.Temp3C = decodeTempDeciC(int16(binary.LittleEndian.Uint16(data[254:])))
	}
	if len(data) >= 260 {
		f.Temp4C = decodeTempDeciC(int16(binary.LittleEndian.Uint16(data[258:])))
	}

	return f, nil
}
