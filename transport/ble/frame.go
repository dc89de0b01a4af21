// Package ble implements the JK-BMS vendor BLE frame protocol and a
// thin GATT central-role session wrapper used to poll one battery pack.
package ble

import (
	"encoding/binary"

	"github.com/devskill-org/solar-device-core/errkind"
)

// ServiceUUID and CharUUID are the JK-BMS vendor GATT identifiers.
const (
	ServiceUUID = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharUUID    = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

var (
	headerCommand  = [4]byte{0xAA, 0x55, 0x90, 0xEB}
	headerResponse = [4]byte{0x55, 0xAA, 0xEB, 0x90}
)

const (
	minResponseSize = 300
	maxResponseSize = 320

	cmdDeviceInfo = 0x97
	cmdState      = 0x96
	respDeviceInfo = 0x03
	respState      = 0x02

	tempMissingSentinel = -2000
)

// ChecksumSum computes the vendor's checksum: sum of bytes mod 256.
func ChecksumSum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// BuildCommand frames a command per section 4.6: header, address, byte
// count, payload (zero-padded to 13 bytes), checksum over everything
// preceding it.
func BuildCommand(address byte, value []byte) []byte {
	frame := make([]byte, 0, 4+1+1+13+1)
	frame = append(frame, headerCommand[:]...)
	frame = append(frame, address, byte(len(value)))
	payload := make([]byte, 13)
	copy(payload, value)
	frame = append(frame, payload...)
	frame = append(frame, ChecksumSum(frame))
	return frame
}

// ValidateResponse checks the header and re-sums the prefix preceding
// the final checksum byte.
func ValidateResponse(buf []byte) bool {
	if len(buf) < minResponseSize || len(buf) > maxResponseSize {
		return false
	}
	for i, b := range headerResponse {
		if buf[i] != b {
			return false
		}
	}
	return ChecksumSum(buf[:len(buf)-1]) == buf[len(buf)-1]
}

// ResponseType returns the response's type byte (offset 4), present
// once the header has validated.
func ResponseType(buf []byte) byte {
	return buf[4]
}

// Sample is one decoded status-frame reading.
type Sample struct {
	VoltageV        float64
	CurrentA        float64 // positive = charging
	SOCPct          float64
	RemainingAh     float64
	TotalAh         float64
	NumCycles       int
	Temperatures    []float64 // degrees C, missing entries omitted
	MOSTempC        *float64
	BalanceCurrentA float64
	UptimeSeconds   uint32
	CellVoltagesV   []float64 // invalid cells (outside 2.0-4.5V) reported as zero
}

// DecodeSample decodes a status-frame sample. offset is 32 for the
// newer firmware (>=11) layout with 32-cell capacity, 0 otherwise.
func DecodeSample(buf []byte, offset int, cellCount int) (Sample, error) {
	need := 118 + offset + 4 + 1
	if len(buf) < need {
		return Sample{}, errkind.Wrap(errkind.ProtocolError, nil, "status frame too short: %d bytes", len(buf))
	}
	s := Sample{}
	s.VoltageV = float64(binary.LittleEndian.Uint32(buf[118+offset:])) / 1000.0
	s.CurrentA = float64(int32(binary.LittleEndian.Uint32(buf[126+offset:]))) / 1000.0
	if 141+offset < len(buf) {
		s.SOCPct = float64(buf[141+offset])
	}
	if 150+offset+4 <= len(buf) {
		s.NumCycles = int(binary.LittleEndian.Uint32(buf[150+offset:]))
	}

	cellBase := 6
	for i := 0; i < cellCount && cellBase+2*i+2 <= len(buf); i++ {
		mv := binary.LittleEndian.Uint16(buf[cellBase+2*i:])
		v := float64(mv) / 1000.0
		if v < 2.0 || v > 4.5 {
			s.CellVoltagesV = append(s.CellVoltagesV, 0)
			continue
		}
		s.CellVoltagesV = append(s.CellVoltagesV, v)
	}

	wide := offset != 0
	tempOffsets := []int{130 + offset, 132 + offset}
	if wide {
		tempOffsets = append(tempOffsets, 224+offset, 226+offset)
	}
	for _, o := range tempOffsets {
		if t := decodeTempAt(buf, o); t != nil {
			s.Temperatures = append(s.Temperatures, *t)
		}
	}
	mosBase := 134 + offset
	if wide {
		mosBase = 112 + offset
	}
	s.MOSTempC = decodeTempAt(buf, mosBase)

	return s, nil
}

// decodeTempAt reads a little-endian signed decidegree reading at i and
// maps the -2000 sentinel to "missing" (nil); out-of-range offsets are
// also reported as missing rather than panicking.
func decodeTempAt(buf []byte, i int) *float64 {
	if i < 0 || i+2 > len(buf) {
		return nil
	}
	return DecodeTemp(int16(binary.LittleEndian.Uint16(buf[i:])))
}

// DecodeTemp converts a raw decidegree reading, mapping the -2000
// sentinel to "missing" (nil).
func DecodeTemp(raw int16) *float64 {
	if int(raw) == tempMissingSentinel {
		return nil
	}
	v := float64(raw) / 10.0
	return &v
}

// FirmwareSelectsWideOffset reports whether the parsed major firmware
// version selects the 32-cell-capable (offset 32) decoder layout.
func FirmwareSelectsWideOffset(major int) bool {
	return major >= 11
}
