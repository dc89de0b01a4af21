// Package serial provides raw byte-stream transports (physical serial
// port or TCP gateway) plus the frame-boundary detection shared by the
// RS-485 passive sniffer and the JK-BMS protocol family.
package serial

// ModbusRequestPattern is the two-byte marker (function 16, "write
// multiple") that starts a vendor Modbus write-request frame on the bus.
var ModbusRequestPattern = [2]byte{0x10, 0x16}

// DataFrameHeader is the vendor data-frame preamble used by both the BLE
// and RS-485 JK-BMS variants.
var DataFrameHeader = [4]byte{0x55, 0xAA, 0xEB, 0x90}

const (
	FrameTypeConfig = 0x01
	FrameTypeStatus = 0x02

	// ModbusDataRequestOpcode is the inner command byte identifying a
	// "data request" Modbus write, used to attribute subsequent data
	// frames to the battery id carried in the request.
	ModbusDataRequestOpcode = 0x20

	maxModbusFrameLength = 512
	minModbusFrameLength = 6
)

// CRC16 computes the Modbus CRC-16 (polynomial 0xA001, seed 0xFFFF) over
// data.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// FindPattern returns the first index at or after start where pattern
// occurs in buf, or -1.
func FindPattern(buf []byte, pattern []byte, start int) int {
	if start < 0 {
		start = 0
	}
	for i := start; i+len(pattern) <= len(buf); i++ {
		if matchAt(buf, pattern, i) {
			return i
		}
	}
	return -1
}

func matchAt(buf, pattern []byte, at int) bool {
	for j, p := range pattern {
		if buf[at+j] != p {
			return false
		}
	}
	return true
}

// ModbusFrame is a parsed vendor Modbus write-request frame carrying a
// battery id.
type ModbusFrame struct {
	BatteryID int
	Command   byte
	Length    int // total frame length including CRC
}

// ParseModbusFrame scans buf starting at offset for a frame matching
// ModbusRequestPattern at buf[offset+1:offset+3], discovering its length
// by probing end positions 6..512 bytes and checking the trailing two
// bytes as a little-endian CRC-16 over the preceding bytes. Returns nil
// if no valid frame is found.
func ParseModbusFrame(buf []byte, offset int) *ModbusFrame {
	if offset < 0 || offset+3 > len(buf) {
		return nil
	}
	if buf[offset+1] != ModbusRequestPattern[0] || buf[offset+2] != ModbusRequestPattern[1] {
		return nil
	}
	maxEnd := offset + maxModbusFrameLength
	if maxEnd > len(buf) {
		maxEnd = len(buf)
	}
	for end := offset + minModbusFrameLength; end <= maxEnd; end++ {
		frame := buf[offset:end]
		if len(frame) < 2 {
			continue
		}
		body := frame[:len(frame)-2]
		wantCRC := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
		if CRC16(body) == wantCRC {
			var cmd byte
			if len(buf) > offset+3 {
				cmd = buf[offset+3]
			}
			return &ModbusFrame{BatteryID: remapBatteryID(int(buf[offset])), Command: cmd, Length: end - offset}
		}
	}
	return nil
}

// remapBatteryID applies the observed firmware quirk where battery id 15
// wraps to 0.
func remapBatteryID(id int) int {
	if id == 15 {
		return 0
	}
	return id
}

// FrameKind distinguishes the two frame families a sniffer can observe.
type FrameKind int

const (
	FrameNone FrameKind = iota
	FrameModbus
	FrameData
)

// FindNextFrameStart scans buf from start for the earlier of a
// DataFrameHeader match or a ModbusRequestPattern match (at offset+1),
// returning its position and kind.
func FindNextFrameStart(buf []byte, start int) (int, FrameKind) {
	dataPos := FindPattern(buf, DataFrameHeader[:], start)
	modbusPos := -1
	for i := start; i+3 <= len(buf); i++ {
		if buf[i+1] == ModbusRequestPattern[0] && buf[i+2] == ModbusRequestPattern[1] {
			modbusPos = i
			break
		}
	}
	switch {
	case dataPos < 0 && modbusPos < 0:
		return -1, FrameNone
	case dataPos < 0:
		return modbusPos, FrameModbus
	case modbusPos < 0:
		return dataPos, FrameData
	case dataPos <= modbusPos:
		return dataPos, FrameData
	default:
		return modbusPos, FrameModbus
	}
}
