package jkbmsrs485

import (
	"encoding/binary"
	"testing"

	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/transport/serial"
)

// buildModbusRequest returns a well-formed request frame (battery id,
// function pattern, opcode, CRC) as emitted on the bus before a
// data-request response.
func buildModbusRequest(batteryID byte, opcode byte) []byte {
	body := []byte{batteryID, serial.ModbusRequestPattern[0], serial.ModbusRequestPattern[1], opcode, 0x00, 0x00}
	crc := serial.CRC16(body)
	frame := append([]byte{}, body...)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))
	return frame
}

// buildStatusFrame returns a full-length (240 byte) vendor status data
// frame with a handful of populated fields.
func buildStatusFrame(packVoltageCenti uint32, currentMilli int32, soc byte) []byte {
	buf := make([]byte, 240)
	copy(buf[0:4], serial.DataFrameHeader[:])
	buf[4] = serial.FrameTypeStatus

	binary.LittleEndian.PutUint16(buf[6:], 3300) // cell 1 = 3.300V
	binary.LittleEndian.PutUint16(buf[8:], 3310) // cell 2 = 3.310V

	binary.LittleEndian.PutUint32(buf[154:], 0) // power, unused here
	binary.LittleEndian.PutUint32(buf[158:], uint32(currentMilli))
	binary.LittleEndian.PutUint16(buf[162:], uint16(int16(220))) // temp1 = 22.0C
	binary.LittleEndian.PutUint16(buf[164:], uint16(int16(240))) // temp2 = 24.0C
	buf[173] = soc
	binary.LittleEndian.PutUint32(buf[234:], packVoltageCenti)
	return buf
}

func TestSnifferAttribution_RequestThenData(t *testing.T) {
	// I-9: a request frame carrying battery id 3 followed by a status
	// data frame attributes the decode to pack 3.
	a := New(testSnifferConfig())

	stream := append([]byte{}, buildModbusRequest(3, serial.ModbusDataRequestOpcode)...)
	stream = append(stream, buildStatusFrame(5120, 5000, 55)...)

	a.buf = a.consumeLocked(stream)

	ids := a.BatteryIDs()
	if len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("got battery ids %v, want [3]", ids)
	}

	bank := a.Poll()
	if bank.BatteriesCount != 1 {
		t.Fatalf("got %d packs, want 1", bank.BatteriesCount)
	}
	if bank.Units[0].VoltageV != 51.20 {
		t.Fatalf("got voltage %v, want 51.20", bank.Units[0].VoltageV)
	}
	if bank.Units[0].CurrentA != 5.0 {
		t.Fatalf("got current %v, want 5.0", bank.Units[0].CurrentA)
	}
	if bank.Units[0].SOCPct != 55 {
		t.Fatalf("got soc %v, want 55", bank.Units[0].SOCPct)
	}
	if got := bank.Units[0].TempC; got < 22.9 || got > 23.1 {
		t.Fatalf("got temp %v, want ~23.0 (avg of temp1=22.0, temp2=24.0)", got)
	}
	if got := bank.AvgTempC; got < 22.9 || got > 23.1 {
		t.Fatalf("got bank avg temp %v, want ~23.0", got)
	}
}

func TestSnifferAttribution_IDFifteenRemapsToZero(t *testing.T) {
	// the bus quirk where battery id 15 is actually pack 0.
	a := New(testSnifferConfig())

	stream := append([]byte{}, buildModbusRequest(15, serial.ModbusDataRequestOpcode)...)
	stream = append(stream, buildStatusFrame(5000, 1000, 60)...)

	a.buf = a.consumeLocked(stream)

	ids := a.BatteryIDs()
	if len(ids) != 1 || ids[0] != 0 {
		t.Fatalf("got battery ids %v, want [0] (remapped from 15)", ids)
	}
}

func TestSnifferPoll_NonBlockingWhenNoData(t *testing.T) {
	a := New(testSnifferConfig())
	bank := a.Poll()
	if bank.BatteriesCount != 0 {
		t.Fatalf("got %d packs before any data, want 0", bank.BatteriesCount)
	}
}

func testSnifferConfig() config.SnifferConfig {
	return config.SnifferConfig{Transport: "tcp", Address: "127.0.0.1:0"}
}
