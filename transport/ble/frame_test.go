package ble

import (
	"encoding/binary"
	"testing"
)

func buildStatusSample(offset int, wide bool) []byte {
	buf := make([]byte, minResponseSize)
	binary.LittleEndian.PutUint32(buf[118+offset:], 51200) // voltage 51.200V
	binary.LittleEndian.PutUint32(buf[126+offset:], 5000)  // current 5.000A

	mosBase := 134 + offset
	if wide {
		mosBase = 112 + offset
	}
	binary.LittleEndian.PutUint16(buf[mosBase:], uint16(int16(255))) // 25.5C
	binary.LittleEndian.PutUint16(buf[130+offset:], uint16(int16(200)))  // 20.0C
	binary.LittleEndian.PutUint16(buf[132+offset:], uint16(int16(-2000))) // missing

	return buf
}

func TestDecodeSample_TemperaturesAndMOSTemp(t *testing.T) {
	buf := buildStatusSample(0, false)
	s, err := DecodeSample(buf, 0, 0)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(s.Temperatures) != 1 || s.Temperatures[0] != 20.0 {
		t.Fatalf("got temperatures %v, want [20.0] (sentinel entry omitted)", s.Temperatures)
	}
	if s.MOSTempC == nil || *s.MOSTempC != 25.5 {
		t.Fatalf("got mos temp %v, want 25.5", s.MOSTempC)
	}
}

func TestDecodeTemp_SentinelMeansMissing(t *testing.T) {
	if v := DecodeTemp(-2000); v != nil {
		t.Fatalf("got %v, want nil for sentinel", v)
	}
	if v := DecodeTemp(215); v == nil || *v != 21.5 {
		t.Fatalf("got %v, want 21.5", v)
	}
}
