package registermap

import (
	"reflect"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestEncodeDecode_ScaledU16(t *testing.T) {
	// S1: {addr: 587, size: 1, type: U16, scale: 0.01, unit: V}
	d := &Descriptor{ID: "grid_voltage", Addr: 587, Size: 1, Type: TypeU16, Scale: f(0.01), RW: ReadWrite}

	words, err := Encode(d, 52.48)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !reflect.DeepEqual(words, []uint16{5248}) {
		t.Fatalf("encode got %v, want [5248]", words)
	}

	v, err := Decode(d, []uint16{5248})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := v.(float64); got < 52.47 || got > 52.49 {
		t.Fatalf("decode got %v, want ~52.48", got)
	}
}

func TestDecode_SignedS32(t *testing.T) {
	// S2: {addr: 0x0002, size: 2, type: S32}, words [0xFFFF, 0xFC18] -> -1000
	d := &Descriptor{ID: "grid_power", Addr: 2, Size: 2, Type: TypeS32, RW: RO}
	v, err := Decode(d, []uint16{0xFFFF, 0xFC18})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(int64) != -1000 {
		t.Fatalf("decode got %v, want -1000", v)
	}
}

func TestEncode_HHMMDichotomy(t *testing.T) {
	// S3
	hhmm := &Descriptor{ID: "a", Addr: 1, Size: 1, Type: TypeU16, Encoder: EncoderHHMM, RW: ReadWrite}
	hhmmDec := &Descriptor{ID: "b", Addr: 2, Size: 1, Type: TypeU16, Encoder: EncoderHHMMDecimal, RW: ReadWrite}

	words, err := Encode(hhmm, "23:59")
	if err != nil {
		t.Fatalf("encode hhmm: %v", err)
	}
	if words[0] != 0x173B {
		t.Fatalf("hhmm got 0x%04X, want 0x173B", words[0])
	}

	words2, err := Encode(hhmmDec, "23:59")
	if err != nil {
		t.Fatalf("encode hhmm_decimal: %v", err)
	}
	if words2[0] != 2359 {
		t.Fatalf("hhmm_decimal got %d, want 2359", words2[0])
	}
}

func TestDecode_EnumUnknown(t *testing.T) {
	// S4
	d := &Descriptor{ID: "mode", Addr: 3, Size: 1, Type: TypeU16, RW: RO,
		Enum: map[int]string{0: "Standby", 1: "Normal"}}
	v, err := Decode(d, []uint16{7})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(string) != "UNKNOWN(7)" {
		t.Fatalf("got %v, want UNKNOWN(7)", v)
	}
}

func TestCodecRoundTrip_Numeric(t *testing.T) {
	d := &Descriptor{ID: "soc", Addr: 10, Size: 1, Type: TypeU16, RW: ReadWrite,
		Min: f(0), Max: f(100)}
	for v := 0.0; v <= 100; v += 7 {
		words, err := Encode(d, v)
		if err != nil {
			t.Fatalf("encode %v: %v", v, err)
		}
		got, err := Decode(d, words)
		if err != nil {
			t.Fatalf("decode %v: %v", v, err)
		}
		if got.(int64) != int64(v) {
			t.Fatalf("round trip %v -> %v", v, got)
		}
	}
}

func TestCodecRoundTrip_Enum(t *testing.T) {
	d := &Descriptor{ID: "mode", Addr: 11, Size: 1, Type: TypeU16, RW: ReadWrite,
		Enum: map[int]string{0: "Standby", 1: "Normal", 2: "Fault"}}
	for key, label := range d.Enum {
		words, err := Encode(d, label)
		if err != nil {
			t.Fatalf("encode %v: %v", label, err)
		}
		got, err := Decode(d, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.(string) != label {
			t.Fatalf("round trip label %v -> %v", label, got)
		}

		words2, err := Encode(d, key)
		if err != nil {
			t.Fatalf("encode key %v: %v", key, err)
		}
		got2, _ := Decode(d, words2)
		if got2.(string) != label {
			t.Fatalf("round trip key %v -> %v, want %v", key, got2, label)
		}
	}
}

func TestBitEnum(t *testing.T) {
	d := &Descriptor{ID: "flags", Addr: 12, Size: 1, Type: TypeU16, RW: RO,
		BitEnum: map[int]string{0: "OverVoltage", 2: "OverTemp"}}
	v, err := Decode(d, []uint16{0})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(v, []string{"OK"}) {
		t.Fatalf("got %v, want [OK]", v)
	}
	v2, _ := Decode(d, []uint16{0b101})
	if !reflect.DeepEqual(v2, []string{"OverVoltage", "OverTemp"}) {
		t.Fatalf("got %v", v2)
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	d := &Descriptor{ID: "serial", Addr: 13, Size: 4, Type: TypeASCII, Encoder: EncoderASCII, RW: ReadWrite}
	words, err := Encode(d, "SN1234")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(d, words)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.(string) != "SN1234" {
		t.Fatalf("got %q", got)
	}
}
