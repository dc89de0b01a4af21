package registermap

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"

	"github.com/devskill-org/solar-device-core/errkind"
)

var truthyStrings = map[string]bool{
	"1": true, "true": true, "on": true, "enable": true, "enabled": true,
}

// clamp restricts v to [lo,hi] when bounds are present.
func clamp[T constraints.Float | constraints.Integer](v T, lo, hi *float64) T {
	if lo != nil && float64(v) < *lo {
		v = T(*lo)
	}
	if hi != nil && float64(v) > *hi {
		v = T(*hi)
	}
	return v
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as number: %w", x, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to number", v)
	}
}

// Encode converts a user-supplied value into the register's word vector.
func Encode(d *Descriptor, value any) ([]uint16, error) {
	if !d.Writable() {
		return nil, errkind.Wrap(errkind.RegisterError, nil, "register %s is read-only", d.ID)
	}

	switch d.Encoder {
	case EncoderBool:
		s := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
		if truthyStrings[s] {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil

	case EncoderASCII:
		return encodeASCII(fmt.Sprintf("%v", value), d.Size), nil

	case EncoderHHMM:
		h, m, err := parseHHMM(fmt.Sprintf("%v", value))
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(h)<<8 | uint16(m)}, nil

	case EncoderHHMMDecimal:
		h, m, err := parseHHMM(fmt.Sprintf("%v", value))
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(h*100 + m)}, nil

	case EncoderMonthDay:
		mo, day, err := parseMonthDay(value)
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(mo)<<8 | uint16(day)}, nil

	case EncoderSecond:
		sec, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		s := clamp(int(sec), floatPtr(0), floatPtr(59))
		return []uint16{uint16(s) << 8}, nil
	}

	if d.Enum != nil {
		key, err := resolveEnumKey(d, value)
		if err != nil {
			return nil, err
		}
		return encodeNumeric(d, float64(key))
	}

	f, err := toFloat(value)
	if err != nil {
		return nil, errkind.Wrap(errkind.RegisterError, err, "register %s: invalid numeric value %v", d.ID, value)
	}
	return encodeNumeric(d, f)
}

func encodeNumeric(d *Descriptor, f float64) ([]uint16, error) {
	f = clamp(f, d.Min, d.Max)
	if d.Scale != nil && *d.Scale != 0 {
		f /= *d.Scale
	}
	n := int64(f)
	switch d.Size {
	case 1:
		return []uint16{uint16(n) & 0xFFFF}, nil
	case 2:
		hi := uint16((uint32(n) >> 16) & 0xFFFF)
		lo := uint16(uint32(n) & 0xFFFF)
		return []uint16{hi, lo}, nil
	default:
		return nil, errkind.Wrap(errkind.RegisterError, nil, "register %s: unsupported size %d", d.ID, d.Size)
	}
}

func resolveEnumKey(d *Descriptor, value any) (int, error) {
	if n, err := toFloat(value); err == nil {
		if _, ok := d.Enum[int(n)]; ok {
			return int(n), nil
		}
	}
	label := fmt.Sprintf("%v", value)
	for k, v := range d.Enum {
		if strings.EqualFold(v, label) {
			return k, nil
		}
	}
	return 0, errkind.Wrap(errkind.RegisterError, nil, "register %s: unknown enum label %q", d.ID, label)
}

// Decode converts a raw word slice read off the wire into a typed value.
func Decode(d *Descriptor, words []uint16) (any, error) {
	if len(words) < d.Size {
		return nil, errkind.Wrap(errkind.PartialRead, nil, "register %s: expected %d words, got %d", d.ID, d.Size, len(words))
	}
	words = words[:d.Size]

	if d.Type == TypeASCII || d.Encoder == EncoderASCII {
		return decodeASCII(words), nil
	}

	raw := wordsToUint(words)

	if d.Bitmask != nil {
		raw &= uint64(*d.Bitmask)
	}
	if d.HigherBits != nil {
		raw >>= uint(*d.HigherBits)
	}

	switch d.Encoder {
	case EncoderHHMM:
		return fmt.Sprintf("%02d:%02d", (raw>>8)&0xFF, raw&0xFF), nil
	case EncoderHHMMDecimal:
		return fmt.Sprintf("%02d:%02d", raw/100, raw%100), nil
	case EncoderMonthDay:
		return fmt.Sprintf("%02d-%02d", (raw>>8)&0xFF, raw&0xFF), nil
	case EncoderSecond:
		return int((raw >> 8) & 0xFF), nil
	case EncoderBool:
		return raw != 0, nil
	}

	value := signExtend(d, raw)
	if d.Scale != nil {
		value *= *d.Scale
	}

	if d.BitEnum != nil {
		return decodeBitEnum(d, uint64(int64(value))), nil
	}
	if d.Enum != nil {
		label, ok := d.Enum[int(value)]
		if !ok {
			return fmt.Sprintf("UNKNOWN(%d)", int(value)), nil
		}
		return label, nil
	}
	if d.Type == TypeU16 || d.Type == TypeS16 || d.Type == TypeU32 || d.Type == TypeS32 {
		if d.Scale == nil {
			return int64(value), nil
		}
	}
	return value, nil
}

func decodeBitEnum(d *Descriptor, raw uint64) []string {
	var out []string
	for bit := 0; bit < 32; bit++ {
		if raw&(1<<uint(bit)) != 0 {
			if label, ok := d.BitEnum[bit]; ok {
				out = append(out, label)
			}
		}
	}
	if len(out) == 0 {
		return []string{"OK"}
	}
	return out
}

func signExtend(d *Descriptor, raw uint64) float64 {
	switch {
	case d.Size == 1 && d.Type == TypeS16:
		v := int64(raw)
		if v >= 0x8000 {
			v -= 0x10000
		}
		return float64(v)
	case d.Size == 2 && d.Type == TypeS32:
		v := int64(raw)
		if v >= 0x80000000 {
			v -= 0x100000000
		}
		return float64(v)
	default:
		return float64(raw)
	}
}

func wordsToUint(words []uint16) uint64 {
	var v uint64
	for _, w := range words {
		v = v<<16 | uint64(w)
	}
	return v
}

func encodeASCII(s string, size int) []uint16 {
	words := make([]uint16, size)
	b := []byte(s)
	for i := 0; i < size; i++ {
		var hi, lo byte
		if 2*i < len(b) {
			hi = b[2*i]
		}
		if 2*i+1 < len(b) {
			lo = b[2*i+1]
		}
		words[i] = uint16(hi)<<8 | uint16(lo)
	}
	return words
}

func decodeASCII(words []uint16) string {
	b := make([]byte, 0, len(words)*2)
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w&0xFF))
	}
	if idx := indexByte(b, 0); idx >= 0 {
		b = b[:idx]
	}
	return strings.TrimSpace(string(b))
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, errkind.Wrap(errkind.RegisterError, nil, "invalid HH:MM value %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, errkind.Wrap(errkind.RegisterError, nil, "invalid HH:MM value %q", s)
	}
	return h, m, nil
}

func parseMonthDay(value any) (int, int, error) {
	s := fmt.Sprintf("%v", value)
	s = strings.ReplaceAll(s, "/", "-")
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return 0, 0, errkind.Wrap(errkind.RegisterError, nil, "invalid MM-DD value %q", s)
	}
	mo, err1 := strconv.Atoi(parts[0])
	day, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || mo < 1 || mo > 12 || day < 1 || day > 31 {
		return 0, 0, errkind.Wrap(errkind.RegisterError, nil, "invalid MM-DD value %q", s)
	}
	return mo, day, nil
}

func floatPtr(f float64) *float64 { return &f }
