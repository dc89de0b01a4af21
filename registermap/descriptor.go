// Package registermap loads declarative register-map descriptions and
// encodes/decodes Modbus register values against them. A register map's
// descriptors are immutable once loaded; the same Map is shared safely
// across goroutines.
package registermap

// Kind selects the Modbus function family a register belongs to.
type Kind string

const (
	KindHolding Kind = "holding"
	KindInput   Kind = "input"
)

// DataType selects the decoding width and signedness of a numeric
// register.
type DataType string

const (
	TypeU16   DataType = "U16"
	TypeS16   DataType = "S16"
	TypeU32   DataType = "U32"
	TypeS32   DataType = "S32"
	TypeASCII DataType = "ASCII"
)

// Encoder selects a non-default value representation layered on top of
// Type.
type Encoder string

const (
	EncoderNone        Encoder = ""
	EncoderHHMM        Encoder = "hhmm"
	EncoderHHMMDecimal Encoder = "hhmm_decimal"
	EncoderBool        Encoder = "bool"
	EncoderASCII       Encoder = "ascii"
	EncoderMonthDay    Encoder = "month_day"
	EncoderSecond      Encoder = "second"
)

// RW is the read/write access mode of a register.
type RW string

const (
	RO         RW = "RO"
	ReadWrite  RW = "RW"
	WO         RW = "WO"
)

// Descriptor is one entry of a register map. It is immutable after Load.
type Descriptor struct {
	ID         string         `json:"id"`
	StandardID string         `json:"standard_id,omitempty"`
	Addr       uint16         `json:"addr"`
	Size       int            `json:"size"`
	Kind       Kind           `json:"kind"`
	Type       DataType       `json:"type"`
	Scale      *float64       `json:"scale,omitempty"`
	Unit       string         `json:"unit,omitempty"`
	Encoder    Encoder        `json:"encoder,omitempty"`
	Enum       map[int]string `json:"enum,omitempty"`
	BitEnum    map[int]string `json:"bit_enum,omitempty"`
	Bitmask    *uint32        `json:"bitmask,omitempty"`
	HigherBits *int           `json:"higherBits,omitempty"`
	RW         RW             `json:"rw"`
	Min        *float64       `json:"min,omitempty"`
	Max        *float64       `json:"max,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// Writable reports whether values may be written to this register.
func (d *Descriptor) Writable() bool {
	return d.RW == ReadWrite || d.RW == WO
}

// Readable reports whether this register may be read.
func (d *Descriptor) Readable() bool {
	return d.RW == ReadWrite || d.RW == RO
}
