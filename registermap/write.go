package registermap

import "github.com/devskill-org/solar-device-core/errkind"

// Writer performs a single register write: kind, address, word vector.
type Writer func(kind Kind, addr uint16, words []uint16) error

// WriteByIdent resolves idOrName, encodes value, and issues the write.
// Only "holding" registers with rw RW or WO may be written.
func (m *Map) WriteByIdent(idOrName string, value any, write Writer) error {
	d, ok := m.Find(idOrName)
	if !ok {
		return errkind.Wrap(errkind.RegisterError, nil, "unknown register %q", idOrName)
	}
	if d.Kind != KindHolding {
		return errkind.Wrap(errkind.RegisterError, nil, "register %q is not a holding register", idOrName)
	}
	if !d.Writable() {
		return errkind.Wrap(errkind.RegisterError, nil, "register %q is read-only", idOrName)
	}
	words, err := Encode(d, value)
	if err != nil {
		return err
	}
	return write(m.EffectiveKind(d), d.Addr, words)
}

// ReadByIdent resolves idOrName and decodes a single register's current
// value via read.
func (m *Map) ReadByIdent(idOrName string, read Reader) (any, error) {
	d, ok := m.Find(idOrName)
	if !ok {
		return nil, errkind.Wrap(errkind.RegisterError, nil, "unknown register %q", idOrName)
	}
	if !d.Readable() {
		return nil, errkind.Wrap(errkind.RegisterError, nil, "register %q is write-only", idOrName)
	}
	words, err := read(m.EffectiveKind(d), d.Addr, d.Size)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportUnavailable, err, "reading register %q", idOrName)
	}
	return Decode(d, words)
}
