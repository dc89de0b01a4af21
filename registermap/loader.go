package registermap

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/devskill-org/solar-device-core/errkind"
)

// Map is a loaded register map: an ordered list of descriptors plus
// id/name/address indexes, all fixed after load, and a cache of
// runtime-discovered kind corrections guarded by its own lock.
type Map struct {
	Registers []*Descriptor

	byID      map[string]*Descriptor
	byName    map[string]*Descriptor
	byAddr    map[addrKey]*Descriptor
	fixupMu   sync.RWMutex
	kindFixup map[addrKey]Kind // runtime-discovered kind corrections
}

type addrKey struct {
	kind Kind
	addr uint16
}

var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// sanitizeKey lower-cases and strips anything but [a-z0-9_], matching the
// register-map name lookup rule.
func sanitizeKey(s string) string {
	return sanitizeRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

// Load reads a JSON register map, trying each candidate path in the
// search order: absolute path as given, project root (cwd), working
// directory, the directory of this source tree, then up to 5 parent
// directories of cwd.
func Load(path string) (*Map, error) {
	candidates := searchPaths(path)
	var lastErr error
	for _, p := range candidates {
		b, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		var descs []*Descriptor
		if err := json.Unmarshal(b, &descs); err != nil {
			return nil, errkind.Wrap(errkind.RegisterError, err, "parsing register map %s", p)
		}
		return build(descs), nil
	}
	slog.Warn("register map not found in any search path", "path", path, "tried", candidates)
	return nil, errkind.Wrap(errkind.RegisterError, lastErr, "register map %s not found", path)
}

func searchPaths(path string) []string {
	if filepath.IsAbs(path) {
		return []string{path}
	}
	var out []string
	if wd, err := os.Getwd(); err == nil {
		out = append(out, filepath.Join(wd, path))
		if _, file, _, ok := runtime.Caller(0); ok {
			out = append(out, filepath.Join(filepath.Dir(file), path))
		}
		dir := wd
		for i := 0; i < 5; i++ {
			dir = filepath.Dir(dir)
			out = append(out, filepath.Join(dir, path))
		}
	}
	out = append(out, path)
	return out
}

// LoadFromBytes builds a Map directly from JSON content, for embedding
// register maps or in tests.
func LoadFromBytes(b []byte) (*Map, error) {
	var descs []*Descriptor
	if err := json.Unmarshal(b, &descs); err != nil {
		return nil, errkind.Wrap(errkind.RegisterError, err, "parsing register map")
	}
	return build(descs), nil
}

func build(descs []*Descriptor) *Map {
	m := &Map{
		Registers: descs,
		byID:      make(map[string]*Descriptor, len(descs)),
		byName:    make(map[string]*Descriptor, len(descs)),
		byAddr:    make(map[addrKey]*Descriptor, len(descs)),
		kindFixup: make(map[addrKey]Kind),
	}
	for _, d := range descs {
		m.byID[d.ID] = d
		m.byName[sanitizeKey(d.ID)] = d
		m.byAddr[addrKey{d.Kind, d.Addr}] = d
	}
	return m
}

// Find looks up a descriptor by exact id first, then by sanitized name.
func (m *Map) Find(idOrName string) (*Descriptor, bool) {
	if d, ok := m.byID[idOrName]; ok {
		return d, true
	}
	d, ok := m.byName[sanitizeKey(idOrName)]
	return d, ok
}

// EffectiveKind returns the kind to use for this descriptor, honoring any
// runtime kind correction discovered by a prior chunked-read fallback.
func (m *Map) EffectiveKind(d *Descriptor) Kind {
	m.fixupMu.RLock()
	k, ok := m.kindFixup[addrKey{d.Kind, d.Addr}]
	m.fixupMu.RUnlock()
	if ok {
		return k
	}
	return d.Kind
}

// SetKindFixup records that a register actually answers on the other
// function code than its map declares.
func (m *Map) SetKindFixup(d *Descriptor, actual Kind) {
	m.fixupMu.Lock()
	m.kindFixup[addrKey{d.Kind, d.Addr}] = actual
	m.fixupMu.Unlock()
}

// Reader performs a single register read: kind, address, word count.
type Reader func(kind Kind, addr uint16, count int) ([]uint16, error)

// ReadAll performs the read-all-registers operation: it reads every
// readable register individually via read, skipping (and logging) any
// register whose read fails, and never aborts the whole scan.
func (m *Map) ReadAll(read Reader) map[string]any {
	out := make(map[string]any, len(m.Registers))
	for _, d := range m.Registers {
		if !d.Readable() {
			continue
		}
		words, err := read(m.EffectiveKind(d), d.Addr, d.Size)
		if err != nil {
			slog.Debug("register read failed, skipping", "id", d.ID, "addr", d.Addr, "err", err)
			continue
		}
		v, err := Decode(d, words)
		if err != nil {
			slog.Debug("register decode failed, skipping", "id", d.ID, "err", err)
			continue
		}
		out[d.ID] = v
	}
	return out
}

// window is a contiguous run of same-kind registers merged for a single
// wire read.
type window struct {
	kind    Kind
	start   uint16
	end     uint16 // exclusive, in words
	members []*Descriptor
}

const (
	maxWindowWords = 20
	maxWindowGap   = 4
)

// chunkWindows groups adjacent same-kind registers into read windows of
// at most maxWindowWords, tolerating gaps of up to maxWindowGap words.
func chunkWindows(descs []*Descriptor) []window {
	byKind := map[Kind][]*Descriptor{}
	for _, d := range descs {
		if d.Readable() {
			byKind[d.Kind] = append(byKind[d.Kind], d)
		}
	}
	var windows []window
	for kind, list := range byKind {
		sort.Slice(list, func(i, j int) bool { return list[i].Addr < list[j].Addr })
		var cur *window
		for _, d := range list {
			end := d.Addr + uint16(d.Size)
			if cur == nil {
				cur = &window{kind: kind, start: d.Addr, end: end, members: []*Descriptor{d}}
				continue
			}
			gap := int(d.Addr) - int(cur.end)
			newLen := int(end) - int(cur.start)
			if gap <= maxWindowGap && gap >= 0 && newLen <= maxWindowWords {
				cur.end = end
				cur.members = append(cur.members, d)
				continue
			}
			windows = append(windows, *cur)
			cur = &window{kind: kind, start: d.Addr, end: end, members: []*Descriptor{d}}
		}
		if cur != nil {
			windows = append(windows, *cur)
		}
	}
	return windows
}

// ReadAllChunked performs the chunked-read optimization: registers are
// grouped into windows (see chunkWindows) and each window is read with a
// single wire call; on a window failure it falls back to per-register
// reads via read and records any discovered kind correction.
func (m *Map) ReadAllChunked(read Reader) map[string]any {
	out := make(map[string]any, len(m.Registers))
	for _, w := range chunkWindows(m.Registers) {
		words, err := read(w.kind, w.start, int(w.end-w.start))
		if err == nil {
			for _, d := range w.members {
				offset := int(d.Addr - w.start)
				sub := words[offset : offset+d.Size]
				if v, err := Decode(d, sub); err == nil {
					out[d.ID] = v
				}
			}
			continue
		}
		slog.Debug("register window read failed, falling back to per-register reads", "kind", w.kind, "start", w.start, "err", err)
		for _, d := range w.members {
			words, err := read(d.Kind, d.Addr, d.Size)
			if err != nil {
				altKind := KindInput
				if d.Kind == KindInput {
					altKind = KindHolding
				}
				if words2, err2 := read(altKind, d.Addr, d.Size); err2 == nil {
					m.SetKindFixup(d, altKind)
					if v, err := Decode(d, words2); err == nil {
						out[d.ID] = v
					}
				} else {
					slog.Debug("register read failed, skipping", "id", d.ID, "err", err)
				}
				continue
			}
			if v, err := Decode(d, words); err == nil {
				out[d.ID] = v
			}
		}
	}
	return out
}
