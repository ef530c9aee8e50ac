package stencil

import "fmt"

// RelocKind distinguishes the two immediate-patch widths a stencil can
// declare, per the spec's relocation model.
type RelocKind int

const (
	RelocImm32 RelocKind = iota
	RelocImm64
)

// Ordinal indexes into the 3-slot runtime fixup data array a caller
// supplies when emitting a stencil: 0 is the current int-stack-top offset,
// 1 the current float-stack-top offset, 2 an instruction-specific
// immediate (a constant, a local index turned into a byte offset, and so
// on). Library-build time collapses the wider logical slot set (distinct
// ±8/±16 adjustments against slots 0 and 1) down to these three.
type Ordinal int

const (
	OrdinalIntStackTop Ordinal = iota
	OrdinalFloatStackTop
	OrdinalImmediate
)

// Relocation is a single patch site inside a stencil's byte sequence: at
// Offset, add the value of FixupData[Ordinal] (optionally scaled by Adjust
// to express the collapsed ±8/±16 forms), using Kind's width.
type Relocation struct {
	Kind    RelocKind
	Offset  int
	Ordinal Ordinal
	Adjust  int64
}

// Apply patches code in place using the 3-slot fixup data array.
func (r Relocation) Apply(code []byte, fixupData [3]int64) error {
	val := fixupData[r.Ordinal] + r.Adjust
	switch r.Kind {
	case RelocImm32:
		if r.Offset+4 > len(code) {
			return fmt.Errorf("relocation offset %d out of range (len %d)", r.Offset, len(code))
		}
		putLittleEndian32(code[r.Offset:r.Offset+4], int32(val))
	case RelocImm64:
		if r.Offset+8 > len(code) {
			return fmt.Errorf("relocation offset %d out of range (len %d)", r.Offset, len(code))
		}
		putLittleEndian64(code[r.Offset:r.Offset+8], val)
	default:
		return fmt.Errorf("unknown relocation kind %d", r.Kind)
	}
	return nil
}

func putLittleEndian32(b []byte, v int32) {
	u := uint32(v)
	b[0] = byte(u)
	b[1] = byte(u >> 8)
	b[2] = byte(u >> 16)
	b[3] = byte(u >> 24)
}

func putLittleEndian64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

// Key identifies one stencil variant. Opcode is a module.Opcode value, kept
// here as a plain byte to avoid an import cycle with internal/module (the
// decoder depends on neither this package nor compiler).
type Key struct {
	Opcode       byte
	NumIntRegs   int
	NumFloatRegs int
	SpillOutput  bool
	// floatVariant disambiguates the handful of opcodes WASM shares
	// across value types (local.get/set/tee, global.get/set) where the
	// opcode byte alone doesn't say whether the value is int- or
	// float-class, but the register class the stencil touches does
	// differ. Every opcode with its own dedicated int/float encoding
	// (consts, arithmetic, loads/stores) never needs this set.
	floatVariant bool
}

func (k Key) String() string {
	return fmt.Sprintf("op=%#x ints=%d floats=%d spill=%v float=%v", k.Opcode, k.NumIntRegs, k.NumFloatRegs, k.SpillOutput, k.floatVariant)
}

// FloatVariantKey builds the Key for a float-class access to one of the
// value-type-ambiguous opcodes (local/global get/set/tee), keeping the
// floatVariant discriminator internal to this package while letting the
// emission pass construct the right key for a float operand.
func FloatVariantKey(opcode byte, numFloatRegs int, spillOutput bool) Key {
	return Key{Opcode: opcode, NumFloatRegs: numFloatRegs, SpillOutput: spillOutput, floatVariant: true}
}

// Stencil is an almost-final machine-code fragment plus its relocation
// table. EntryInts/EntryFloats and ExitInts/ExitFloats record the
// in-register occupancy this stencil expects on entry and guarantees on
// exit. The emission pass does not read them; it tracks occupancy with
// its own stack mirror.
type Stencil struct {
	Code         []byte
	Relocations  []Relocation
	EntryInts    int
	EntryFloats  int
	ExitInts     int
	ExitFloats   int
}

// Library is the process-wide, immutable table of stencils, built once at
// init time by the table in table.go. It is never mutated after
// construction: concurrent compilations (were the host ever to run more
// than one) only ever read from it.
type Library struct {
	entries map[Key]*Stencil
}

// NewLibrary creates an empty library; callers populate it via Register
// before any Get.
func NewLibrary() *Library {
	return &Library{entries: map[Key]*Stencil{}}
}

// Register installs a stencil under k, panicking on a duplicate key: the
// library is built exactly once at process start, so a collision is a
// programming error in table.go, not a runtime condition.
func (l *Library) Register(k Key, s *Stencil) {
	if _, exists := l.entries[k]; exists {
		panic(fmt.Sprintf("stencil: duplicate registration for %s", k))
	}
	l.entries[k] = s
}

// Get returns the stencil for k, or ok=false if the library offers no
// variant for that combination. Per the spec's contract, the pre-pass
// analyzer must choose spill decisions such that a stencil exists for
// every step it will emit.
func (l *Library) Get(k Key) (*Stencil, bool) {
	s, ok := l.entries[k]
	return s, ok
}

// Has reports whether opcode is covered by this library in any register
// configuration, distinguishing "unsupported opcode" from "unsupported
// register shape for this opcode." Only this package's tests call it.
func (l *Library) Has(opcode byte) bool {
	for k := range l.entries {
		if k.Opcode == opcode {
			return true
		}
	}
	return false
}
