package stencil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stencilc/stencilc/internal/module"
)

func TestRelocation_ApplyImm32(t *testing.T) {
	code := []byte{0x00, 0x00, 0x00, 0x00}
	r := Relocation{Kind: RelocImm32, Offset: 0, Ordinal: OrdinalImmediate}
	require.NoError(t, r.Apply(code, [3]int64{0, 0, 42}))
	require.Equal(t, []byte{42, 0, 0, 0}, code)
}

func TestRelocation_ApplyImm32_Adjust(t *testing.T) {
	code := []byte{0x00, 0x00, 0x00, 0x00}
	r := Relocation{Kind: RelocImm32, Offset: 0, Ordinal: OrdinalIntStackTop, Adjust: 8}
	require.NoError(t, r.Apply(code, [3]int64{100, 0, 0}))
	require.Equal(t, int32(108), int32(code[0])|int32(code[1])<<8|int32(code[2])<<16|int32(code[3])<<24)
}

func TestRelocation_ApplyOutOfRange(t *testing.T) {
	code := []byte{0x00}
	r := Relocation{Kind: RelocImm32, Offset: 0, Ordinal: OrdinalImmediate}
	require.Error(t, r.Apply(code, [3]int64{}))
}

func TestLibrary_RegisterAndGet(t *testing.T) {
	lib := NewLibrary()
	s := &Stencil{Code: []byte{0x90}}
	k := Key{Opcode: module.OpcodeNop}
	lib.Register(k, s)

	got, ok := lib.Get(k)
	require.True(t, ok)
	require.Same(t, s, got)

	_, ok = lib.Get(Key{Opcode: module.OpcodeUnreachable})
	require.False(t, ok)
}

func TestLibrary_RegisterDuplicatePanics(t *testing.T) {
	lib := NewLibrary()
	k := Key{Opcode: module.OpcodeNop}
	lib.Register(k, &Stencil{})
	require.Panics(t, func() { lib.Register(k, &Stencil{}) })
}

func TestDefaultLibrary_CoversArithmetic(t *testing.T) {
	for _, opcode := range []byte{
		module.OpcodeI32Add, module.OpcodeI64Add,
		module.OpcodeI32Sub, module.OpcodeI32Mul,
		module.OpcodeI32Eq, module.OpcodeI32LtS,
	} {
		require.True(t, DefaultLibrary.Has(opcode), "opcode %#x should be covered", opcode)
	}
}

func TestDefaultLibrary_BinOpRegisterTransition(t *testing.T) {
	s, ok := DefaultLibrary.Get(Key{Opcode: module.OpcodeI32Add, NumIntRegs: 2})
	require.True(t, ok)
	require.Equal(t, 2, s.EntryInts)
	require.Equal(t, 1, s.ExitInts)
	require.NotEmpty(t, s.Code)
}

func TestDefaultLibrary_ConstHasImmediateRelocation(t *testing.T) {
	s, ok := DefaultLibrary.Get(Key{Opcode: module.OpcodeI32Const, NumIntRegs: 0})
	require.True(t, ok)
	require.Len(t, s.Relocations, 1)
	require.Equal(t, OrdinalImmediate, s.Relocations[0].Ordinal)
}
