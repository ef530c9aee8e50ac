package runtimemem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestNewAndGrow(t *testing.T) {
	m, err := New(Config{InitialPages: 1, MaxPages: 4, MaxPagesPresent: true, NumGlobals: 2, IndirectTableSize: 3})
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, uint32(1), m.Pages())
	require.Len(t, m.Bytes(), WasmPageSize)

	require.NoError(t, m.Grow(2))
	require.Equal(t, uint32(3), m.Pages())
	require.Len(t, m.Bytes(), 3*WasmPageSize)

	require.ErrorIs(t, m.Grow(10), ErrGrowFailed)
}

func TestGlobalsRoundTrip(t *testing.T) {
	m, err := New(Config{NumGlobals: 3})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetGlobal(0, 42))
	require.NoError(t, m.SetGlobal(1, 0xffffffffffffffff))
	require.NoError(t, m.SetGlobal(2, 7))

	v, err := m.Global(1)
	require.NoError(t, err)
	require.Equal(t, uint64(0xffffffffffffffff), v)

	_, err = m.Global(3)
	require.Error(t, err)
}

func TestIndirectTableRoundTrip(t *testing.T) {
	m, err := New(Config{IndirectTableSize: 2})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetIndirectEntry(1, 7, 0xdeadbeef))
	require.Error(t, m.SetIndirectEntry(2, 0, 0))
}

func TestSelfPointerSlotMatchesBase(t *testing.T) {
	m, err := New(Config{NumGlobals: 1})
	require.NoError(t, err)
	defer m.Close()

	stored := *(*uint64)(unsafe.Pointer(m.SelfPointerSlotAddr()))
	require.Equal(t, uint64(m.Base()), stored)
}
