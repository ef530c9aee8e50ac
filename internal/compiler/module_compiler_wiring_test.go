package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stencilc/stencilc/internal/hostcall"
	"github.com/stencilc/stencilc/internal/module"
)

// TestCompile_ResolvesKnownImportAndTrapsUnknown exercises resolveImports
// against one recognized WASI function and one import no stub answers for,
// confirming the former resolves to a real stub and the latter to a trap
// landing pad rather than aborting compilation.
func TestCompile_ResolvesKnownImportAndTrapsUnknown(t *testing.T) {
	voidSig := &module.FunctionType{Params: []module.ValueType{module.ValueTypeI32}}
	mod := &module.Module{
		TypeSection: []*module.FunctionType{voidSig},
		ImportSection: []*module.Import{
			{Module: "wasi_snapshot_preview1", Name: "proc_exit", Kind: module.ImportKindFunc, DescFunc: 0},
			{Module: "env", Name: "mystery", Kind: module.ImportKindFunc, DescFunc: 0},
		},
		ExportSection: map[string]*module.Export{},
	}

	cm, err := Compile(mod)
	require.NoError(t, err)
	defer cm.Close()

	require.Len(t, cm.Imports, 2)

	procExit := cm.Imports[0]
	require.Equal(t, "proc_exit", procExit.Name)
	require.True(t, procExit.Resolved)
	require.Equal(t, 0, procExit.EntryOffset) // first stub in a fresh region

	mystery := cm.Imports[1]
	require.Equal(t, "mystery", mystery.Name)
	require.False(t, mystery.Resolved)
	require.NotZero(t, mystery.EntryOffset)
	require.NotEqual(t, procExit.EntryOffset, mystery.EntryOffset)
}

// TestCompile_RejectsImportWithBadTypeIndex confirms an out-of-range
// DescFunc fails compilation instead of panicking on the slice index.
func TestCompile_RejectsImportWithBadTypeIndex(t *testing.T) {
	mod := &module.Module{
		TypeSection: []*module.FunctionType{},
		ImportSection: []*module.Import{
			{Module: "env", Name: "bogus", Kind: module.ImportKindFunc, DescFunc: 7},
		},
		ExportSection: map[string]*module.Export{},
	}

	_, err := Compile(mod)
	require.Error(t, err)
}

// TestCompile_InitializesGlobalsAndDataSegments builds a module with one
// const-initialized global and one data segment whose offset is that
// global's value, and confirms both land in runtime memory correctly.
func TestCompile_InitializesGlobalsAndDataSegments(t *testing.T) {
	sig := i32Sig(0, false)
	body := []byte{module.OpcodeEnd}
	mod := &module.Module{
		TypeSection:     []*module.FunctionType{sig},
		FunctionSection: []module.Index{0},
		CodeSection:     []*module.Code{{Body: body}},
		GlobalSection: []*module.Global{
			{
				Type: module.GlobalType{ValType: module.ValueTypeI32, Mutable: false},
				Init: module.ConstExpr{Kind: module.ConstExprConst, Type: module.ValueTypeI32, Bits: 4},
			},
		},
		MemorySection: []*module.MemoryType{{Min: 1}},
		DataSection: []*module.DataSegment{
			{
				Offset: module.ConstExpr{Kind: module.ConstExprGlobalGet, GlobalIndex: 0},
				Init:   []byte{0xde, 0xad, 0xbe, 0xef},
			},
		},
		ExportSection: map[string]*module.Export{},
	}

	cm, err := Compile(mod)
	require.NoError(t, err)
	defer cm.Close()

	got, err := cm.Memory.Global(0)
	require.NoError(t, err)
	require.Equal(t, uint64(4), got)

	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, cm.Memory.Bytes()[4:8])
}

// TestCompile_PopulatesIndirectTable builds a module with a table and a
// single element segment, and confirms the dispatch entry it installs
// resolves to the compiled function's actual (post-relocation) address.
func TestCompile_PopulatesIndirectTable(t *testing.T) {
	sig := i32Sig(0, true)
	body := []byte{
		module.OpcodeI32Const, 0x2a,
		module.OpcodeEnd,
	}
	mod := &module.Module{
		TypeSection:     []*module.FunctionType{sig},
		FunctionSection: []module.Index{0},
		CodeSection:     []*module.Code{{Body: body}},
		TableSection:    []*module.TableType{{Min: 1, Max: 1}},
		ElementSection: []*module.ElementSegment{
			{
				Offset: module.ConstExpr{Kind: module.ConstExprConst, Type: module.ValueTypeI32, Bits: 0},
				Init:   []module.Index{0},
			},
		},
		ExportSection: map[string]*module.Export{
			"f": {Name: "f", Kind: module.ExportKindFunc, Index: 0},
		},
	}

	cm, err := Compile(mod)
	require.NoError(t, err)
	defer cm.Close()

	fn := cm.Exports["f"]
	wantAddr := uint64(cm.Region.BaseAddr()) + uint64(fn.EntryOffset)

	typeIdx, addr, err := cm.Memory.IndirectEntry(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), typeIdx)
	require.Equal(t, wantAddr, addr)
}

// hostcallModuleRecognized is a sanity check that the WASI namespace this
// test relies on is the same one module_compiler.go consults.
func TestHostcallImportModuleNames_MatchesWASINamespace(t *testing.T) {
	require.True(t, hostcall.ImportModuleNames["wasi_snapshot_preview1"])
}
