package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stencilc/stencilc/internal/module"
)

func TestCompile_ExportsAddFunction(t *testing.T) {
	sig := i32Sig(2, true)
	body := []byte{
		module.OpcodeLocalGet, 0x00,
		module.OpcodeLocalGet, 0x01,
		module.OpcodeI32Add,
		module.OpcodeEnd,
	}
	mod := &module.Module{
		TypeSection:     []*module.FunctionType{sig},
		FunctionSection: []module.Index{0},
		CodeSection:     []*module.Code{{Body: body}},
		ExportSection: map[string]*module.Export{
			"add": {Name: "add", Kind: module.ExportKindFunc, Index: 0},
		},
	}

	cm, err := Compile(mod)
	require.NoError(t, err)
	defer cm.Close()

	require.Len(t, cm.Functions, 1)
	fn, ok := cm.Exports["add"]
	require.True(t, ok)
	require.Same(t, cm.Functions[0], fn)
	require.Equal(t, CalleeFrameSize(2), fn.FrameSize)
}

func TestCompile_PropagatesEmitError(t *testing.T) {
	sig := i32Sig(0, false)
	body := []byte{
		module.OpcodeCall, 0x00, // call is not implemented yet; see emit.go
		module.OpcodeEnd,
	}
	mod := &module.Module{
		TypeSection:     []*module.FunctionType{sig},
		FunctionSection: []module.Index{0},
		CodeSection:     []*module.Code{{Body: body}},
		ExportSection:   map[string]*module.Export{},
	}

	_, err := Compile(mod)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "func0", ce.FuncName)
}
