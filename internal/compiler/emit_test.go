package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stencilc/stencilc/internal/coderegion"
	"github.com/stencilc/stencilc/internal/module"
	"github.com/stencilc/stencilc/internal/stencil"
)

func i32Sig(numParams int, hasResult bool) *module.FunctionType {
	sig := &module.FunctionType{}
	for i := 0; i < numParams; i++ {
		sig.Params = append(sig.Params, module.ValueTypeI32)
	}
	if hasResult {
		sig.Results = []module.ValueType{module.ValueTypeI32}
	}
	return sig
}

func TestEmitFunction_AddI32(t *testing.T) {
	region, err := coderegion.New(0)
	require.NoError(t, err)
	defer region.Close()

	body := []byte{
		module.OpcodeLocalGet, 0x00,
		module.OpcodeLocalGet, 0x01,
		module.OpcodeI32Add,
		module.OpcodeEnd,
	}
	code := &module.Code{Body: body}
	sig := i32Sig(2, true)

	fn, err := emitFunction(region, stencil.DefaultLibrary, &module.Module{}, sig, code, "add")
	require.NoError(t, err)
	require.Equal(t, "add", fn.Name)
	require.Equal(t, CalleeFrameSize(2), fn.FrameSize)
	require.True(t, fn.HasResult)
	require.Equal(t, KindInt, fn.ResultKind)
	require.NotEmpty(t, region.Bytes())
}

func TestEmitFunction_AcceptsVoidBlock(t *testing.T) {
	region, err := coderegion.New(0)
	require.NoError(t, err)
	defer region.Close()

	body := []byte{
		module.OpcodeBlock, module.BlockTypeEmpty,
		module.OpcodeEnd,
		module.OpcodeEnd,
	}
	code := &module.Code{Body: body}
	sig := i32Sig(0, false)

	_, err = emitFunction(region, stencil.DefaultLibrary, &module.Module{}, sig, code, "f")
	require.NoError(t, err)
}

func TestEmitFunction_AcceptsSpill(t *testing.T) {
	region, err := coderegion.New(0)
	require.NoError(t, err)
	defer region.Close()

	body := []byte{
		module.OpcodeI32Const, 0x01,
		module.OpcodeI32Const, 0x02,
		module.OpcodeI32Const, 0x03,
		module.OpcodeI32Const, 0x04,
		module.OpcodeDrop,
		module.OpcodeDrop,
		module.OpcodeDrop,
		module.OpcodeDrop,
		module.OpcodeEnd,
	}
	code := &module.Code{Body: body}
	sig := i32Sig(0, false)

	_, err = emitFunction(region, stencil.DefaultLibrary, &module.Module{}, sig, code, "spiller")
	require.NoError(t, err)
}

func TestGlobalDisp_DistinctPerIndex(t *testing.T) {
	require.NotEqual(t, globalDisp(0), globalDisp(1))
	require.Less(t, globalDisp(1), globalDisp(0))
}

func TestLocalDisp_ParamsThenLocals(t *testing.T) {
	layout := frameLayout{NumParams: 2, NumLocals: 2}
	require.Equal(t, layout.ParamOffset(0), localDisp(layout, 0))
	require.Equal(t, layout.ParamOffset(1), localDisp(layout, 1))
	require.Equal(t, layout.LocalOffset(0), localDisp(layout, 2))
	require.Equal(t, layout.LocalOffset(1), localDisp(layout, 3))
}
