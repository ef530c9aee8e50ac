package decoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stencilc/stencilc/internal/module"
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb32(v int32) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func withPreamble(sections ...[]byte) []byte {
	out := append([]byte{}, magic[:]...)
	out = append(out, binaryVersion[:]...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func section(id module.SectionID, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(body)))...)
	return append(out, body...)
}

func TestDecodeModule_addFunction(t *testing.T) {
	// (module (func (param i32 i32) (result i32) local.get 0 local.get 1 i32.add))
	typeSec := section(module.SectionIDType, append(uleb(1),
		append([]byte{0x60}, append(uleb(2), module.ValueTypeI32, module.ValueTypeI32, uleb(1)[0], module.ValueTypeI32)...)...))
	funcSec := section(module.SectionIDFunction, append(uleb(1), uleb(0)...))
	body := []byte{
		0x00, // no locals
		module.OpcodeLocalGet, 0x00,
		module.OpcodeLocalGet, 0x01,
		module.OpcodeI32Add,
		module.OpcodeEnd,
	}
	codeBody := append(uleb(uint32(len(body))), body...)
	codeSec := section(module.SectionIDCode, append(uleb(1), codeBody...))

	bin := withPreamble(typeSec, funcSec, codeSec)
	m, err := DecodeModule(bin)
	require.NoError(t, err)
	require.Len(t, m.TypeSection, 1)
	require.Equal(t, []module.ValueType{module.ValueTypeI32, module.ValueTypeI32}, m.TypeSection[0].Params)
	require.Equal(t, []module.ValueType{module.ValueTypeI32}, m.TypeSection[0].Results)
	require.Equal(t, []module.Index{0}, m.FunctionSection)
	require.Len(t, m.CodeSection, 1)
	require.Equal(t, body[1:], m.CodeSection[0].Body) // local decls are stripped
}

func TestDecodeModule_invalidMagic(t *testing.T) {
	_, err := DecodeModule([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00})
	require.Error(t, err)
}

func TestDecodeModule_invalidVersion(t *testing.T) {
	bin := append([]byte{}, magic[:]...)
	bin = append(bin, 0x02, 0x00, 0x00, 0x00)
	_, err := DecodeModule(bin)
	require.Error(t, err)
}

func TestDecodeModule_sectionsOutOfOrder(t *testing.T) {
	codeSec := section(module.SectionIDCode, uleb(0))
	typeSec := section(module.SectionIDType, uleb(0))
	bin := withPreamble(codeSec, typeSec)
	_, err := DecodeModule(bin)
	require.Error(t, err)
}

func TestDecodeModule_functionCodeLengthMismatch(t *testing.T) {
	funcSec := section(module.SectionIDFunction, append(uleb(1), uleb(0)...))
	codeSec := section(module.SectionIDCode, uleb(0))
	bin := withPreamble(funcSec, codeSec)
	_, err := DecodeModule(bin)
	require.Error(t, err)
}

func TestDecodeModule_globalWithConstExprInit(t *testing.T) {
	globalBody := append([]byte{module.ValueTypeI32, 0x01}, append(sleb32(42), module.OpcodeEnd)...)
	// prefix with opcode byte for i32.const
	globalBody = append([]byte{module.ValueTypeI32, 0x01, module.OpcodeI32Const}, append(sleb32(42), module.OpcodeEnd)...)
	globalSec := section(module.SectionIDGlobal, append(uleb(1), globalBody...))
	bin := withPreamble(globalSec)
	m, err := DecodeModule(bin)
	require.NoError(t, err)
	require.Len(t, m.GlobalSection, 1)
	require.True(t, m.GlobalSection[0].Type.Mutable)
	require.Equal(t, module.ConstExprConst, m.GlobalSection[0].Init.Kind)
	require.Equal(t, int32(42), int32(m.GlobalSection[0].Init.Bits))
}

func TestDecodeModule_exportSection(t *testing.T) {
	nameBytes := append(uleb(3), 'a', 'd', 'd')
	exportSec := section(module.SectionIDExport, append(uleb(1), append(nameBytes, module.ExportKindFunc, 0x00)...))
	bin := withPreamble(exportSec)
	m, err := DecodeModule(bin)
	require.NoError(t, err)
	require.Contains(t, m.ExportSection, "add")
	require.Equal(t, module.ExportKindFunc, m.ExportSection["add"].Kind)
}
