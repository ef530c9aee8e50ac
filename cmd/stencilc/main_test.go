package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

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

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(body)))...)
	return append(out, body...)
}

// addModuleBytes builds the minimal binary for
// (module (func (export "add") (param i32 i32) (result i32) local.get 0 local.get 1 i32.add)).
func addModuleBytes() []byte {
	typeSec := section(1, append(uleb(1),
		append([]byte{0x60}, append(uleb(2), 0x7f, 0x7f, uleb(1)[0], 0x7f)...)...))
	funcSec := section(3, append(uleb(1), uleb(0)...))
	body := []byte{
		0x00, // no locals
		0x20, 0x00, // local.get 0
		0x20, 0x01, // local.get 1
		0x6a, // i32.add
		0x0b, // end
	}
	codeBody := append(uleb(uint32(len(body))), body...)
	codeSec := section(10, append(uleb(1), codeBody...))

	name := "add"
	exportEntry := append(uleb(uint32(len(name))), []byte(name)...)
	exportEntry = append(exportEntry, 0x00) // kind=func
	exportEntry = append(exportEntry, uleb(0)...)
	exportSec := section(7, append(uleb(1), exportEntry...))

	out := append([]byte{}, wasmMagic...)
	out = append(out, typeSec...)
	out = append(out, funcSec...)
	out = append(out, exportSec...)
	out = append(out, codeSec...)
	return out
}

func TestDoMain_CompilesAndExits0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.wasm")
	require.NoError(t, os.WriteFile(path, addModuleBytes(), 0644))

	origArgs := os.Args
	os.Args = []string{"stencilc", path}
	defer func() { os.Args = origArgs }()

	var stdOut, stdErr bytes.Buffer
	var exitCode int
	doMain(&stdOut, &stdErr, func(code int) { exitCode = code })

	require.Equal(t, 0, exitCode)
	require.Contains(t, stdOut.String(), "1 function")
	require.Empty(t, stdErr.String())
}

// answerModuleBytes builds (module (func (export "answer") (result i32)
// i32.const 42)) — a zero-parameter export doMain's entryPoint/run path
// can actually invoke, unlike addModuleBytes's two-parameter "add".
func answerModuleBytes() []byte {
	typeSec := section(1, append(uleb(1),
		append([]byte{0x60}, uleb(0)[0], uleb(1)[0], 0x7f)...))
	funcSec := section(3, append(uleb(1), uleb(0)...))
	body := []byte{
		0x00,       // no locals
		0x41, 0x2a, // i32.const 42
		0x0b, // end
	}
	codeBody := append(uleb(uint32(len(body))), body...)
	codeSec := section(10, append(uleb(1), codeBody...))

	name := "answer"
	exportEntry := append(uleb(uint32(len(name))), []byte(name)...)
	exportEntry = append(exportEntry, 0x00) // kind=func
	exportEntry = append(exportEntry, uleb(0)...)
	exportSec := section(7, append(uleb(1), exportEntry...))

	out := append([]byte{}, wasmMagic...)
	out = append(out, typeSec...)
	out = append(out, funcSec...)
	out = append(out, exportSec...)
	out = append(out, codeSec...)
	return out
}

func TestDoMain_RunsSoleZeroParamExportAndReportsResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.wasm")
	require.NoError(t, os.WriteFile(path, answerModuleBytes(), 0644))

	origArgs := os.Args
	os.Args = []string{"stencilc", path}
	defer func() { os.Args = origArgs }()

	var stdOut, stdErr bytes.Buffer
	var exitCode int
	doMain(&stdOut, &stdErr, func(code int) { exitCode = code })

	require.Equal(t, 0, exitCode)
	require.Contains(t, stdOut.String(), `running "answer"`)
	require.Contains(t, stdOut.String(), `"answer" returned 42`)
	require.Empty(t, stdErr.String())
}

func TestDoMain_MissingFileExits1(t *testing.T) {
	origArgs := os.Args
	os.Args = []string{"stencilc", "/nonexistent/path.wasm"}
	defer func() { os.Args = origArgs }()

	var stdOut, stdErr bytes.Buffer
	var exitCode int
	doMain(&stdOut, &stdErr, func(code int) { exitCode = code })

	require.Equal(t, 1, exitCode)
	require.NotEmpty(t, stdErr.String())
}

func TestDoMain_NoArgsExits1(t *testing.T) {
	origArgs := os.Args
	os.Args = []string{"stencilc"}
	defer func() { os.Args = origArgs }()

	var stdOut, stdErr bytes.Buffer
	var exitCode int
	doMain(&stdOut, &stdErr, func(code int) { exitCode = code })

	require.Equal(t, 1, exitCode)
}
