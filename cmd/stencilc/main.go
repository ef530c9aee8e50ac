// Command stencilc compiles a WASM binary ahead of time into native
// x86-64 machine code and runs it. Per spec, the CLI takes a single
// positional argument (the module path) and no flags; argument parsing
// and file opening are explicitly the outer collaborator's job, not the
// compiler core's (spec §1).
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"unsafe"

	"github.com/stencilc/stencilc/internal/compiler"
	"github.com/stencilc/stencilc/internal/decoder"
	"github.com/stencilc/stencilc/internal/nativecall"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is factored out from main so tests can supply their own
// writers and capture the exit code instead of terminating the process.
func doMain(stdOut, stdErr io.Writer, exit func(code int)) {
	log.SetFlags(0)
	log.SetOutput(stdErr)

	if len(os.Args) != 2 {
		fmt.Fprintln(stdErr, "usage: stencilc <path-to-wasm-file>")
		exit(1)
		return
	}

	bin, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(stdErr, "stencilc: %v\n", err)
		exit(1)
		return
	}

	mod, err := decoder.DecodeModule(bin)
	if err != nil {
		fmt.Fprintf(stdErr, "stencilc: decode: %v\n", err)
		exit(1)
		return
	}

	cm, err := compiler.Compile(mod)
	if err != nil {
		// A *compiler.CompileError unwraps to the opcode/offset-level
		// cause; %v already renders both in one line.
		fmt.Fprintf(stdErr, "stencilc: compile: %v\n", err)
		exit(1)
		return
	}
	defer cm.Close()

	fmt.Fprintf(stdOut, "compiled %d function(s), %d export(s)\n", len(cm.Functions), len(cm.Exports))

	entry, name, ok := entryPoint(cm)
	if !ok {
		// Nothing runnable (no zero-argument export, e.g. a pure library
		// module) — reporting the compile succeeded is as far as this
		// invocation goes.
		exit(0)
		return
	}

	fmt.Fprintf(stdOut, "running %q\n", name)
	result, err := run(cm, entry)
	if err != nil {
		fmt.Fprintf(stdErr, "stencilc: run %q: %v\n", name, err)
		exit(1)
		return
	}
	// Reaching here means the guest returned normally rather than calling
	// proc_exit, which issues exit_group directly and never returns to
	// this process at all; per spec's trap model a guest trap is a raw
	// SIGILL the Go runtime reports on its own, not an error value seen
	// here.
	if entry.HasResult {
		fmt.Fprintf(stdOut, "%q returned %v\n", name, result)
	}
	exit(0)
}

// entryPoint picks the function to run: the WASI convention name
// "_start" if exported, otherwise the sole export if there is exactly
// one, skipping any export that takes parameters (this CLI has no way to
// supply them).
func entryPoint(cm *compiler.CompiledModule) (*compiler.CompiledFunction, string, bool) {
	if fn, ok := cm.Exports["_start"]; ok && fn.NumParams == 0 {
		return fn, "_start", true
	}
	if len(cm.Exports) == 1 {
		for name, fn := range cm.Exports {
			if fn.NumParams == 0 {
				return fn, name, true
			}
		}
	}
	return nil, "", false
}

// run invokes fn's compiled entry point with a freshly zeroed frame,
// returning its result as a float64 (Go's nativecall.Int/Float split by
// result kind, unified here since the CLI only ever prints the value).
func run(cm *compiler.CompiledModule, fn *compiler.CompiledFunction) (float64, error) {
	frame := make([]byte, fn.FrameSize)
	entry := cm.Region.BaseAddr() + uintptr(fn.EntryOffset)
	memBase := cm.Memory.Base()

	if !fn.HasResult {
		nativecall.Int(entry, uintptr(unsafe.Pointer(&frame[0])), memBase)
		return 0, nil
	}
	if fn.ResultKind == compiler.KindFloat {
		return nativecall.Float(entry, uintptr(unsafe.Pointer(&frame[0])), memBase, frame), nil
	}
	return float64(int64(nativecall.Int(entry, uintptr(unsafe.Pointer(&frame[0])), memBase))), nil
}
