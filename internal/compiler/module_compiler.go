// Package compiler ties the decoder, pre-pass, and emission pass together
// into a single Compile entry point, producing native code for every
// function body a decoded module defines, plus the runtime memory region
// and host-call stubs that code addresses and calls into.
package compiler

import (
	"fmt"

	"github.com/stencilc/stencilc/internal/coderegion"
	"github.com/stencilc/stencilc/internal/hostcall"
	"github.com/stencilc/stencilc/internal/module"
	"github.com/stencilc/stencilc/internal/runtimemem"
	"github.com/stencilc/stencilc/internal/stencil"
)

// ImportedFunction is a module-defined import resolved at compile time to
// either a real host-call stub (hostcall.Lookup found an implementation)
// or a trap landing pad (it didn't). Call/call_indirect emission, once
// built, resolves a call target's low-index function references through
// this slice the same way it resolves CompiledModule.Functions for
// module-defined ones.
type ImportedFunction struct {
	Module, Name string
	EntryOffset  int
	NumParams    int
	HasResult    bool
	Resolved     bool // false if this is a trap stub, not a real implementation
}

// CompiledModule owns the code region, the runtime memory region, and the
// per-function metadata needed to locate and invoke each exported
// function.
type CompiledModule struct {
	Region    *coderegion.Region
	Memory    *runtimemem.Memory
	Imports   []*ImportedFunction
	Functions []*CompiledFunction
	Exports   map[string]*CompiledFunction
}

// Close releases the module's code region and runtime memory. Any function
// pointer or memory address derived from either is invalid after Close
// returns.
func (m *CompiledModule) Close() error {
	regErr := m.Region.Close()
	memErr := m.Memory.Close()
	if regErr != nil {
		return regErr
	}
	return memErr
}

// Compile lowers every function body in mod into native code, using the
// process-wide stencil.DefaultLibrary, and builds the runtime memory
// region backing it: linear memory, globals, the call_indirect dispatch
// table, and native stubs for every imported function (a real WASI
// implementation via internal/hostcall, or a trap landing pad for
// anything unrecognized). It covers the subset of WASM function bodies
// (straight-line code plus void-typed structured control flow) the current
// stencil library and emission pass support
// (see emit.go's doc comment for the exact scope).
func Compile(mod *module.Module) (*CompiledModule, error) {
	region, err := coderegion.New(0)
	if err != nil {
		return nil, fmt.Errorf("compile: code region: %w", err)
	}

	mem, err := newRuntimeMemory(mod)
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("compile: runtime memory: %w", err)
	}

	cm := &CompiledModule{
		Region:  region,
		Memory:  mem,
		Exports: map[string]*CompiledFunction{},
	}

	if err := initGlobals(mod, mem); err != nil {
		cm.Close()
		return nil, fmt.Errorf("compile: globals: %w", err)
	}
	if err := initDataSegments(mod, mem); err != nil {
		cm.Close()
		return nil, fmt.Errorf("compile: data segments: %w", err)
	}

	imports, err := resolveImports(region, mod)
	if err != nil {
		cm.Close()
		return nil, fmt.Errorf("compile: imports: %w", err)
	}
	cm.Imports = imports

	imported := mod.ImportedFuncCount()
	for i, code := range mod.CodeSection {
		funcIdx := module.Index(imported + i)
		sig, ok := mod.FunctionType(funcIdx)
		if !ok {
			cm.Close()
			return nil, fmt.Errorf("compile: function %d: no signature", funcIdx)
		}
		name := mod.FunctionNames[funcIdx]
		if name == "" {
			name = fmt.Sprintf("func%d", funcIdx)
		}

		fn, err := emitFunction(region, stencil.DefaultLibrary, mod, sig, code, name)
		if err != nil {
			cm.Close()
			return nil, &CompileError{FuncName: name, cause: err}
		}
		cm.Functions = append(cm.Functions, fn)
	}

	if err := initIndirectTable(mod, region, cm.Functions, imported, mem); err != nil {
		cm.Close()
		return nil, fmt.Errorf("compile: indirect call table: %w", err)
	}

	for _, exp := range mod.ExportSection {
		if exp.Kind != module.ExportKindFunc {
			continue
		}
		if int(exp.Index) < imported {
			continue // exported import; nothing compiled to point at yet
		}
		localIdx := int(exp.Index) - imported
		if localIdx < 0 || localIdx >= len(cm.Functions) {
			cm.Close()
			return nil, fmt.Errorf("compile: export %q refers to out-of-range function %d", exp.Name, exp.Index)
		}
		cm.Exports[exp.Name] = cm.Functions[localIdx]
	}

	return cm, nil
}

// newRuntimeMemory sizes and reserves the module's linear memory and
// metadata region from its decoded memory/global/table sections, ahead of
// any code being emitted into it.
func newRuntimeMemory(mod *module.Module) (*runtimemem.Memory, error) {
	cfg := runtimemem.Config{
		NumGlobals: mod.NumGlobals(),
	}
	if mt := mod.Memory(); mt != nil {
		cfg.InitialPages = mt.Min
		cfg.MaxPages = mt.Max
		cfg.MaxPagesPresent = mt.MaxPresent
	}
	if tt := mod.Table(); tt != nil {
		cfg.IndirectTableSize = int(tt.Min)
	}
	return runtimemem.New(cfg)
}

// initGlobals writes every global's initial value into the runtime memory
// region, in declaration order. Imported globals have no host-provided
// value in this implementation (there is no embedding API to supply one),
// so they start at zero; a `global.get` initializer is only legal when it
// refers to one of those already-zeroed imports, per decodeGlobalSection's
// restriction, so evaluating module-defined globals in order after the
// (zeroed) imports always sees a defined value to read.
func initGlobals(mod *module.Module, mem *runtimemem.Memory) error {
	imported := mod.ImportedGlobalCount()
	for i, g := range mod.GlobalSection {
		idx := imported + i
		bits, err := evalConstExpr(mem, g.Init)
		if err != nil {
			return fmt.Errorf("global %d: %w", idx, err)
		}
		if err := mem.SetGlobal(idx, bits); err != nil {
			return err
		}
	}
	return nil
}

// evalConstExpr resolves a global/element/data initializer to its 64-bit
// bit pattern, reading an already-initialized global for the
// global.get form.
func evalConstExpr(mem *runtimemem.Memory, expr module.ConstExpr) (uint64, error) {
	switch expr.Kind {
	case module.ConstExprConst:
		return expr.Bits, nil
	case module.ConstExprGlobalGet:
		return mem.Global(int(expr.GlobalIndex))
	default:
		return 0, fmt.Errorf("unsupported const expr kind %d", expr.Kind)
	}
}

// initDataSegments copies every data segment's bytes into linear memory at
// its resolved offset.
func initDataSegments(mod *module.Module, mem *runtimemem.Memory) error {
	for i, seg := range mod.DataSection {
		offBits, err := evalConstExpr(mem, seg.Offset)
		if err != nil {
			return fmt.Errorf("data segment %d: offset: %w", i, err)
		}
		off := int(uint32(offBits))
		dst := mem.Bytes()
		if off < 0 || off+len(seg.Init) > len(dst) {
			return fmt.Errorf("data segment %d: [%d,%d) exceeds committed memory (%d bytes)", i, off, off+len(seg.Init), len(dst))
		}
		copy(dst[off:], seg.Init)
	}
	return nil
}

// resolveImports appends one native stub per function import into region:
// a real implementation for anything internal/hostcall recognizes, a trap
// landing pad otherwise, per spec's trap-on-unknown-import rule. Imported
// tables, memories, and globals have no corresponding native code to
// generate and are handled elsewhere (newRuntimeMemory, initGlobals).
func resolveImports(region *coderegion.Region, mod *module.Module) ([]*ImportedFunction, error) {
	var out []*ImportedFunction
	for _, im := range mod.ImportSection {
		if im.Kind != module.ImportKindFunc {
			continue
		}
		if im.DescFunc >= uint32(len(mod.TypeSection)) {
			return nil, fmt.Errorf("import %s.%s: type index %d out of range", im.Module, im.Name, im.DescFunc)
		}
		sig := mod.TypeSection[im.DescFunc]
		stub, found, err := hostcall.Lookup(region, im.Module, im.Name)
		if err != nil {
			return nil, fmt.Errorf("import %s.%s: %w", im.Module, im.Name, err)
		}
		if found {
			out = append(out, &ImportedFunction{
				Module: im.Module, Name: im.Name,
				EntryOffset: stub.EntryOffset,
				NumParams:   stub.NumParams,
				HasResult:   stub.HasResult,
				Resolved:    true,
			})
			continue
		}
		offset, err := hostcall.EmitTrapStub(region)
		if err != nil {
			return nil, fmt.Errorf("import %s.%s: trap stub: %w", im.Module, im.Name, err)
		}
		out = append(out, &ImportedFunction{
			Module: im.Module, Name: im.Name,
			EntryOffset: offset,
			NumParams:   len(sig.Params),
			HasResult:   len(sig.Results) > 0,
			Resolved:    false,
		})
	}
	return out, nil
}

// initIndirectTable installs every element-segment entry into the runtime
// memory region's call_indirect dispatch table, once every function in the
// module (imported stub or module-defined) has a known entry offset.
// Addresses are computed relative to region's current base address, which
// is final at this point: every Append this compilation will ever make has
// already happened.
func initIndirectTable(mod *module.Module, region *coderegion.Region, fns []*CompiledFunction, importedCount int, mem *runtimemem.Memory) error {
	if len(mod.ElementSection) == 0 {
		return nil
	}
	base := uint64(region.BaseAddr())
	for segIdx, seg := range mod.ElementSection {
		offBits, err := evalConstExpr(mem, seg.Offset)
		if err != nil {
			return fmt.Errorf("element segment %d: offset: %w", segIdx, err)
		}
		start := int(uint32(offBits))
		for i, funcIdx := range seg.Init {
			typeIdx, ok := mod.FunctionTypeIndex(funcIdx)
			if !ok {
				return fmt.Errorf("element segment %d: function %d has no type", segIdx, funcIdx)
			}
			entryOffset, ok := entryOffsetOf(fns, importedCount, funcIdx)
			if !ok {
				return fmt.Errorf("element segment %d: function %d has no compiled entry (likely an unresolvable import)", segIdx, funcIdx)
			}
			if err := mem.SetIndirectEntry(start+i, typeIdx, base+uint64(entryOffset)); err != nil {
				return fmt.Errorf("element segment %d: %w", segIdx, err)
			}
		}
	}
	return nil
}

// entryOffsetOf resolves a function index to its entry offset within
// region, across both the imported and module-defined halves of the
// function index space. It only succeeds for module-defined functions:
// call_indirect through an imported function entry isn't a shape spec's
// scenarios exercise, and the stub's offset is already reachable directly
// via CompiledModule.Imports for the cases that matter (a direct call).
func entryOffsetOf(fns []*CompiledFunction, importedCount int, funcIdx module.Index) (int, bool) {
	if int(funcIdx) < importedCount {
		return 0, false
	}
	localIdx := int(funcIdx) - importedCount
	if localIdx < 0 || localIdx >= len(fns) {
		return 0, false
	}
	return fns[localIdx].EntryOffset, true
}
