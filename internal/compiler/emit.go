package compiler

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/stencilc/stencilc/internal/branchemit"
	"github.com/stencilc/stencilc/internal/bytestream"
	"github.com/stencilc/stencilc/internal/coderegion"
	"github.com/stencilc/stencilc/internal/module"
	"github.com/stencilc/stencilc/internal/stencil"
	"github.com/stencilc/stencilc/internal/stencil/asmx86"
)

// CompiledFunction is one function's emitted entry point, kept around so
// later compiled functions (and the call emitters) can resolve call
// targets by index.
type CompiledFunction struct {
	Name        string
	EntryOffset int
	FrameSize   int
	NumParams   int
	HasResult   bool
	ResultKind  Kind
}

// ctrlFrame is the emission pass's bookkeeping for one open block/loop/if,
// paired one-for-one with the pre-pass's blockRecord: a branchemit
// BlockScope collecting forward patches for br/br_if targeting this
// block's `end`, plus whatever patch this construct itself owes (an if's
// condition-false jump, pending the matching else or the end).
type ctrlFrame struct {
	scope        *branchemit.BlockScope
	isLoop       bool
	entryHeight  int
	condFalsePatch int
	hasCondFalse bool
}

// emitFunction lowers one function body into region, pasting stencils
// from lib and patching their relocations in place. Producers whose
// pre-pass decision is to spill use the library's SpillOutput variant;
// consumers of a spilled operand are reloaded from its evaluation-stack
// slot with a plain load before the ordinary (non-spill) stencil runs —
// the library only ever doubles the producer side, never the consumer
// side, so a reload is the only way to hand a memory-resident value back
// to a stencil that expects it in a register. A consumer whose operands
// are a mix of spilled and resident (one reloaded from memory, a sibling
// already sitting in a register) can't be expressed this way without a
// second Key dimension the stencil library doesn't have; that specific
// shape is rejected with a clear error rather than silently mis-keyed
// (see DESIGN.md).
//
// Structured control flow (block/loop/if/else/end/br/br_if) is supported
// for void-typed constructs, which covers early-exit and loop bodies that
// don't thread a value through the merge point. br_table, select,
// call, and call_indirect are not implemented yet; DESIGN.md records the
// concrete remaining work for each.
func emitFunction(region *coderegion.Region, lib *stencil.Library, mod *module.Module, sig *module.FunctionType, code *module.Code, name string) (*CompiledFunction, error) {
	pre, err := runPrepass(code.Body, len(sig.Params), code.LocalTypes, moduleGlobalKinds(mod))
	if err != nil {
		return nil, fmt.Errorf("emit %s: prepass: %w", name, err)
	}

	layout := frameLayout{
		NumParams:    len(sig.Params),
		NumLocals:    len(code.LocalTypes),
		EvalIntSlots: pre.peakSpilledInts,
		EvalFloatSlots: pre.peakSpilledFloats,
	}

	if err := region.AlignTo16(); err != nil {
		return nil, fmt.Errorf("emit %s: align: %w", name, err)
	}
	entryOffset := len(region.Bytes())

	if err := emitPrologue(region, layout); err != nil {
		return nil, fmt.Errorf("emit %s: prologue: %w", name, err)
	}

	hasResult := len(sig.Results) > 0
	var resultKind Kind
	if hasResult {
		resultKind = valueTypeKind(sig.Results[0])
	}

	ec := &emitCtx{region: region, lib: lib, layout: layout, pre: pre, name: name}
	r := bytestream.New(code.Body)
	returned := false
	var ctrl []*ctrlFrame

	for r.Len() > 0 {
		pos := r.Offset()
		op, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("emit %s: opcode at %d: %w", name, pos, err)
		}

		switch op {
		case module.OpcodeEnd:
			if len(ctrl) == 0 {
				continue // function-level end
			}
			top := ctrl[len(ctrl)-1]
			ctrl = ctrl[:len(ctrl)-1]
			ec.es.truncate(top.entryHeight)
			if top.hasCondFalse {
				if err := branchemit.PatchRel32(region, top.condFalsePatch, len(region.Bytes())); err != nil {
					return nil, fmt.Errorf("emit %s: end at %d: %w", name, pos, err)
				}
			}
			if err := top.scope.Resolve(region, len(region.Bytes())); err != nil {
				return nil, fmt.Errorf("emit %s: end at %d: %w", name, pos, err)
			}

		case module.OpcodeBlock, module.OpcodeLoop, module.OpcodeIf:
			bt, err := r.Byte()
			if err != nil {
				return nil, fmt.Errorf("emit %s: block type at %d: %w", name, pos, err)
			}
			if bt != module.BlockTypeEmpty {
				return nil, fmt.Errorf("emit %s: block/loop/if at %d: typed (non-void) block results not yet implemented", name, pos)
			}
			isLoop := op == module.OpcodeLoop
			if op == module.OpcodeIf {
				if err := ec.emitCondJump(pos, branchemit.CondZ); err != nil {
					return nil, fmt.Errorf("emit %s: if at %d: %w", name, pos, err)
				}
				frame := &ctrlFrame{
					scope:          branchemit.NewBlockScope(region, false),
					entryHeight:    ec.es.height(),
					condFalsePatch: ec.lastJumpPatch,
					hasCondFalse:   true,
				}
				ctrl = append(ctrl, frame)
				continue
			}
			ctrl = append(ctrl, &ctrlFrame{
				scope:       branchemit.NewBlockScope(region, isLoop),
				isLoop:      isLoop,
				entryHeight: ec.es.height(),
			})

		case module.OpcodeElse:
			if len(ctrl) == 0 {
				return nil, fmt.Errorf("emit %s: else without matching if at %d", name, pos)
			}
			top := ctrl[len(ctrl)-1]
			ec.es.truncate(top.entryHeight)
			// Skip the else arm when the then-arm fell through to here.
			skipPatch, err := branchemit.EmitJump(region, branchemit.CondAlways)
			if err != nil {
				return nil, fmt.Errorf("emit %s: else at %d: %w", name, pos, err)
			}
			top.scope.AddForwardPatch(skipPatch)
			if top.hasCondFalse {
				if err := branchemit.PatchRel32(region, top.condFalsePatch, len(region.Bytes())); err != nil {
					return nil, fmt.Errorf("emit %s: else at %d: %w", name, pos, err)
				}
				top.hasCondFalse = false
			}

		case module.OpcodeBr, module.OpcodeBrIf:
			labelIdx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: branch label at %d: %w", name, pos, err)
			}
			target := ctrlAt(ctrl, labelIdx)
			if target == nil {
				return nil, fmt.Errorf("emit %s: branch at %d: label %d out of range", name, pos, labelIdx)
			}
			cond := branchemit.CondAlways
			if op == module.OpcodeBrIf {
				cond = branchemit.CondNZ
			}
			if target.isLoop {
				if err := ec.emitCondJumpTo(pos, cond, target.scope.LoopStart); err != nil {
					return nil, fmt.Errorf("emit %s: branch at %d: %w", name, pos, err)
				}
			} else {
				if err := ec.emitCondJump(pos, cond); err != nil {
					return nil, fmt.Errorf("emit %s: branch at %d: %w", name, pos, err)
				}
				target.scope.AddForwardPatch(ec.lastJumpPatch)
			}

		case module.OpcodeBrTable:
			return nil, fmt.Errorf("emit %s: br_table at %d: not yet implemented (needs a jump table in internal/branchemit)", name, pos)

		case module.OpcodeSelect:
			return nil, fmt.Errorf("emit %s: select at %d: not yet implemented (needs a conditional-move stencil)", name, pos)

		case module.OpcodeCall:
			return nil, fmt.Errorf("emit %s: call at %d: not yet implemented (needs a signature resolver wired through the pre-pass and two-phase patch resolution in module_compiler.go)", name, pos)

		case module.OpcodeCallIndirect:
			return nil, fmt.Errorf("emit %s: call_indirect at %d: not yet implemented (needs the indirect-call table wired in module_compiler.go)", name, pos)

		case module.OpcodeReturn:
			if err := ec.emitEpilogueFromStack(hasResult, resultKind); err != nil {
				return nil, fmt.Errorf("emit %s: return at %d: %w", name, pos, err)
			}
			returned = true

		case module.OpcodeNop:
			// stencil library registers an empty code fragment; nothing to paste.

		case module.OpcodeUnreachable:
			if err := emitRaw(region, lib, stencil.Key{Opcode: op}, zeroFixup); err != nil {
				return nil, fmt.Errorf("emit %s: unreachable at %d: %w", name, pos, err)
			}

		case module.OpcodeDrop:
			if err := ec.emitDrop(pos); err != nil {
				return nil, fmt.Errorf("emit %s: drop at %d: %w", name, pos, err)
			}

		case module.OpcodeLocalGet:
			idx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: local.get index at %d: %w", name, pos, err)
			}
			kind := localKind(layout.NumParams, code.LocalTypes, idx)
			if err := ec.produce(pos, op, kind, true, fixupImm(localDisp(layout, int(idx)))); err != nil {
				return nil, fmt.Errorf("emit %s: local.get at %d: %w", name, pos, err)
			}

		case module.OpcodeLocalSet, module.OpcodeLocalTee:
			idx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: local index at %d: %w", name, pos, err)
			}
			kind := localKind(layout.NumParams, code.LocalTypes, idx)
			isTee := op == module.OpcodeLocalTee
			if err := ec.consumeLocalOrGlobal(pos, op, kind, true, isTee, localDisp(layout, int(idx))); err != nil {
				return nil, fmt.Errorf("emit %s: local.set/tee at %d: %w", name, pos, err)
			}

		case module.OpcodeGlobalGet:
			idx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: global.get index at %d: %w", name, pos, err)
			}
			kind := globalKind(mod, idx)
			if err := ec.produce(pos, op, kind, true, fixupImm(int64(globalDisp(idx)))); err != nil {
				return nil, fmt.Errorf("emit %s: global.get at %d: %w", name, pos, err)
			}

		case module.OpcodeGlobalSet:
			idx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: global.set index at %d: %w", name, pos, err)
			}
			kind := globalKind(mod, idx)
			if err := ec.consumeLocalOrGlobal(pos, op, kind, true, false, int64(globalDisp(idx))); err != nil {
				return nil, fmt.Errorf("emit %s: global.set at %d: %w", name, pos, err)
			}

		case module.OpcodeI32Const:
			v, err := r.VarInt32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: i32.const at %d: %w", name, pos, err)
			}
			if err := ec.produce(pos, op, KindInt, false, fixupImm(int64(v))); err != nil {
				return nil, fmt.Errorf("emit %s: i32.const at %d: %w", name, pos, err)
			}

		case module.OpcodeI64Const:
			v, err := r.VarInt64()
			if err != nil {
				return nil, fmt.Errorf("emit %s: i64.const at %d: %w", name, pos, err)
			}
			if err := ec.produce(pos, op, KindInt, false, fixupImm(v)); err != nil {
				return nil, fmt.Errorf("emit %s: i64.const at %d: %w", name, pos, err)
			}

		case module.OpcodeF32Const:
			v, err := r.Uint32LE()
			if err != nil {
				return nil, fmt.Errorf("emit %s: f32.const at %d: %w", name, pos, err)
			}
			if err := ec.produce(pos, op, KindFloat, false, fixupImm(int64(v))); err != nil {
				return nil, fmt.Errorf("emit %s: f32.const at %d: %w", name, pos, err)
			}

		case module.OpcodeF64Const:
			v, err := r.Uint64LE()
			if err != nil {
				return nil, fmt.Errorf("emit %s: f64.const at %d: %w", name, pos, err)
			}
			if err := ec.produce(pos, op, KindFloat, false, fixupImm(int64(v))); err != nil {
				return nil, fmt.Errorf("emit %s: f64.const at %d: %w", name, pos, err)
			}

		case module.OpcodeI32Load, module.OpcodeI64Load:
			if _, err := r.VarUint32(); err != nil { // align
				return nil, fmt.Errorf("emit %s: memarg align at %d: %w", name, pos, err)
			}
			offset, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: memarg offset at %d: %w", name, pos, err)
			}
			if err := ec.emitIntLoad(pos, op, int64(offset)); err != nil {
				return nil, fmt.Errorf("emit %s: load at %d: %w", name, pos, err)
			}

		case module.OpcodeF32Load, module.OpcodeF64Load:
			if _, err := r.VarUint32(); err != nil {
				return nil, fmt.Errorf("emit %s: memarg align at %d: %w", name, pos, err)
			}
			offset, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: memarg offset at %d: %w", name, pos, err)
			}
			if err := ec.emitFloatLoad(pos, op, int64(offset)); err != nil {
				return nil, fmt.Errorf("emit %s: load at %d: %w", name, pos, err)
			}

		case module.OpcodeI32Store, module.OpcodeI64Store:
			if _, err := r.VarUint32(); err != nil {
				return nil, fmt.Errorf("emit %s: memarg align at %d: %w", name, pos, err)
			}
			offset, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: memarg offset at %d: %w", name, pos, err)
			}
			if err := ec.emitIntStore(pos, op, int64(offset)); err != nil {
				return nil, fmt.Errorf("emit %s: store at %d: %w", name, pos, err)
			}

		case module.OpcodeF32Store, module.OpcodeF64Store:
			if _, err := r.VarUint32(); err != nil {
				return nil, fmt.Errorf("emit %s: memarg align at %d: %w", name, pos, err)
			}
			offset, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("emit %s: memarg offset at %d: %w", name, pos, err)
			}
			if err := ec.emitFloatStore(pos, op, int64(offset)); err != nil {
				return nil, fmt.Errorf("emit %s: store at %d: %w", name, pos, err)
			}

		default:
			if so, ok := simpleOps[op]; ok {
				if err := ec.emitSimpleOp(pos, op, so); err != nil {
					return nil, fmt.Errorf("emit %s: opcode %#x at %d: %w", name, op, pos, err)
				}
				continue
			}
			return nil, fmt.Errorf("emit %s: unsupported opcode %#x at %d", name, op, pos)
		}
	}

	if !returned {
		if err := ec.emitEpilogueFromStack(hasResult, resultKind); err != nil {
			return nil, fmt.Errorf("emit %s: implicit return: %w", name, err)
		}
	}

	return &CompiledFunction{
		Name:        name,
		EntryOffset: entryOffset,
		FrameSize:   int(layout.TotalSize()),
		NumParams:   len(sig.Params),
		HasResult:   hasResult,
		ResultKind:  resultKind,
	}, nil
}

var zeroFixup [3]int64

func fixupImm(v int64) int64 { return v }

// emitCtx carries the state the opcode handlers above share: the code
// region being appended to, the library being pasted from, the frame
// layout (for spill-slot and local/param displacements), the pre-pass's
// spill verdicts, and the emission pass's own mirror of the pre-pass's
// abstract stack.
type emitCtx struct {
	region *coderegion.Region
	lib    *stencil.Library
	layout frameLayout
	pre    *prepassResult
	name   string
	es     emitStack

	// lastJumpPatch is the patch offset of the most recently emitted
	// conditional/unconditional jump, consulted by callers that need it
	// (block/if/br) right after emitCondJump returns.
	lastJumpPatch int
}

// globalKind resolves a global index to its register class.
func globalKind(mod *module.Module, idx module.Index) Kind {
	gt, ok := mod.GlobalTypeAt(idx)
	if !ok || !module.IsFloat(gt.ValType) {
		return KindInt
	}
	return KindFloat
}

// moduleGlobalKinds resolves every global in mod's index space to its
// register class up front, so the pre-pass can model a float global's
// occupancy against the float window instead of always assuming int (the
// emission pass resolves the same globals the same way via globalKind, so
// the two passes never disagree on which window a given global occupies).
func moduleGlobalKinds(mod *module.Module) []Kind {
	n := mod.NumGlobals()
	kinds := make([]Kind, n)
	for i := 0; i < n; i++ {
		kinds[i] = globalKind(mod, module.Index(i))
	}
	return kinds
}

// buildFixup assembles the 3-slot relocation fixup array: slot 2 always
// carries the opcode's own immediate (a constant, a local/global byte
// offset); slots 0/1 carry the spilled-output store's target
// displacement when spill is true, chosen by kind.
func buildFixup(immediate int64, spill bool, kind Kind, spillDisp int64) [3]int64 {
	f := [3]int64{0, 0, immediate}
	if spill {
		switch kind {
		case KindInt:
			f[stencil.OrdinalIntStackTop] = spillDisp
		case KindFloat:
			f[stencil.OrdinalFloatStackTop] = spillDisp
		}
	}
	return f
}

// produce handles a zero-operand value producer (const, local.get,
// global.get): looks up the spill-aware stencil keyed on the current
// window occupancy of kind, pastes it, and pushes the resulting entry.
// An int producer is keyed on NumIntRegs alone and a float producer on
// NumFloatRegs alone — see the registration tables in stencil/table.go,
// which never vary a producer's key by the other kind's occupancy since
// its code never touches that window. floatVariant selects
// stencil.FloatVariantKey for a float producer whose opcode is shared
// with int producers (local.get, global.get); float consts pass false.
func (c *emitCtx) produce(pos int, opcode byte, kind Kind, floatVariant bool, immediate int64) error {
	ints, floats := c.es.occupancy()
	spill := c.pre.spillAt[pos]
	slot := c.pre.spillSlotAt[pos]

	var key stencil.Key
	switch kind {
	case KindInt:
		key = stencil.Key{Opcode: opcode, NumIntRegs: ints, SpillOutput: spill}
	case KindFloat:
		key = stencil.FloatVariantKey(opcode, floats, spill)
		if !floatVariant {
			key = stencil.Key{Opcode: opcode, NumFloatRegs: floats, SpillOutput: spill}
		}
	}

	var spillDisp int64
	if spill {
		if kind == KindInt {
			spillDisp = c.layout.EvalIntSlotOffset(slot)
		} else {
			spillDisp = c.layout.EvalFloatSlotOffset(slot)
		}
	}
	fixup := buildFixup(immediate, spill, kind, spillDisp)
	if err := emitRaw(c.region, c.lib, key, fixup); err != nil {
		return err
	}
	c.es.push(kind, spill, slot)
	return nil
}

// consumeLocalOrGlobal handles local.set/local.tee/global.set: pops (or,
// for tee, peeks) the one operand, reloading it from its spill slot
// first if the pre-pass spilled it, then pastes the fixed (never-spills)
// local/global-access stencil.
func (c *emitCtx) consumeLocalOrGlobal(pos int, opcode byte, kind Kind, floatVariant, isTee bool, disp int64) error {
	var entry emitEntry
	if isTee {
		entry = c.es.entries[len(c.es.entries)-1]
	} else {
		entry = c.es.pop()
	}

	base := 0
	if isTee {
		base = c.occupancyExcludingTop(kind)
	} else {
		ints, floats := c.es.occupancy()
		if kind == KindInt {
			base = ints
		} else {
			base = floats
		}
	}

	if entry.spilled {
		if err := reloadOperands(c.region, c.layout, base, []emitEntry{entry}); err != nil {
			return err
		}
	}

	occ := base + 1
	var key stencil.Key
	switch kind {
	case KindInt:
		key = stencil.Key{Opcode: opcode, NumIntRegs: occ}
	case KindFloat:
		key = stencil.FloatVariantKey(opcode, occ, false)
	}
	if err := emitRaw(c.region, c.lib, key, buildFixup(disp, false, kind, 0)); err != nil {
		return err
	}
	return nil
}

// occupancyExcludingTop returns the resident-window depth of kind among
// every entry except the very top one, used by local.tee (which peeks
// rather than pops) to compute the same "base" a pop-based consumer
// would see.
func (c *emitCtx) occupancyExcludingTop(kind Kind) int {
	if len(c.es.entries) == 0 {
		return 0
	}
	saved := c.es.pop()
	ints, floats := c.es.occupancy()
	c.es.push(saved.kind, saved.spilled, saved.slot)
	if kind == KindInt {
		return ints
	}
	return floats
}

// emitDrop consumes the top operand with no reload: a spilled value needs
// no code at all (nothing was ever loaded into a register to begin with),
// and a resident one uses the zero-code drop stencil purely to validate
// the opcode is covered and to keep the occupancy bookkeeping in one
// place.
func (c *emitCtx) emitDrop(pos int) error {
	entry := c.es.pop()
	if entry.spilled {
		return nil
	}
	ints, floats := c.es.occupancy()
	var key stencil.Key
	switch entry.kind {
	case KindInt:
		key = stencil.Key{Opcode: module.OpcodeDrop, NumIntRegs: ints + 1}
	case KindFloat:
		key = stencil.FloatVariantKey(module.OpcodeDrop, floats+1, false)
	}
	return emitRaw(c.region, c.lib, key, zeroFixup)
}

// emitSimpleOp handles every opcode covered by opinfo.go's simpleOps table:
// int and float binary arithmetic, comparisons, shifts, and the other
// fixed-shape, no-immediate opcodes. It pops so.pop's operands as one
// homogeneity group (reloading them together if the pre-pass spilled all
// of them), builds the Key per table.go's convention — both register
// windows carry real occupancy when either side of the operation touches
// a float, otherwise the float dimension is left at its implicit zero —
// and pushes so.push's result, if any.
func (c *emitCtx) emitSimpleOp(pos int, opcode byte, so simpleOp) error {
	n := len(so.pop)
	popKind := KindInt
	base := c.es.residentBelowZero(KindInt)
	if n > 0 {
		popKind = so.pop[0]
		group := c.es.popN(n)
		allSpilled, ok := homogeneous(group)
		if !ok {
			return errMixedSpill(c.name, pos, opcode)
		}
		base = c.es.residentBelowZero(popKind)
		if allSpilled {
			if err := reloadOperands(c.region, c.layout, base, group); err != nil {
				return err
			}
		}
	}

	spill := c.pre.spillAt[pos]
	slot := c.pre.spillSlotAt[pos]
	ints, floats := c.es.occupancy()

	var key stencil.Key
	if hasFloat(so) {
		if popKind == KindFloat {
			key = stencil.Key{Opcode: opcode, NumIntRegs: ints, NumFloatRegs: base + n, SpillOutput: spill}
		} else {
			key = stencil.Key{Opcode: opcode, NumIntRegs: base + n, NumFloatRegs: floats, SpillOutput: spill}
		}
	} else {
		key = stencil.Key{Opcode: opcode, NumIntRegs: base + n, SpillOutput: spill}
	}

	pushKind := KindInt
	if len(so.push) > 0 {
		pushKind = so.push[0]
	}
	var spillDisp int64
	if spill {
		if pushKind == KindInt {
			spillDisp = c.layout.EvalIntSlotOffset(slot)
		} else {
			spillDisp = c.layout.EvalFloatSlotOffset(slot)
		}
	}
	if err := emitRaw(c.region, c.lib, key, buildFixup(0, spill, pushKind, spillDisp)); err != nil {
		return err
	}
	if len(so.push) > 0 {
		c.es.push(pushKind, spill, slot)
	}
	return nil
}

// emitIntLoad handles i32.load/i64.load: one int address operand
// consumed, one int result produced, both at the same register index.
func (c *emitCtx) emitIntLoad(pos int, opcode byte, memOffset int64) error {
	entry := c.es.pop()
	base := c.es.residentBelowZero(KindInt)
	if entry.spilled {
		if err := reloadOperands(c.region, c.layout, base, []emitEntry{entry}); err != nil {
			return err
		}
	}
	occ := base + 1
	spill := c.pre.spillAt[pos]
	slot := c.pre.spillSlotAt[pos]
	key := stencil.Key{Opcode: opcode, NumIntRegs: occ, SpillOutput: spill}
	var spillDisp int64
	if spill {
		spillDisp = c.layout.EvalIntSlotOffset(slot)
	}
	if err := emitRaw(c.region, c.lib, key, buildFixup(memOffset, spill, KindInt, spillDisp)); err != nil {
		return err
	}
	c.es.push(KindInt, spill, slot)
	return nil
}

// emitFloatLoad handles f32.load/f64.load: an int address operand and a
// float result, so both window dimensions are part of the Key.
func (c *emitCtx) emitFloatLoad(pos int, opcode byte, memOffset int64) error {
	addr := c.es.pop()
	intBase := c.es.residentBelowZero(KindInt)
	if addr.spilled {
		if err := reloadOperands(c.region, c.layout, intBase, []emitEntry{addr}); err != nil {
			return err
		}
	}
	_, floats := c.es.occupancy()
	spill := c.pre.spillAt[pos]
	slot := c.pre.spillSlotAt[pos]
	key := stencil.Key{Opcode: opcode, NumIntRegs: intBase + 1, NumFloatRegs: floats, SpillOutput: spill}
	var spillDisp int64
	if spill {
		spillDisp = c.layout.EvalFloatSlotOffset(slot)
	}
	if err := emitRaw(c.region, c.lib, key, buildFixup(memOffset, spill, KindFloat, spillDisp)); err != nil {
		return err
	}
	c.es.push(KindFloat, spill, slot)
	return nil
}

// emitIntStore handles i32.store/i64.store: two int operands (address,
// value) consumed, nothing produced.
func (c *emitCtx) emitIntStore(pos int, opcode byte, memOffset int64) error {
	group := c.es.popN(2)
	allSpilled, ok := homogeneous(group)
	if !ok {
		return errMixedSpill(c.name, pos, opcode)
	}
	base := c.es.residentBelowZero(KindInt)
	if allSpilled {
		if err := reloadOperands(c.region, c.layout, base, group); err != nil {
			return err
		}
	}
	key := stencil.Key{Opcode: opcode, NumIntRegs: base + 2}
	return emitRaw(c.region, c.lib, key, buildFixup(memOffset, false, KindInt, 0))
}

// emitFloatStore handles f32.store/f64.store: an int address operand and
// a float value operand, popped from their respective kind's region of
// the stack (they don't share a homogeneity group since they're
// different kinds — a store's two operands are never "mixed" in the
// sense errMixedSpill guards against, since nothing keys on them jointly
// besides the one Key this function itself builds).
func (c *emitCtx) emitFloatStore(pos int, opcode byte, memOffset int64) error {
	val := c.es.pop()
	addr := c.es.pop()
	intBase := c.es.residentBelowZero(KindInt)
	floatBase := c.es.residentBelowZero(KindFloat)
	if addr.spilled {
		if err := reloadOperands(c.region, c.layout, intBase, []emitEntry{addr}); err != nil {
			return err
		}
	}
	if val.spilled {
		if err := reloadOperands(c.region, c.layout, floatBase, []emitEntry{val}); err != nil {
			return err
		}
	}
	key := stencil.Key{Opcode: opcode, NumIntRegs: intBase + 1, NumFloatRegs: floatBase + 1}
	return emitRaw(c.region, c.lib, key, buildFixup(memOffset, false, KindInt, 0))
}

// emitCondJump emits a TEST+Jcc sequence against the top-of-int-stack
// condition (popping it), recording the patch offset in c.lastJumpPatch.
// cond must be CondAlways, CondZ, or CondNZ.
func (c *emitCtx) emitCondJump(pos int, cond branchemit.Cond) error {
	if cond == branchemit.CondAlways {
		off, err := branchemit.EmitJump(c.region, branchemit.CondAlways)
		if err != nil {
			return err
		}
		c.lastJumpPatch = off
		return nil
	}
	entry := c.es.pop()
	base := c.es.residentBelowZero(KindInt)
	if entry.spilled {
		if err := reloadOperands(c.region, c.layout, base, []emitEntry{entry}); err != nil {
			return err
		}
	}
	regBits := regBitsByIndex(base)
	if err := branchemit.TestRegNonZero(c.region, regBits); err != nil {
		return err
	}
	off, err := branchemit.EmitJump(c.region, cond)
	if err != nil {
		return err
	}
	c.lastJumpPatch = off
	return nil
}

// emitCondJumpTo is emitCondJump's variant for a backward branch whose
// target (a loop's start) is already known, patching immediately instead
// of deferring to a BlockScope.
func (c *emitCtx) emitCondJumpTo(pos int, cond branchemit.Cond, target int) error {
	if err := c.emitCondJump(pos, cond); err != nil {
		return err
	}
	return branchemit.PatchRel32(c.region, c.lastJumpPatch, target)
}

func regBitsByIndex(i int) byte {
	switch i {
	case 0:
		return branchemit.RegBitsAX
	case 1:
		return branchemit.RegBitsCX
	default:
		return branchemit.RegBitsDX
	}
}

func ctrlAt(ctrl []*ctrlFrame, labelIdx uint32) *ctrlFrame {
	i := len(ctrl) - 1 - int(labelIdx)
	if i < 0 || i >= len(ctrl) {
		return nil
	}
	return ctrl[i]
}

// residentBelowZero reports the current resident-window depth of kind
// across the whole stack (an alias for occupancy restricted to one
// kind), used as the "base" a freshly-produced or freshly-reloaded
// operand group of that kind stacks on top of.
func (s *emitStack) residentBelowZero(kind Kind) int {
	ints, floats := s.occupancy()
	if kind == KindInt {
		return ints
	}
	return floats
}

// emitRaw looks up the stencil for key, copies its template bytes (the
// library's Code slice is shared and immutable; callers must never patch
// it in place), applies every relocation against fixup, then appends the
// patched copy to the code region.
func emitRaw(region *coderegion.Region, lib *stencil.Library, key stencil.Key, fixup [3]int64) error {
	st, ok := lib.Get(key)
	if !ok {
		return fmt.Errorf("no stencil for %s", key)
	}
	if len(st.Code) == 0 {
		return nil
	}
	buf := make([]byte, len(st.Code))
	copy(buf, st.Code)
	for _, reloc := range st.Relocations {
		if err := reloc.Apply(buf, fixup); err != nil {
			return fmt.Errorf("stencil %s: %w", key, err)
		}
	}
	_, _, err := region.Append(buf)
	return err
}

// localDisp returns a local's byte offset within the callee frame,
// relative to FrameBaseReg, for either a parameter or a declared local.
func localDisp(layout frameLayout, idx int) int64 {
	if idx < layout.NumParams {
		return layout.ParamOffset(idx)
	}
	return layout.LocalOffset(idx - layout.NumParams)
}

// globalDisp returns a global's byte displacement relative to MemBaseReg,
// per §4.5's negative-region layout: globals occupy 8-byte slots ending at
// -16 (the memzero self-pointer slot), addressed in reverse declaration
// order, matching runtimemem.Memory.GlobalSlotAddr.
func globalDisp(idx module.Index) int64 {
	return -16 - 8*(int64(idx)+1)
}

// emitPrologue establishes FrameBaseReg from the incoming stack-frame
// pointer (passed in the first int-window register, AX, by this
// implementation's internal calling convention) and zeroes every
// declared local not covered by an incoming parameter.
func emitPrologue(region *coderegion.Region, layout frameLayout) error {
	b, err := asmx86.NewBuilder(64)
	if err != nil {
		return err
	}
	b.RegReg(x86.AMOVQ, asmx86.AX, asmx86.BP)
	for i := 0; i < layout.NumLocals; i++ {
		p := b.Prog()
		p.As = x86.AMOVQ
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = 0
		p.To.Type = obj.TYPE_MEM
		p.To.Reg = asmx86.BP
		p.To.Offset = layout.LocalOffset(i)
		b.Add(p)
	}
	code, err := b.Assemble()
	if err != nil {
		return err
	}
	_, _, err = region.Append(code)
	return err
}

// emitEpilogueFromStack pops the function's declared result (if any) off
// the emission pass's own stack — reloading it first if the pre-pass
// spilled it — and hands off to emitEpilogue.
func (c *emitCtx) emitEpilogueFromStack(hasResult bool, resultKind Kind) error {
	if !hasResult {
		return emitEpilogue(c.region, 0, 0, false, resultKind)
	}
	entry := c.es.entries[len(c.es.entries)-1]
	base := c.occupancyExcludingTop(entry.kind)
	if entry.spilled {
		if err := reloadOperands(c.region, c.layout, base, []emitEntry{entry}); err != nil {
			return err
		}
	}
	switch resultKind {
	case KindInt:
		return emitEpilogue(c.region, base+1, 0, true, resultKind)
	default:
		return emitEpilogue(c.region, 0, base+1, true, resultKind)
	}
}

// emitEpilogue moves the top-of-window result (if any) into the native
// return register of its class and emits RET. For a float result it also
// stores the value to the frame's return slot (offset 0): nativecall.Float
// reads it back from there, since the plain AX-returning Go-to-native call
// convention invoke.go uses can't observe X0 directly.
func emitEpilogue(region *coderegion.Region, numIntRegs, numFloatRegs int, hasResult bool, resultKind Kind) error {
	b, err := asmx86.NewBuilder(32)
	if err != nil {
		return err
	}
	if hasResult {
		switch resultKind {
		case KindInt:
			src := asmx86.IntRegByIndex(numIntRegs - 1)
			if src != asmx86.AX {
				b.RegReg(x86.AMOVQ, src, asmx86.AX)
			}
		case KindFloat:
			src := asmx86.FloatRegByIndex(numFloatRegs - 1)
			if src != asmx86.X0 {
				b.RegReg(x86.AMOVSD, src, asmx86.X0)
			}
			b.RegMem(x86.AMOVSD, asmx86.X0, asmx86.FrameBaseReg, 0)
		}
	}
	b.StandAlone(obj.ARET)
	code, err := b.Assemble()
	if err != nil {
		return err
	}
	_, _, err = region.Append(code)
	return err
}
