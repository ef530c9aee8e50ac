package compiler

import (
	"fmt"

	"github.com/stencilc/stencilc/internal/bytestream"
	"github.com/stencilc/stencilc/internal/module"
	"github.com/stencilc/stencilc/internal/stencil"
)

// blockRecord is the pre-pass's bookkeeping for one open block/loop/if.
type blockRecord struct {
	entryHeight int
	resultKind  Kind
	hasResult   bool
	isLoop      bool
	// numBranchRefs tallies how many br/br_if/br_table instructions in the
	// function target this block; the totals are recorded in
	// prepassResult.branchRefsByPos, which the emission pass does not read.
	numBranchRefs int
}

// prepassResult is everything the emission pass needs from the pre-pass:
// the final spill decision per producer, the peak register occupancy, and
// the peak count of live spilled values (peakSpilledInts/Floats), which is
// what sizes the callee frame's evaluation-stack region.
type prepassResult struct {
	spillAt           map[int]bool
	spillSlotAt       map[int]int
	peakInts          int
	peakFloats        int
	peakSpilledInts   int
	peakSpilledFloats int
	branchRefsByPos   map[int]int // byte offset of block's `end` -> num branch refs targeting it (active blocks only)
}

// runPrepass performs the forward walk described in §4.2: it never emits
// code, it only decides which producers must spill and records the
// high-water mark of register occupancy.
func runPrepass(body []byte, numParams int, localTypes []module.ValueType, globalKinds []Kind) (*prepassResult, error) {
	stack := newAbstractStack(stencil.MaxWindowRegs, stencil.MaxWindowRegs)
	var blocks []*blockRecord
	branchRefsByPos := map[int]int{}
	r := bytestream.New(body)

	for r.Len() > 0 {
		pos := r.Offset()
		op, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("prepass: opcode at %d: %w", pos, err)
		}

		switch op {
		case module.OpcodeBlock, module.OpcodeLoop, module.OpcodeIf:
			if op == module.OpcodeIf {
				stack.pop() // condition
			}
			bt, err := r.Byte()
			if err != nil {
				return nil, fmt.Errorf("prepass: block type at %d: %w", pos, err)
			}
			rec := &blockRecord{entryHeight: stack.height(), isLoop: op == module.OpcodeLoop}
			if bt != module.BlockTypeEmpty {
				rec.hasResult = true
				rec.resultKind = valueTypeKind(bt)
			}
			blocks = append(blocks, rec)

		case module.OpcodeElse:
			if len(blocks) == 0 {
				return nil, fmt.Errorf("prepass: else without matching if at %d", pos)
			}
			top := blocks[len(blocks)-1]
			resetHeight(stack, top.entryHeight)

		case module.OpcodeEnd:
			if len(blocks) == 0 {
				// function-level end.
				continue
			}
			top := blocks[len(blocks)-1]
			blocks = blocks[:len(blocks)-1]
			resetHeight(stack, top.entryHeight)
			if top.hasResult {
				stack.push(top.resultKind, pos)
			}
			if top.numBranchRefs > 0 {
				branchRefsByPos[pos] += top.numBranchRefs
			}

		case module.OpcodeBr, module.OpcodeBrIf:
			if op == module.OpcodeBrIf {
				stack.pop() // condition
			}
			labelIdx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("prepass: branch label at %d: %w", pos, err)
			}
			if target := blockAt(blocks, labelIdx); target != nil {
				target.numBranchRefs++
			}
			stack.spillAll()

		case module.OpcodeBrTable:
			count, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("prepass: br_table count at %d: %w", pos, err)
			}
			for i := uint32(0); i < count; i++ {
				idx, err := r.VarUint32()
				if err != nil {
					return nil, fmt.Errorf("prepass: br_table entry at %d: %w", pos, err)
				}
				if target := blockAt(blocks, idx); target != nil {
					target.numBranchRefs++
				}
			}
			if _, err := r.VarUint32(); err != nil { // default label
				return nil, fmt.Errorf("prepass: br_table default at %d: %w", pos, err)
			}
			stack.pop() // index
			stack.spillAll()

		case module.OpcodeReturn:
			stack.spillAll()

		case module.OpcodeCall:
			if _, err := r.VarUint32(); err != nil {
				return nil, fmt.Errorf("prepass: call target at %d: %w", pos, err)
			}
			stack.spillAll()
			// Only the spill-all effect is modelled: the callee's params are
			// not popped and no result is pushed, since the pre-pass has no
			// access to the callee's signature. The emission pass rejects
			// call, so no emitted code depends on this.

		case module.OpcodeCallIndirect:
			if _, err := r.VarUint32(); err != nil { // type index
				return nil, fmt.Errorf("prepass: call_indirect type at %d: %w", pos, err)
			}
			if _, err := r.Byte(); err != nil { // reserved table index
				return nil, fmt.Errorf("prepass: call_indirect table at %d: %w", pos, err)
			}
			stack.pop() // table index operand
			stack.spillAll()

		case module.OpcodeDrop:
			stack.pop()

		case module.OpcodeSelect:
			stack.pop() // condition
			stack.pop()
			// second operand stays; its kind is unchanged.

		case module.OpcodeLocalGet:
			idx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("prepass: local.get index at %d: %w", pos, err)
			}
			stack.push(localKind(numParams, localTypes, idx), pos)

		case module.OpcodeLocalSet:
			if _, err := r.VarUint32(); err != nil {
				return nil, fmt.Errorf("prepass: local.set index at %d: %w", pos, err)
			}
			stack.pop()

		case module.OpcodeLocalTee:
			if _, err := r.VarUint32(); err != nil {
				return nil, fmt.Errorf("prepass: local.tee index at %d: %w", pos, err)
			}
			// net stack effect is zero; no push/pop needed since the value
			// stays exactly where it was.

		case module.OpcodeGlobalGet:
			idx, err := r.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("prepass: global.get index at %d: %w", pos, err)
			}
			stack.push(globalKindAt(globalKinds, idx), pos)

		case module.OpcodeGlobalSet:
			if _, err := r.VarUint32(); err != nil {
				return nil, fmt.Errorf("prepass: global.set index at %d: %w", pos, err)
			}
			stack.pop()

		case module.OpcodeI32Const:
			if _, err := r.VarInt32(); err != nil {
				return nil, fmt.Errorf("prepass: i32.const at %d: %w", pos, err)
			}
			stack.push(KindInt, pos)

		case module.OpcodeI64Const:
			if _, err := r.VarInt64(); err != nil {
				return nil, fmt.Errorf("prepass: i64.const at %d: %w", pos, err)
			}
			stack.push(KindInt, pos)

		case module.OpcodeF32Const:
			if _, err := r.Uint32LE(); err != nil {
				return nil, fmt.Errorf("prepass: f32.const at %d: %w", pos, err)
			}
			stack.push(KindFloat, pos)

		case module.OpcodeF64Const:
			if _, err := r.Uint64LE(); err != nil {
				return nil, fmt.Errorf("prepass: f64.const at %d: %w", pos, err)
			}
			stack.push(KindFloat, pos)

		case module.OpcodeI32Load, module.OpcodeI64Load, module.OpcodeI32Store, module.OpcodeI64Store,
			module.OpcodeF32Load, module.OpcodeF64Load, module.OpcodeF32Store, module.OpcodeF64Store:
			if _, err := r.VarUint32(); err != nil { // align
				return nil, fmt.Errorf("prepass: memarg align at %d: %w", pos, err)
			}
			if _, err := r.VarUint32(); err != nil { // offset
				return nil, fmt.Errorf("prepass: memarg offset at %d: %w", pos, err)
			}
			applySimple(stack, op, pos)

		case module.OpcodeMemorySize:
			if _, err := r.Byte(); err != nil {
				return nil, fmt.Errorf("prepass: memory.size reserved byte at %d: %w", pos, err)
			}
			stack.push(KindInt, pos)

		case module.OpcodeMemoryGrow:
			if _, err := r.Byte(); err != nil {
				return nil, fmt.Errorf("prepass: memory.grow reserved byte at %d: %w", pos, err)
			}
			stack.spillAll()
			stack.pop()
			stack.push(KindInt, pos)

		default:
			if so, ok := simpleOps[op]; ok {
				applySimpleShape(stack, so, pos)
				continue
			}
			return nil, fmt.Errorf("prepass: unsupported opcode %#x at %d", op, pos)
		}
	}

	return &prepassResult{
		spillAt:           stack.spillDecision,
		spillSlotAt:       stack.spillSlotAt,
		peakInts:          stack.peakInts,
		peakFloats:        stack.peakFloats,
		peakSpilledInts:   stack.peakSpilledInts,
		peakSpilledFloats: stack.peakSpilledFloats,
		branchRefsByPos:   branchRefsByPos,
	}, nil
}

func applySimple(stack *abstractStack, op byte, pos int) {
	so := simpleOps[op]
	applySimpleShape(stack, so, pos)
}

func applySimpleShape(stack *abstractStack, so simpleOp, pos int) {
	for range so.pop {
		stack.pop()
	}
	for _, k := range so.push {
		stack.push(k, pos)
	}
}

func resetHeight(stack *abstractStack, target int) {
	for stack.height() > target {
		stack.pop()
	}
}

func blockAt(blocks []*blockRecord, labelIdx uint32) *blockRecord {
	i := len(blocks) - 1 - int(labelIdx)
	if i < 0 || i >= len(blocks) {
		return nil
	}
	return blocks[i]
}

func valueTypeKind(vt module.ValueType) Kind {
	if module.IsFloat(vt) {
		return KindFloat
	}
	return KindInt
}

func globalKindAt(globalKinds []Kind, idx uint32) Kind {
	if int(idx) < len(globalKinds) {
		return globalKinds[idx]
	}
	return KindInt
}

func localKind(numParams int, localTypes []module.ValueType, idx uint32) Kind {
	// Parameter kinds aren't threaded through here since the pre-pass
	// only needs *a* kind consistent with the window simulation; the
	// emission pass resolves the real type from the function signature
	// when choosing load/store width. For register-window purposes all
	// scalar locals behave the same except float vs int class.
	if int(idx) < numParams {
		return KindInt
	}
	localIdx := int(idx) - numParams
	if localIdx >= 0 && localIdx < len(localTypes) {
		return valueTypeKind(localTypes[localIdx])
	}
	return KindInt
}
