// Package branchemit supplies the machine-code fragments the emission pass
// pastes for control flow and calls: block/loop/if/br/br_if scaffolding,
// direct and indirect calls, and the shared trap landing pad. Unlike the
// stencil library, these fragments aren't keyed by a fixed register-window
// shape ahead of time; their relocatable displacements are patched against
// offsets the emission pass only learns while walking a specific function
// (a forward branch's target, a forward-referenced callee's entry point),
// so they're encoded directly as raw bytes with an explicit patch offset
// instead of going through stencil.Library.
//
// golang-asm's amd64 backend resolves its own branch instructions through
// internal label bookkeeping that assumes the whole instruction stream is
// known up front; that doesn't fit a single forward walk that patches a
// branch's displacement only once its target (or, for calls, the callee's
// final compiled address) becomes known. Hand-encoding these few forms
// avoids fighting that machinery for exactly the handful of opcodes whose
// targets aren't known at emission time.
package branchemit

import (
	"fmt"

	"github.com/stencilc/stencilc/internal/coderegion"
)

// Cond is a condition-code selector for a conditional near jump.
type Cond byte

const (
	CondAlways Cond = iota // unconditional JMP
	CondNZ                 // jump if the tested register is nonzero (br_if's condition)
	CondZ                  // jump if the tested register is zero
	CondAE                 // jump if an unsigned CMP found the left operand >= the right (bounds checks)
	CondS                  // jump if the last arithmetic result was negative (TESTQ reg,reg's sign flag)
)

// TestRegNonZero appends `TEST reg, reg`, leaving ZF set iff reg == 0 for a
// following conditional jump to consult. reg must be one of the three
// int-window registers (AX=0, CX=1, DX=2 in ModRM register-number terms).
func TestRegNonZero(region *coderegion.Region, reg byte) error {
	_, _, err := region.Append([]byte{0x48, 0x85, 0xC0 | (reg << 3) | reg})
	return err
}

// RegBits maps the three int-window registers (and the BX scratch register
// buildBinOpStencil's shift path uses) to their 3-bit ModRM register
// number, needed by TestRegNonZero and the call_indirect bounds check.
const (
	RegBitsAX byte = 0
	RegBitsCX byte = 1
	RegBitsDX byte = 2
	RegBitsBX byte = 3
)

// EmitJump appends a near jump (conditional per cond, or unconditional for
// CondAlways) with a placeholder zero displacement and returns the byte
// offset of the 4-byte displacement field, for a later PatchRel32 call once
// the target offset is known. Every form here is 6 bytes (2-byte opcode +
// imm32) except CondAlways, which is 5 (1-byte opcode + imm32).
func EmitJump(region *coderegion.Region, cond Cond) (patchOffset int, err error) {
	var opcode []byte
	switch cond {
	case CondAlways:
		opcode = []byte{0xE9, 0, 0, 0, 0}
	case CondNZ:
		opcode = []byte{0x0F, 0x85, 0, 0, 0, 0}
	case CondZ:
		opcode = []byte{0x0F, 0x84, 0, 0, 0, 0}
	case CondAE:
		opcode = []byte{0x0F, 0x83, 0, 0, 0, 0}
	case CondS:
		opcode = []byte{0x0F, 0x88, 0, 0, 0, 0}
	default:
		return 0, fmt.Errorf("branchemit: unknown condition %d", cond)
	}
	_, offset, err := region.Append(opcode)
	if err != nil {
		return 0, err
	}
	return offset + len(opcode) - 4, nil
}

// EmitCall appends a direct near CALL with a placeholder zero displacement
// and returns the patch offset of its 4-byte displacement, used for calls
// to a callee not yet compiled (the common case in a single forward pass:
// only calls to an earlier-indexed, already-emitted function could resolve
// immediately, and this implementation patches every direct call the same
// way for simplicity).
func EmitCall(region *coderegion.Region) (patchOffset int, err error) {
	opcode := []byte{0xE8, 0, 0, 0, 0}
	_, offset, err := region.Append(opcode)
	if err != nil {
		return 0, err
	}
	return offset + 1, nil
}

// PatchRel32 resolves a jump or call's displacement once its absolute
// target byte offset (within the same region) is known: rel32 is relative
// to the address immediately following the 4-byte field itself.
func PatchRel32(region *coderegion.Region, patchOffset, targetOffset int) error {
	code := region.Bytes()
	if patchOffset+4 > len(code) {
		return fmt.Errorf("branchemit: patch offset %d out of range (len %d)", patchOffset, len(code))
	}
	disp := int32(targetOffset - (patchOffset + 4))
	u := uint32(disp)
	code[patchOffset+0] = byte(u)
	code[patchOffset+1] = byte(u >> 8)
	code[patchOffset+2] = byte(u >> 16)
	code[patchOffset+3] = byte(u >> 24)
	return nil
}

// EmitTrap appends the two-byte UD2 instruction, the shared landing pad
// every signature-mismatch, out-of-range, and unreachable-opcode path
// converges on. Matches the raw encoding stencil.registerMisc already uses
// for OpcodeUnreachable.
func EmitTrap(region *coderegion.Region) error {
	_, _, err := region.Append([]byte{0x0F, 0x0B})
	return err
}

// EmitSyscall appends the two-byte SYSCALL instruction, used by the
// host-call bridge's native WASI stubs to invoke the kernel directly
// rather than crossing back into Go.
func EmitSyscall(region *coderegion.Region) error {
	_, _, err := region.Append([]byte{0x0F, 0x05})
	return err
}

// BlockScope is the emission pass's bookkeeping for one open block/loop/if,
// tracking where forward branches into it (br/br_if/br_table targeting its
// `end`) need their displacement patched once `end` is reached, and (for a
// loop) the backward-branch target address, known immediately on entry.
type BlockScope struct {
	IsLoop        bool
	LoopStart     int   // byte offset of the loop's first instruction; valid only if IsLoop
	ElsePatch     int   // byte offset to patch once `else` is reached (if's jump around the then-arm); meaningful only if HasElsePatch
	HasElsePatch  bool
	forwardPatchOffsets []int
}

// NewBlockScope starts tracking a block entered at the current region
// cursor.
func NewBlockScope(region *coderegion.Region, isLoop bool) *BlockScope {
	return &BlockScope{IsLoop: isLoop, LoopStart: len(region.Bytes())}
}

// AddForwardPatch records a branch instruction's displacement offset to be
// resolved once this block's `end` is emitted.
func (s *BlockScope) AddForwardPatch(offset int) {
	s.forwardPatchOffsets = append(s.forwardPatchOffsets, offset)
}

// Resolve patches every pending forward branch into this block against
// endOffset, the byte offset its `end` was emitted at.
func (s *BlockScope) Resolve(region *coderegion.Region, endOffset int) error {
	for _, off := range s.forwardPatchOffsets {
		if err := PatchRel32(region, off, endOffset); err != nil {
			return err
		}
	}
	return nil
}
