// Package asmx86 is a thin wrapper around golang-asm's amd64 backend. It
// builds the stencil library's machine-code fragments at process-init time
// (baked into immutable byte slices before any WASM module is read), and
// is also used while compiling a module for the emission pass's prologue,
// epilogue and spill reloads and for the host-call stubs.
package asmx86

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Builder accumulates a short straight-line instruction sequence and
// assembles it into position-independent machine code. It offers no
// branch-target helper; comparison stencils use SETcc rather than jumps.
type Builder struct {
	b    *goasm.Builder
	errs []error
}

// NewBuilder allocates a fresh builder. size is a hint for the backing
// buffer, not a hard limit; stencils are short (rarely more than a few
// dozen bytes).
func NewBuilder(size int) (*Builder, error) {
	b, err := goasm.NewBuilder("amd64", size)
	if err != nil {
		return nil, fmt.Errorf("asmx86: new builder: %w", err)
	}
	return &Builder{b: b}, nil
}

// Prog allocates a new, unattached instruction. Callers fill in As/To/From
// and then pass it to Add.
func (b *Builder) Prog() *obj.Prog {
	return b.b.NewProg()
}

// Add appends p to the instruction stream.
func (b *Builder) Add(p *obj.Prog) {
	b.b.AddInstruction(p)
}

// Assemble finalizes the instruction stream into a byte sequence. Offsets
// recorded by callers (via Prog.Pc, read after Assemble) are stable and
// usable as relocation offsets.
func (b *Builder) Assemble() ([]byte, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	return b.b.Assemble(), nil
}

// RegReg emits `inst to, from` in Go-assembler operand order (destination
// second), matching golang-asm's obj.Prog convention.
func (b *Builder) RegReg(inst obj.As, from, to int16) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.From.Type = obj.TYPE_REG
	p.From.Reg = from
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	b.Add(p)
	return p
}

// MemReg emits a load: `inst (baseReg)(offset), to`.
func (b *Builder) MemReg(inst obj.As, baseReg int16, offset int64, to int16) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = baseReg
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	b.Add(p)
	return p
}

// RegMem emits a store: `inst from, (baseReg)(offset)`.
func (b *Builder) RegMem(inst obj.As, from int16, baseReg int16, offset int64) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.From.Type = obj.TYPE_REG
	p.From.Reg = from
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = baseReg
	p.To.Offset = offset
	b.Add(p)
	return p
}

// ConstReg emits `inst $value, to`. Where a Relocation later overwrites
// the immediate, value is only a placeholder (table.go uses 0); callers
// such as the host-call stubs pass the real value.
func (b *Builder) ConstReg(inst obj.As, value int64, to int16) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	b.Add(p)
	return p
}

// RegConst emits `inst $value, to` (Go-assembler CMPQ/ADDQ/SUBQ order:
// constant first, register second), the same operand order and encoding
// as ConstReg, named separately for comparisons and immediate arithmetic against a fixed
// register such as the native stack pointer.
func (b *Builder) RegConst(inst obj.As, value int64, to int16) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	b.Add(p)
	return p
}

// CallReg emits an indirect CALL through a register holding the target
// address, used by call_indirect once the dispatch table has supplied a
// validated function pointer.
func (b *Builder) CallReg(reg int16) *obj.Prog {
	p := b.Prog()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	b.Add(p)
	return p
}

// MemRegIndexed emits a load `inst (baseReg)(indexReg*1), to`, the
// register-indexed addressing form memory-access stencils use once the
// effective address is a runtime value rather than a fixed displacement.
func (b *Builder) MemRegIndexed(inst obj.As, baseReg, indexReg int16, to int16) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = baseReg
	p.From.Index = indexReg
	p.From.Scale = 1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	b.Add(p)
	return p
}

// RegMemIndexed emits a store `inst from, (baseReg)(indexReg*1)`.
func (b *Builder) RegMemIndexed(inst obj.As, from int16, baseReg, indexReg int16) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.From.Type = obj.TYPE_REG
	p.From.Reg = from
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = baseReg
	p.To.Index = indexReg
	p.To.Scale = 1
	b.Add(p)
	return p
}

// StandAlone emits a zero-operand instruction (RET, UD2, CQO, and so on).
func (b *Builder) StandAlone(inst obj.As) *obj.Prog {
	p := b.Prog()
	p.As = inst
	b.Add(p)
	return p
}

// RegOnly emits a one-operand instruction reading or writing a single
// register (e.g. NOTQ, NEGQ, or the shift-count-implicit forms).
func (b *Builder) RegOnly(inst obj.As, reg int16) *obj.Prog {
	p := b.Prog()
	p.As = inst
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	b.Add(p)
	return p
}

// Call32 emits a relative CALL to a placeholder target; the 4 bytes of
// displacement at the returned Prog's eventual offset+1 are overwritten by
// a Relocation once the callee's address is known.
func (b *Builder) Call32() *obj.Prog {
	p := b.Prog()
	p.As = obj.ACALL
	p.To.Type = obj.TYPE_BRANCH
	b.Add(p)
	return p
}

// Register name aliases into golang-asm's plan9-derived numbering, named
// exactly as the Go assembler names them so that stencil-construction code
// in table.go reads like hand-written amd64 assembly.
var (
	AX  int16 = x86.REG_AX
	CX  int16 = x86.REG_CX
	DX  int16 = x86.REG_DX
	BX  int16 = x86.REG_BX
	SP  int16 = x86.REG_SP
	BP  int16 = x86.REG_BP
	SI  int16 = x86.REG_SI
	DI  int16 = x86.REG_DI
	R8  int16 = x86.REG_R8
	R9  int16 = x86.REG_R9
	R10 int16 = x86.REG_R10
	R11 int16 = x86.REG_R11
	R12 int16 = x86.REG_R12
	R13 int16 = x86.REG_R13
	R14 int16 = x86.REG_R14
	R15 int16 = x86.REG_R15

	X0  int16 = x86.REG_X0
	X1  int16 = x86.REG_X1
	X2  int16 = x86.REG_X2
	X3  int16 = x86.REG_X3
	X4  int16 = x86.REG_X4
	X5  int16 = x86.REG_X5
	X6  int16 = x86.REG_X6
	X7  int16 = x86.REG_X7
)

// IntRegByIndex returns the i'th register of the integer operand window,
// matching stencil.IntWindow's ordering.
func IntRegByIndex(i int) int16 {
	regs := []int16{AX, CX, DX}
	return regs[i]
}

// FloatRegByIndex returns the i'th register of the float operand window.
func FloatRegByIndex(i int) int16 {
	regs := []int16{X0, X1, X2}
	return regs[i]
}

// FrameBaseReg holds the guest callee's stack-frame base pointer (the
// single uintptr_t argument every compiled function receives), per §6's
// compiled-function ABI. Locals, parameters, and the memory-resident
// evaluation stack are all addressed [FrameBaseReg+disp].
const FrameBaseReg int16 = x86.REG_BP

// MemBaseReg is kept loaded with the runtime memory region's memzero
// pointer for the lifetime of a thread of execution. The spec models
// memory/global/table access as GS-segment-relative; golang-asm's amd64
// backend has no segment-override support to build on, so the stencil
// library instead pins this general-purpose register to the same value
// arch_prctl(ARCH_SET_GS, ...) installs as the GS base, and every
// memory/global/table-access stencil below addresses
// [MemBaseReg+disp] directly. runtimemem.SetGSBase can install the GS
// base, but nothing in this repository calls it, so no code here relies
// on [gs:...] addressing.
const MemBaseReg int16 = x86.REG_R15
