// Package hostcall bridges calls from compiled guest code to the host:
// every function a module imports resolves, at compile time, to either a
// native stub implementing a WASI function or a trap. There is no
// Go-callback mechanism here — no hand-assembled machine code calls back
// into the Go runtime — because every import this implementation supports
// is small enough to implement as a handful of raw Linux syscalls, issued
// directly by the stub itself via the SYSCALL instruction. That keeps the
// native/Go boundary one-directional (nativecall.Int/Float crossing from Go
// into compiled code), which is the only direction this implementation
// has to get right without ever running the result.
package hostcall

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/stencilc/stencilc/internal/branchemit"
	"github.com/stencilc/stencilc/internal/coderegion"
	"github.com/stencilc/stencilc/internal/module"
	"github.com/stencilc/stencilc/internal/stencil/asmx86"
)

// Linux/amd64 syscall numbers the WASI stubs issue directly.
const (
	sysWrite     = 1
	sysExitGroup = 231
)

// Stub describes one compiled native function standing in for an import:
// its signature (needed by the compiler to size call sites exactly like a
// real compiled function) and the byte offset its machine code was
// appended at.
type Stub struct {
	Name       string
	NumParams  int
	HasResult  bool
	EntryOffset int
}

// known lists the WASI preview1 imports this bridge implements. Anything
// else compiles to a trap per EmitTrapStub below, per
// §4.6's "trap-on-unknown-import" rule.
var known = map[string]func(region *coderegion.Region) (*Stub, error){
	"proc_exit": emitProcExit,
	"fd_write":  emitFdWrite,
}

// ImportModuleNames are the module namespaces this bridge recognizes;
// compiler.Compile consults this so it doesn't need to know WASI's
// namespace strings itself.
var ImportModuleNames = map[string]bool{
	"wasi_snapshot_preview1": true,
	"wasi_unstable":          true,
}

// Lookup resolves a WASI import by name, emitting its native stub into
// region and returning its entry point. ok is false for a recognized
// module namespace but unimplemented function name, or an unrecognized
// namespace entirely; either way the caller emits a trap stub instead.
func Lookup(region *coderegion.Region, moduleName, name string) (*Stub, bool, error) {
	if !ImportModuleNames[moduleName] {
		return nil, false, nil
	}
	build, ok := known[name]
	if !ok {
		return nil, false, nil
	}
	if err := region.AlignTo16(); err != nil {
		return nil, false, fmt.Errorf("hostcall: align: %w", err)
	}
	stub, err := build(region)
	if err != nil {
		return nil, false, fmt.Errorf("hostcall: build %s: %w", name, err)
	}
	return stub, true, nil
}

// EmitTrapStub appends a bare UD2 landing pad standing in for an
// unrecognized import, so a module that declares but never calls such an
// import still compiles; calling it traps instead of jumping into garbage.
func EmitTrapStub(region *coderegion.Region) (int, error) {
	if err := region.AlignTo16(); err != nil {
		return 0, err
	}
	offset := len(region.Bytes())
	if err := branchemit.EmitTrap(region); err != nil {
		return 0, err
	}
	return offset, nil
}

// frameParam mirrors compiler.frameLayout.ParamOffset(i) (returnSlotSize=8,
// slotSize=8); duplicated here rather than imported to avoid a dependency
// from hostcall back onto compiler, which already depends on hostcall's
// sibling packages.
func frameParam(i int) int64 { return int64(8 + 8*i) }

// emitProcExit implements wasi_snapshot_preview1.proc_exit(code: i32). It
// never returns to its caller: the guest process ends at exit_group.
func emitProcExit(region *coderegion.Region) (*Stub, error) {
	offset := len(region.Bytes())
	b, err := asmx86.NewBuilder(32)
	if err != nil {
		return nil, err
	}
	b.RegReg(x86.AMOVQ, asmx86.AX, asmx86.BP) // same prologue convention as a compiled function
	b.MemReg(x86.AMOVL, asmx86.BP, frameParam(0), asmx86.DI)
	b.ConstReg(x86.AMOVL, sysExitGroup, asmx86.AX)
	code, err := b.Assemble()
	if err != nil {
		return nil, err
	}
	if _, _, err := region.Append(code); err != nil {
		return nil, err
	}
	if err := branchemit.EmitSyscall(region); err != nil {
		return nil, err
	}
	return &Stub{Name: "proc_exit", NumParams: 1, EntryOffset: offset}, nil
}

// emitFdWrite implements wasi_snapshot_preview1.fd_write(fd: i32,
// iovs: i32, iovsLen: i32, nwritten: i32) -> errno: i32, scoped to the
// first iovec entry only: guest code that issues a single-buffer write
// (the overwhelmingly common case for line-oriented console output, which
// is all spec §8's scenarios need) gets a real write(2); any buffers past
// the first are ignored rather than rejected, since looping over iovsLen
// would need a second, nested branch this hand-encoded form keeps out of
// scope.
func emitFdWrite(region *coderegion.Region) (*Stub, error) {
	offset := len(region.Bytes())
	b, err := asmx86.NewBuilder(96)
	if err != nil {
		return nil, err
	}
	b.RegReg(x86.AMOVQ, asmx86.AX, asmx86.BP) // same prologue convention as a compiled function

	// R8 := absolute address of iovs[0] = MemBaseReg + guest iovs offset.
	b.MemReg(x86.AMOVL, asmx86.BP, frameParam(1), asmx86.CX)
	b.RegReg(x86.AMOVQ, asmx86.MemBaseReg, asmx86.R8)
	b.RegReg(x86.AADDQ, asmx86.CX, asmx86.R8)

	// SI := absolute address of iovs[0].buf; DX := iovs[0].buf_len.
	b.MemReg(x86.AMOVL, asmx86.R8, 0, asmx86.SI)
	b.RegReg(x86.AADDQ, asmx86.MemBaseReg, asmx86.SI)
	b.MemReg(x86.AMOVL, asmx86.R8, 4, asmx86.DX)

	// write(fd, buf, len): RDI=fd, RSI=buf, RDX=len, RAX=syscall number.
	b.MemReg(x86.AMOVL, asmx86.BP, frameParam(0), asmx86.DI)
	b.ConstReg(x86.AMOVL, sysWrite, asmx86.AX)
	code, err := b.Assemble()
	if err != nil {
		return nil, err
	}
	if _, _, err := region.Append(code); err != nil {
		return nil, err
	}
	if err := branchemit.EmitSyscall(region); err != nil {
		return nil, err
	}

	// AX now holds bytes written (>=0) or -errno (<0): TESTQ AX,AX
	// leaves the sign flag set exactly when AX is negative.
	b2, err := asmx86.NewBuilder(16)
	if err != nil {
		return nil, err
	}
	b2.RegReg(x86.ATESTQ, asmx86.AX, asmx86.AX)
	testCode, err := b2.Assemble()
	if err != nil {
		return nil, err
	}
	if _, _, err := region.Append(testCode); err != nil {
		return nil, err
	}
	toErrorPatch, err := branchemit.EmitJump(region, branchemit.CondS)
	if err != nil {
		return nil, err
	}

	// Success path: store the byte count into *nwritten, return errno 0.
	b3, err := asmx86.NewBuilder(32)
	if err != nil {
		return nil, err
	}
	b3.MemReg(x86.AMOVL, asmx86.BP, frameParam(3), asmx86.CX)
	b3.RegReg(x86.AADDQ, asmx86.MemBaseReg, asmx86.CX)
	b3.RegMem(x86.AMOVL, asmx86.AX, asmx86.CX, 0)
	b3.ConstReg(x86.AMOVL, 0, asmx86.AX)
	b3.StandAlone(obj.ARET)
	successCode, err := b3.Assemble()
	if err != nil {
		return nil, err
	}
	if _, _, err := region.Append(successCode); err != nil {
		return nil, err
	}

	// Error path: *nwritten = 0, return the positive errno.
	errorOffset := len(region.Bytes())
	b4, err := asmx86.NewBuilder(32)
	if err != nil {
		return nil, err
	}
	negP := b4.Prog()
	negP.As = x86.ANEGQ
	negP.To.Type = obj.TYPE_REG
	negP.To.Reg = asmx86.AX
	b4.Add(negP)
	b4.RegReg(x86.AMOVQ, asmx86.AX, asmx86.BX) // BX := errno, survives the zeroing below
	b4.MemReg(x86.AMOVL, asmx86.BP, frameParam(3), asmx86.CX)
	b4.RegReg(x86.AADDQ, asmx86.MemBaseReg, asmx86.CX)
	xorSelf := b4.Prog()
	xorSelf.As = x86.AXORL
	xorSelf.From.Type = obj.TYPE_REG
	xorSelf.From.Reg = asmx86.DX
	xorSelf.To.Type = obj.TYPE_REG
	xorSelf.To.Reg = asmx86.DX
	b4.Add(xorSelf)
	b4.RegMem(x86.AMOVL, asmx86.DX, asmx86.CX, 0) // *nwritten = 0
	b4.RegReg(x86.AMOVQ, asmx86.BX, asmx86.AX)
	b4.StandAlone(obj.ARET)
	errorCode, err := b4.Assemble()
	if err != nil {
		return nil, err
	}
	if _, _, err := region.Append(errorCode); err != nil {
		return nil, err
	}

	if err := branchemit.PatchRel32(region, toErrorPatch, errorOffset); err != nil {
		return nil, err
	}

	return &Stub{Name: "fd_write", NumParams: 4, HasResult: true, EntryOffset: offset}, nil
}

var _ = module.OpcodeCall // keep the module import honest if the stub set above ever needs opcode constants
