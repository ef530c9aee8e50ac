package stencil

import (
	"fmt"

	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/stencilc/stencilc/internal/module"
	"github.com/stencilc/stencilc/internal/stencil/asmx86"
)

// DefaultLibrary is built once at package init and never mutated again; it
// is the single process-wide stencil table every compilation reads from.
var DefaultLibrary = buildLibrary()

type binOp struct {
	opcode32, opcode64 byte
	inst32, inst64     obj.As
}

var intBinOps = []binOp{
	{module.OpcodeI32Add, module.OpcodeI64Add, x86.AADDL, x86.AADDQ},
	{module.OpcodeI32Sub, module.OpcodeI64Sub, x86.ASUBL, x86.ASUBQ},
	{module.OpcodeI32And, module.OpcodeI64And, x86.AANDL, x86.AANDQ},
	{module.OpcodeI32Or, module.OpcodeI64Or, x86.AORL, x86.AORQ},
	{module.OpcodeI32Xor, module.OpcodeI64Xor, x86.AXORL, x86.AXORQ},
}

// shiftOps covers the three shift families and the two rotates. x86's
// SHL/SHR/SAR/ROL/ROR implicitly mask their count operand to 5 bits (32-bit forms) or 6 bits (64-bit
// forms), which is exactly the spec's §8 boundary requirement
// ("i32.shl/shr mask by 31, i64 variants by 63") — no extra masking code
// is needed.
var shiftOps = []binOp{
	{module.OpcodeI32Shl, module.OpcodeI64Shl, x86.ASHLL, x86.ASHLQ},
	{module.OpcodeI32ShrU, module.OpcodeI64ShrU, x86.ASHRL, x86.ASHRQ},
	{module.OpcodeI32ShrS, module.OpcodeI64ShrS, x86.ASARL, x86.ASARQ},
	{module.OpcodeI32Rotl, module.OpcodeI64Rotl, x86.AROLL, x86.AROLQ},
	{module.OpcodeI32Rotr, module.OpcodeI64Rotr, x86.ARORL, x86.ARORQ},
}

type cmpOp struct {
	opcode32, opcode64 byte
	setInst            obj.As
}

var cmpOps = []cmpOp{
	{module.OpcodeI32Eq, module.OpcodeI64Eq, x86.ASETEQ},
	{module.OpcodeI32Ne, module.OpcodeI64Ne, x86.ASETNE},
	{module.OpcodeI32LtS, module.OpcodeI64LtS, x86.ASETLT},
	{module.OpcodeI32LtU, module.OpcodeI64LtU, x86.ASETCS},
	{module.OpcodeI32GtS, module.OpcodeI64GtS, x86.ASETGT},
	{module.OpcodeI32GtU, module.OpcodeI64GtU, x86.ASETHI},
	{module.OpcodeI32LeS, module.OpcodeI64LeS, x86.ASETLE},
	{module.OpcodeI32LeU, module.OpcodeI64LeU, x86.ASETLS},
	{module.OpcodeI32GeS, module.OpcodeI64GeS, x86.ASETGE},
	{module.OpcodeI32GeU, module.OpcodeI64GeU, x86.ASETCC},
}

var floatBinOps = []struct {
	opcode32, opcode64 byte
	inst32, inst64     obj.As
}{
	{module.OpcodeF32Add, module.OpcodeF64Add, x86.AADDSS, x86.AADDSD},
	{module.OpcodeF32Sub, module.OpcodeF64Sub, x86.ASUBSS, x86.ASUBSD},
	{module.OpcodeF32Mul, module.OpcodeF64Mul, x86.AMULSS, x86.AMULSD},
	{module.OpcodeF32Div, module.OpcodeF64Div, x86.ADIVSS, x86.ADIVSD},
}

type floatCmpOp struct {
	opcode32, opcode64 byte
	setInst            obj.As
}

// floatCmpOps covers the ordered comparisons directly expressible as a
// single UCOMISx + SETcc; float equality/inequality and the unordered
// forms (lt/gt/le/ge, which WASM defines as false on NaN, matching
// UCOMISx's unordered-result behavior for SETcc pairs chosen below) all
// fall out of the same instruction, so no separate NaN handling code is
// needed.
var floatCmpOps = []floatCmpOp{
	{module.OpcodeF32Eq, module.OpcodeF64Eq, x86.ASETEQ},
	{module.OpcodeF32Ne, module.OpcodeF64Ne, x86.ASETNE},
	{module.OpcodeF32Lt, module.OpcodeF64Lt, x86.ASETCS},
	{module.OpcodeF32Gt, module.OpcodeF64Gt, x86.ASETHI},
	{module.OpcodeF32Le, module.OpcodeF64Le, x86.ASETLS},
	{module.OpcodeF32Ge, module.OpcodeF64Ge, x86.ASETCC},
}

func buildLibrary() *Library {
	lib := NewLibrary()

	registerBinOps(lib, intBinOps, false)
	registerBinOps(lib, shiftOps, true)
	registerMul(lib)
	registerCompares(lib)
	registerConst(lib)
	registerLocalAccess(lib)
	registerGlobalAccess(lib)
	registerMemoryAccess(lib)
	registerMisc(lib)

	registerFloatBinOps(lib)
	registerFloatCompares(lib)
	registerFloatConst(lib)
	registerFloatLocalAccess(lib)
	registerFloatGlobalAccess(lib)
	registerFloatMemoryAccess(lib)

	return lib
}

// registerBinOps fills in stencils for a dyadic int op across the two
// register-window depths where a binary stencil is meaningful (2 and 3
// in-register operands; below 2 the operands can't both be live).
// isShift selects the 32/64-bit register class for the shift *count*
// operand (ECX/RCX, per the implicit x86 shift-count register) separately
// from the value being shifted.
func registerBinOps(lib *Library, ops []binOp, isShift bool) {
	for _, op := range ops {
		for _, numIntRegs := range []int{2, 3} {
			lhsIdx, rhsIdx := numIntRegs-2, numIntRegs-1
			lhs, rhs := asmx86.IntRegByIndex(lhsIdx), asmx86.IntRegByIndex(rhsIdx)

			key32 := Key{Opcode: op.opcode32, NumIntRegs: numIntRegs, NumFloatRegs: 0, SpillOutput: false}
			st32 := buildBinOpStencil(op.inst32, lhs, rhs, numIntRegs, isShift)
			mustRegister(lib, key32, st32)
			registerIntSpillVariant(lib, key32, st32, lhs)

			key64 := Key{Opcode: op.opcode64, NumIntRegs: numIntRegs, NumFloatRegs: 0, SpillOutput: false}
			st64 := buildBinOpStencil(op.inst64, lhs, rhs, numIntRegs, isShift)
			mustRegister(lib, key64, st64)
			registerIntSpillVariant(lib, key64, st64, lhs)
		}
	}
}

func buildBinOpStencil(inst obj.As, lhs, rhs int16, numIntRegs int, isShift bool) *Stencil {
	b, err := asmx86.NewBuilder(32)
	if err != nil {
		panic(err)
	}
	switch {
	case isShift && rhs != asmx86.CX:
		// Shift count must be in CL/RCX on amd64. At window depth 3 the rhs
		// operand is DX, not CX, and lhs itself occupies CX, so the value
		// being shifted is routed through BX while the count is loaded into
		// CX, then moved back into lhs's slot so the window bookkeeping
		// (result lands where lhs was) still holds.
		b.RegReg(x86.AMOVQ, lhs, asmx86.BX)
		b.RegReg(x86.AMOVQ, rhs, asmx86.CX)
		b.RegReg(inst, asmx86.CX, asmx86.BX)
		b.RegReg(x86.AMOVQ, asmx86.BX, lhs)
	default:
		b.RegReg(inst, rhs, lhs)
	}
	code, err := b.Assemble()
	if err != nil {
		panic(err)
	}
	return &Stencil{
		Code:        code,
		EntryInts:   numIntRegs,
		ExitInts:    numIntRegs - 1,
		EntryFloats: 0,
		ExitFloats:  0,
	}
}

// registerMul handles i32.mul/i64.mul separately: IMULL/IMULQ take a
// register destination directly, unlike the div/rem family this library
// does not (yet) stencil.
func registerMul(lib *Library) {
	pairs := []struct {
		opcode32, opcode64 byte
		inst32, inst64     obj.As
	}{
		{module.OpcodeI32Mul, module.OpcodeI64Mul, x86.AIMULL, x86.AIMULQ},
	}
	for _, p := range pairs {
		for _, numIntRegs := range []int{2, 3} {
			lhs := asmx86.IntRegByIndex(numIntRegs - 2)
			rhs := asmx86.IntRegByIndex(numIntRegs - 1)
			key32 := Key{Opcode: p.opcode32, NumIntRegs: numIntRegs, SpillOutput: false}
			st32 := buildBinOpStencil(p.inst32, lhs, rhs, numIntRegs, false)
			mustRegister(lib, key32, st32)
			registerIntSpillVariant(lib, key32, st32, lhs)

			key64 := Key{Opcode: p.opcode64, NumIntRegs: numIntRegs, SpillOutput: false}
			st64 := buildBinOpStencil(p.inst64, lhs, rhs, numIntRegs, false)
			mustRegister(lib, key64, st64)
			registerIntSpillVariant(lib, key64, st64, lhs)
		}
	}
}

// registerCompares builds CMP+SETcc+zero-extend sequences that leave a
// 0/1 result in the lower operand's register, matching WASM's comparison
// result type (always i32).
func registerCompares(lib *Library) {
	for _, c := range cmpOps {
		for _, numIntRegs := range []int{2, 3} {
			lhs := asmx86.IntRegByIndex(numIntRegs - 2)
			rhs := asmx86.IntRegByIndex(numIntRegs - 1)

			key32 := Key{Opcode: c.opcode32, NumIntRegs: numIntRegs, SpillOutput: false}
			st32 := buildCompareStencil(x86.ACMPL, c.setInst, lhs, rhs, numIntRegs)
			mustRegister(lib, key32, st32)
			registerIntSpillVariant(lib, key32, st32, lhs)

			key64 := Key{Opcode: c.opcode64, NumIntRegs: numIntRegs, SpillOutput: false}
			st64 := buildCompareStencil(x86.ACMPQ, c.setInst, lhs, rhs, numIntRegs)
			mustRegister(lib, key64, st64)
			registerIntSpillVariant(lib, key64, st64, lhs)
		}
	}
}

func buildCompareStencil(cmpInst, setInst obj.As, lhs, rhs int16, numIntRegs int) *Stencil {
	b, err := asmx86.NewBuilder(32)
	if err != nil {
		panic(err)
	}
	b.RegReg(cmpInst, rhs, lhs)
	// SETcc writes a single byte; the result register is then zero-extended
	// so later stencils can treat it as a normal 32-bit int.
	setP := b.Prog()
	setP.As = setInst
	setP.To.Type = obj.TYPE_REG
	setP.To.Reg = lhs
	b.Add(setP)
	b.RegReg(x86.AMOVBLZX, lhs, lhs)
	code, err := b.Assemble()
	if err != nil {
		panic(err)
	}
	return &Stencil{Code: code, EntryInts: numIntRegs, ExitInts: numIntRegs - 1}
}

// registerConst builds i32.const/i64.const stencils for every register
// depth 0..2 (pushing into a still-free window slot); the instruction's
// immediate value is a relocation against ordinal 2, since the decoded
// constant isn't known until the opcode stream is walked.
func registerConst(lib *Library) {
	for _, numIntRegs := range []int{0, 1, 2} {
		dst := asmx86.IntRegByIndex(numIntRegs)

		b32, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p32 := b32.ConstReg(x86.AMOVL, 0, dst)
		code32, err := b32.Assemble()
		if err != nil {
			panic(err)
		}
		key32 := Key{Opcode: module.OpcodeI32Const, NumIntRegs: numIntRegs}
		st32 := &Stencil{
			Code:        code32,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p32.Pc), Ordinal: OrdinalImmediate}},
			EntryInts:   numIntRegs,
			ExitInts:    numIntRegs + 1,
		}
		mustRegister(lib, key32, st32)
		registerIntSpillVariant(lib, key32, st32, dst)

		b64, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p64 := b64.ConstReg(x86.AMOVQ, 0, dst)
		code64, err := b64.Assemble()
		if err != nil {
			panic(err)
		}
		key64 := Key{Opcode: module.OpcodeI64Const, NumIntRegs: numIntRegs}
		st64 := &Stencil{
			Code:        code64,
			Relocations: []Relocation{{Kind: RelocImm64, Offset: int(p64.Pc), Ordinal: OrdinalImmediate}},
			EntryInts:   numIntRegs,
			ExitInts:    numIntRegs + 1,
		}
		mustRegister(lib, key64, st64)
		registerIntSpillVariant(lib, key64, st64, dst)
	}
}

// registerLocalAccess builds local.get/local.set/local.tee stencils
// addressing the guest stack frame at [FrameBaseReg+disp], disp supplied
// via the immediate relocation ordinal (each local's fixed byte offset,
// computed by the compiler from its index).
func registerLocalAccess(lib *Library) {
	for _, numIntRegs := range []int{0, 1, 2} {
		dst := asmx86.IntRegByIndex(numIntRegs)

		b, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p := b.MemReg(x86.AMOVQ, asmx86.FrameBaseReg, 0, dst)
		code, err := b.Assemble()
		if err != nil {
			panic(err)
		}
		key := Key{Opcode: module.OpcodeLocalGet, NumIntRegs: numIntRegs}
		st := &Stencil{
			Code:        code,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
			EntryInts:   numIntRegs,
			ExitInts:    numIntRegs + 1,
		}
		mustRegister(lib, key, st)
		registerIntSpillVariant(lib, key, st, dst)
	}
	for _, numIntRegs := range []int{1, 2, 3} {
		src := asmx86.IntRegByIndex(numIntRegs - 1)

		for _, opcode := range []byte{module.OpcodeLocalSet, module.OpcodeLocalTee} {
			b, err := asmx86.NewBuilder(16)
			if err != nil {
				panic(err)
			}
			p := b.RegMem(x86.AMOVQ, src, asmx86.FrameBaseReg, 0)
			code, err := b.Assemble()
			if err != nil {
				panic(err)
			}
			exitInts := numIntRegs - 1
			if opcode == module.OpcodeLocalTee {
				exitInts = numIntRegs // tee keeps the value on the abstract stack
			}
			mustRegister(lib, Key{Opcode: opcode, NumIntRegs: numIntRegs}, &Stencil{
				Code:        code,
				Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
				EntryInts:   numIntRegs,
				ExitInts:    exitInts,
			})
		}
	}
}

// registerGlobalAccess mirrors registerLocalAccess but addresses the
// negative-offset metadata region off MemBaseReg, per §4.5's global slot
// layout.
func registerGlobalAccess(lib *Library) {
	for _, numIntRegs := range []int{0, 1, 2} {
		dst := asmx86.IntRegByIndex(numIntRegs)
		b, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p := b.MemReg(x86.AMOVQ, asmx86.MemBaseReg, 0, dst)
		code, err := b.Assemble()
		if err != nil {
			panic(err)
		}
		key := Key{Opcode: module.OpcodeGlobalGet, NumIntRegs: numIntRegs}
		st := &Stencil{
			Code:        code,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
			EntryInts:   numIntRegs,
			ExitInts:    numIntRegs + 1,
		}
		mustRegister(lib, key, st)
		registerIntSpillVariant(lib, key, st, dst)
	}
	for _, numIntRegs := range []int{1, 2, 3} {
		src := asmx86.IntRegByIndex(numIntRegs - 1)
		b, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p := b.RegMem(x86.AMOVQ, src, asmx86.MemBaseReg, 0)
		code, err := b.Assemble()
		if err != nil {
			panic(err)
		}
		mustRegister(lib, Key{Opcode: module.OpcodeGlobalSet, NumIntRegs: numIntRegs}, &Stencil{
			Code:        code,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
			EntryInts:   numIntRegs,
			ExitInts:    numIntRegs - 1,
		})
	}
}

// registerMemoryAccess builds the i32/i64 load/store variants: the
// effective address is [MemBaseReg + popped-address-register], WASM's
// static offset immediate folded in as the displacement (ordinal 2).
func registerMemoryAccess(lib *Library) {
	loads := []struct {
		opcode byte
		inst   obj.As
	}{
		{module.OpcodeI32Load, x86.AMOVL},
		{module.OpcodeI64Load, x86.AMOVQ},
	}
	for _, l := range loads {
		for _, numIntRegs := range []int{1, 2, 3} {
			addr := asmx86.IntRegByIndex(numIntRegs - 1)
			b, err := asmx86.NewBuilder(16)
			if err != nil {
				panic(err)
			}
			p := b.Prog()
			p.As = l.inst
			p.From.Type = obj.TYPE_MEM
			p.From.Reg = asmx86.MemBaseReg
			p.From.Index = addr
			p.From.Scale = 1
			p.To.Type = obj.TYPE_REG
			p.To.Reg = addr
			b.Add(p)
			code, err := b.Assemble()
			if err != nil {
				panic(err)
			}
			key := Key{Opcode: l.opcode, NumIntRegs: numIntRegs}
			st := &Stencil{
				Code:        code,
				Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 3, Ordinal: OrdinalImmediate}},
				EntryInts:   numIntRegs,
				ExitInts:    numIntRegs,
			}
			mustRegister(lib, key, st)

			spillKey := key
			spillKey.SpillOutput = true
			sb, err := asmx86.NewBuilder(16)
			if err != nil {
				panic(err)
			}
			sp := sb.RegMem(x86.AMOVQ, addr, asmx86.FrameBaseReg, 0)
			extra, err := sb.Assemble()
			if err != nil {
				panic(err)
			}
			spillCode := append(append([]byte{}, code...), extra...)
			spillRelocs := append([]Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 3, Ordinal: OrdinalImmediate}},
				Relocation{Kind: RelocImm32, Offset: len(code) + int(sp.Pc) + 4, Ordinal: OrdinalIntStackTop})
			mustRegister(lib, spillKey, &Stencil{
				Code:        spillCode,
				Relocations: spillRelocs,
				EntryInts:   numIntRegs,
				ExitInts:    numIntRegs - 1,
			})
		}
	}

	stores := []struct {
		opcode byte
		inst   obj.As
	}{
		{module.OpcodeI32Store, x86.AMOVL},
		{module.OpcodeI64Store, x86.AMOVQ},
	}
	for _, s := range stores {
		for _, numIntRegs := range []int{2, 3} {
			addr := asmx86.IntRegByIndex(numIntRegs - 2)
			val := asmx86.IntRegByIndex(numIntRegs - 1)
			b, err := asmx86.NewBuilder(16)
			if err != nil {
				panic(err)
			}
			p := b.Prog()
			p.As = s.inst
			p.To.Type = obj.TYPE_MEM
			p.To.Reg = asmx86.MemBaseReg
			p.To.Index = addr
			p.To.Scale = 1
			p.From.Type = obj.TYPE_REG
			p.From.Reg = val
			b.Add(p)
			code, err := b.Assemble()
			if err != nil {
				panic(err)
			}
			mustRegister(lib, Key{Opcode: s.opcode, NumIntRegs: numIntRegs}, &Stencil{
				Code:        code,
				Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 3, Ordinal: OrdinalImmediate}},
				EntryInts:   numIntRegs,
				ExitInts:    numIntRegs - 2,
			})
		}
	}
}

// registerFloatBinOps mirrors registerBinOps for the four dyadic float
// arithmetic ops, keyed by the float window depth; the int-register
// window (NumIntRegs) a float op runs at doesn't affect its code, but
// does affect the Key a given call site looks up under, so every
// combination of int depth (0..3) and float depth (2,3) that can
// co-occur is registered.
func registerFloatBinOps(lib *Library) {
	for _, op := range floatBinOps {
		for _, numIntRegs := range []int{0, 1, 2, 3} {
			for _, numFloatRegs := range []int{2, 3} {
				lhs, rhs := asmx86.FloatRegByIndex(numFloatRegs-2), asmx86.FloatRegByIndex(numFloatRegs-1)

				key32 := Key{Opcode: op.opcode32, NumIntRegs: numIntRegs, NumFloatRegs: numFloatRegs}
				st32 := buildFloatBinOpStencil(op.inst32, lhs, rhs, numIntRegs, numFloatRegs)
				mustRegister(lib, key32, st32)
				registerFloatSpillVariant(lib, key32, st32, lhs)

				key64 := Key{Opcode: op.opcode64, NumIntRegs: numIntRegs, NumFloatRegs: numFloatRegs}
				st64 := buildFloatBinOpStencil(op.inst64, lhs, rhs, numIntRegs, numFloatRegs)
				mustRegister(lib, key64, st64)
				registerFloatSpillVariant(lib, key64, st64, lhs)
			}
		}
	}
}

func buildFloatBinOpStencil(inst obj.As, lhs, rhs int16, numIntRegs, numFloatRegs int) *Stencil {
	b, err := asmx86.NewBuilder(16)
	if err != nil {
		panic(err)
	}
	b.RegReg(inst, rhs, lhs)
	code, err := b.Assemble()
	if err != nil {
		panic(err)
	}
	return &Stencil{
		Code:        code,
		EntryInts:   numIntRegs,
		ExitInts:    numIntRegs,
		EntryFloats: numFloatRegs,
		ExitFloats:  numFloatRegs - 1,
	}
}

// registerFloatCompares builds UCOMISx+SETcc sequences whose 0/1 result
// lands in the int window (WASM float comparisons always produce i32),
// so each entry is keyed on both the float depth being compared and the
// int depth the result lands at.
func registerFloatCompares(lib *Library) {
	for _, c := range floatCmpOps {
		for _, numIntRegs := range []int{0, 1, 2} {
			for _, numFloatRegs := range []int{2, 3} {
				lhs, rhs := asmx86.FloatRegByIndex(numFloatRegs-2), asmx86.FloatRegByIndex(numFloatRegs-1)
				dst := asmx86.IntRegByIndex(numIntRegs)

				key32 := Key{Opcode: c.opcode32, NumIntRegs: numIntRegs, NumFloatRegs: numFloatRegs}
				st32 := buildFloatCompareStencil(x86.AUCOMISS, c.setInst, lhs, rhs, dst, numIntRegs, numFloatRegs)
				mustRegister(lib, key32, st32)
				registerIntSpillVariant(lib, key32, st32, dst)

				key64 := Key{Opcode: c.opcode64, NumIntRegs: numIntRegs, NumFloatRegs: numFloatRegs}
				st64 := buildFloatCompareStencil(x86.AUCOMISD, c.setInst, lhs, rhs, dst, numIntRegs, numFloatRegs)
				mustRegister(lib, key64, st64)
				registerIntSpillVariant(lib, key64, st64, dst)
			}
		}
	}
}

func buildFloatCompareStencil(cmpInst, setInst obj.As, lhs, rhs, dst int16, numIntRegs, numFloatRegs int) *Stencil {
	b, err := asmx86.NewBuilder(32)
	if err != nil {
		panic(err)
	}
	b.RegReg(cmpInst, rhs, lhs)
	setP := b.Prog()
	setP.As = setInst
	setP.To.Type = obj.TYPE_REG
	setP.To.Reg = dst
	b.Add(setP)
	b.RegReg(x86.AMOVBLZX, dst, dst)
	code, err := b.Assemble()
	if err != nil {
		panic(err)
	}
	return &Stencil{
		Code:        code,
		EntryInts:   numIntRegs,
		ExitInts:    numIntRegs + 1,
		EntryFloats: numFloatRegs,
		ExitFloats:  numFloatRegs - 2,
	}
}

// registerFloatConst builds f32.const/f64.const stencils. x86 has no
// move-float-immediate-to-xmm form, so the bit pattern is staged through
// the BX scratch register (unused by the int window itself) and then
// moved into the destination xmm register with a GPR<->XMM move, exactly
// as the Go assembler itself overloads MOVL/MOVQ for 32/64-bit GPR<->XMM
// transfers.
func registerFloatConst(lib *Library) {
	for _, numFloatRegs := range []int{0, 1, 2} {
		dst := asmx86.FloatRegByIndex(numFloatRegs)

		b32, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p32 := b32.ConstReg(x86.AMOVL, 0, asmx86.BX)
		b32.RegReg(x86.AMOVL, asmx86.BX, dst)
		code32, err := b32.Assemble()
		if err != nil {
			panic(err)
		}
		key32 := Key{Opcode: module.OpcodeF32Const, NumFloatRegs: numFloatRegs}
		st32 := &Stencil{
			Code:        code32,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p32.Pc), Ordinal: OrdinalImmediate}},
			EntryFloats: numFloatRegs,
			ExitFloats:  numFloatRegs + 1,
		}
		mustRegister(lib, key32, st32)
		registerFloatSpillVariant(lib, key32, st32, dst)

		b64, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p64 := b64.ConstReg(x86.AMOVQ, 0, asmx86.BX)
		b64.RegReg(x86.AMOVQ, asmx86.BX, dst)
		code64, err := b64.Assemble()
		if err != nil {
			panic(err)
		}
		key64 := Key{Opcode: module.OpcodeF64Const, NumFloatRegs: numFloatRegs}
		st64 := &Stencil{
			Code:        code64,
			Relocations: []Relocation{{Kind: RelocImm64, Offset: int(p64.Pc), Ordinal: OrdinalImmediate}},
			EntryFloats: numFloatRegs,
			ExitFloats:  numFloatRegs + 1,
		}
		mustRegister(lib, key64, st64)
		registerFloatSpillVariant(lib, key64, st64, dst)
	}
}

// registerFloatLocalAccess mirrors registerLocalAccess, addressing
// [FrameBaseReg+disp] directly with an xmm register operand: f32 and f64
// locals share the same 8-byte slot width as int locals (frameLayout's
// uniform slotSize), and MOVSD's plain 8-byte bit copy preserves an
// f32's low-32-bit pattern exactly, since every f32 arithmetic stencil
// only ever reads/writes the low 32 bits of its xmm operands.
func registerFloatLocalAccess(lib *Library) {
	for _, numFloatRegs := range []int{0, 1, 2} {
		dst := asmx86.FloatRegByIndex(numFloatRegs)
		b, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p := b.MemReg(x86.AMOVSD, asmx86.FrameBaseReg, 0, dst)
		code, err := b.Assemble()
		if err != nil {
			panic(err)
		}
		key := FloatVariantKey(module.OpcodeLocalGet, numFloatRegs, false)
		st := &Stencil{
			Code:        code,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
			EntryFloats: numFloatRegs,
			ExitFloats:  numFloatRegs + 1,
		}
		mustRegister(lib, key, st)
		registerFloatSpillVariant(lib, key, st, dst)
	}
	for _, numFloatRegs := range []int{1, 2, 3} {
		src := asmx86.FloatRegByIndex(numFloatRegs - 1)
		for _, opcode := range []byte{module.OpcodeLocalSet, module.OpcodeLocalTee} {
			b, err := asmx86.NewBuilder(16)
			if err != nil {
				panic(err)
			}
			p := b.RegMem(x86.AMOVSD, src, asmx86.FrameBaseReg, 0)
			code, err := b.Assemble()
			if err != nil {
				panic(err)
			}
			exitFloats := numFloatRegs - 1
			if opcode == module.OpcodeLocalTee {
				exitFloats = numFloatRegs
			}
			mustRegister(lib, Key{Opcode: opcode, NumFloatRegs: numFloatRegs, floatVariant: true}, &Stencil{
				Code:        code,
				Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
				EntryFloats: numFloatRegs,
				ExitFloats:  exitFloats,
			})
		}
	}
}

// registerFloatGlobalAccess mirrors registerGlobalAccess for float
// globals, addressing the same negative metadata region off MemBaseReg.
func registerFloatGlobalAccess(lib *Library) {
	for _, numFloatRegs := range []int{0, 1, 2} {
		dst := asmx86.FloatRegByIndex(numFloatRegs)
		b, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p := b.MemReg(x86.AMOVSD, asmx86.MemBaseReg, 0, dst)
		code, err := b.Assemble()
		if err != nil {
			panic(err)
		}
		mustRegister(lib, Key{Opcode: module.OpcodeGlobalGet, NumFloatRegs: numFloatRegs, floatVariant: true}, &Stencil{
			Code:        code,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
			EntryFloats: numFloatRegs,
			ExitFloats:  numFloatRegs + 1,
		})
	}
	for _, numFloatRegs := range []int{1, 2, 3} {
		src := asmx86.FloatRegByIndex(numFloatRegs - 1)
		b, err := asmx86.NewBuilder(16)
		if err != nil {
			panic(err)
		}
		p := b.RegMem(x86.AMOVSD, src, asmx86.MemBaseReg, 0)
		code, err := b.Assemble()
		if err != nil {
			panic(err)
		}
		mustRegister(lib, Key{Opcode: module.OpcodeGlobalSet, NumFloatRegs: numFloatRegs, floatVariant: true}, &Stencil{
			Code:        code,
			Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 4, Ordinal: OrdinalImmediate}},
			EntryFloats: numFloatRegs,
			ExitFloats:  numFloatRegs - 1,
		})
	}
}

// registerFloatMemoryAccess mirrors registerMemoryAccess: the effective
// address is [MemBaseReg + popped address register] (an int), the value
// loaded or stored lives in the float window.
func registerFloatMemoryAccess(lib *Library) {
	loads := []struct {
		opcode byte
		inst   obj.As
	}{
		{module.OpcodeF32Load, x86.AMOVSS},
		{module.OpcodeF64Load, x86.AMOVSD},
	}
	for _, l := range loads {
		for _, numIntRegs := range []int{1, 2, 3} {
			for _, numFloatRegs := range []int{0, 1, 2} {
				addr := asmx86.IntRegByIndex(numIntRegs - 1)
				dst := asmx86.FloatRegByIndex(numFloatRegs)
				b, err := asmx86.NewBuilder(16)
				if err != nil {
					panic(err)
				}
				p := b.Prog()
				p.As = l.inst
				p.From.Type = obj.TYPE_MEM
				p.From.Reg = asmx86.MemBaseReg
				p.From.Index = addr
				p.From.Scale = 1
				p.To.Type = obj.TYPE_REG
				p.To.Reg = dst
				b.Add(p)
				code, err := b.Assemble()
				if err != nil {
					panic(err)
				}
				key := Key{Opcode: l.opcode, NumIntRegs: numIntRegs, NumFloatRegs: numFloatRegs}
				st := &Stencil{
					Code:        code,
					Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 3, Ordinal: OrdinalImmediate}},
					EntryInts:   numIntRegs,
					ExitInts:    numIntRegs - 1,
					EntryFloats: numFloatRegs,
					ExitFloats:  numFloatRegs + 1,
				}
				mustRegister(lib, key, st)

				spillKey := key
				spillKey.SpillOutput = true
				sb, err := asmx86.NewBuilder(16)
				if err != nil {
					panic(err)
				}
				sp := sb.RegMem(x86.AMOVSD, dst, asmx86.FrameBaseReg, 0)
				extra, err := sb.Assemble()
				if err != nil {
					panic(err)
				}
				spillCode := append(append([]byte{}, code...), extra...)
				spillRelocs := append([]Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 3, Ordinal: OrdinalImmediate}},
					Relocation{Kind: RelocImm32, Offset: len(code) + int(sp.Pc) + 4, Ordinal: OrdinalFloatStackTop})
				mustRegister(lib, spillKey, &Stencil{
					Code:        spillCode,
					Relocations: spillRelocs,
					EntryInts:   numIntRegs,
					ExitInts:    numIntRegs - 1,
					EntryFloats: numFloatRegs,
					ExitFloats:  numFloatRegs,
				})
			}
		}
	}

	stores := []struct {
		opcode byte
		inst   obj.As
	}{
		{module.OpcodeF32Store, x86.AMOVSS},
		{module.OpcodeF64Store, x86.AMOVSD},
	}
	for _, s := range stores {
		for _, numIntRegs := range []int{1, 2, 3} {
			for _, numFloatRegs := range []int{1, 2, 3} {
				addr := asmx86.IntRegByIndex(numIntRegs - 1)
				val := asmx86.FloatRegByIndex(numFloatRegs - 1)
				b, err := asmx86.NewBuilder(16)
				if err != nil {
					panic(err)
				}
				p := b.Prog()
				p.As = s.inst
				p.To.Type = obj.TYPE_MEM
				p.To.Reg = asmx86.MemBaseReg
				p.To.Index = addr
				p.To.Scale = 1
				p.From.Type = obj.TYPE_REG
				p.From.Reg = val
				b.Add(p)
				code, err := b.Assemble()
				if err != nil {
					panic(err)
				}
				mustRegister(lib, Key{Opcode: s.opcode, NumIntRegs: numIntRegs, NumFloatRegs: numFloatRegs}, &Stencil{
					Code:        code,
					Relocations: []Relocation{{Kind: RelocImm32, Offset: int(p.Pc) + 3, Ordinal: OrdinalImmediate}},
					EntryInts:   numIntRegs,
					ExitInts:    numIntRegs - 1,
					EntryFloats: numFloatRegs,
					ExitFloats:  numFloatRegs - 1,
				})
			}
		}
	}
}

// registerMisc fills in the handful of zero/near-zero-cost opcodes: nop
// does nothing, drop is pure bookkeeping handled by the compiler (an
// empty stencil is still registered so Library.Has reports it as
// supported), and unreachable/the shared trap point is two raw UD2 bytes
// that golang-asm's amd64 backend doesn't expose a mnemonic for.
func registerMisc(lib *Library) {
	mustRegister(lib, Key{Opcode: module.OpcodeNop}, &Stencil{Code: nil})
	mustRegister(lib, Key{Opcode: module.OpcodeUnreachable}, &Stencil{Code: []byte{0x0f, 0x0b}})

	for _, numIntRegs := range []int{1, 2, 3} {
		mustRegister(lib, Key{Opcode: module.OpcodeDrop, NumIntRegs: numIntRegs}, &Stencil{
			Code:      nil,
			EntryInts: numIntRegs,
			ExitInts:  numIntRegs - 1,
		})
	}
	for _, numFloatRegs := range []int{1, 2, 3} {
		mustRegister(lib, Key{Opcode: module.OpcodeDrop, NumFloatRegs: numFloatRegs, floatVariant: true}, &Stencil{
			Code:        nil,
			EntryFloats: numFloatRegs,
			ExitFloats:  numFloatRegs - 1,
		})
	}
}

// registerIntSpillVariant builds the SpillOutput:true sibling of an
// already-registered int-producing key: the same operand-consuming code,
// followed by a store of the result (instead of leaving it in destReg)
// to the current int eval-stack slot, addressed via the
// OrdinalIntStackTop relocation the emission pass supplies per spilled
// producer. Exit occupancy is unchanged from entry occupancy, since the
// value never claims a window register at all.
func registerIntSpillVariant(lib *Library, key Key, base *Stencil, destReg int16) {
	spillKey := key
	spillKey.SpillOutput = true

	b, err := asmx86.NewBuilder(16)
	if err != nil {
		panic(err)
	}
	p := b.RegMem(x86.AMOVQ, destReg, asmx86.FrameBaseReg, 0)
	extra, err := b.Assemble()
	if err != nil {
		panic(err)
	}

	code := make([]byte, 0, len(base.Code)+len(extra))
	code = append(code, base.Code...)
	code = append(code, extra...)
	relocs := append([]Relocation{}, base.Relocations...)
	relocs = append(relocs, Relocation{Kind: RelocImm32, Offset: len(base.Code) + int(p.Pc) + 4, Ordinal: OrdinalIntStackTop})

	mustRegister(lib, spillKey, &Stencil{
		Code:        code,
		Relocations: relocs,
		EntryInts:   base.EntryInts,
		// base.ExitInts already counts the one register the non-spilled
		// variant would have claimed for the result; subtracting it back
		// out gives the occupancy after every operand is consumed and
		// nothing new lands in the window, whether this producer popped
		// zero operands (const, local.get) or more (a binop's two).
		ExitInts:    base.ExitInts - 1,
		EntryFloats: base.EntryFloats,
		ExitFloats:  base.ExitFloats,
	})
}

// registerFloatSpillVariant mirrors registerIntSpillVariant for a
// float-producing key, storing to the float eval-stack slot instead.
func registerFloatSpillVariant(lib *Library, key Key, base *Stencil, destReg int16) {
	spillKey := key
	spillKey.SpillOutput = true

	b, err := asmx86.NewBuilder(16)
	if err != nil {
		panic(err)
	}
	p := b.RegMem(x86.AMOVSD, destReg, asmx86.FrameBaseReg, 0)
	extra, err := b.Assemble()
	if err != nil {
		panic(err)
	}

	code := make([]byte, 0, len(base.Code)+len(extra))
	code = append(code, base.Code...)
	code = append(code, extra...)
	relocs := append([]Relocation{}, base.Relocations...)
	relocs = append(relocs, Relocation{Kind: RelocImm32, Offset: len(base.Code) + int(p.Pc) + 4, Ordinal: OrdinalFloatStackTop})

	mustRegister(lib, spillKey, &Stencil{
		Code:        code,
		Relocations: relocs,
		EntryInts:   base.EntryInts,
		ExitInts:    base.ExitInts,
		EntryFloats: base.EntryFloats,
		ExitFloats:  base.ExitFloats - 1,
	})
}

func mustRegister(lib *Library, k Key, s *Stencil) {
	if s == nil {
		panic(fmt.Sprintf("stencil: nil stencil for %s", k))
	}
	lib.Register(k, s)
}
