package compiler

import "github.com/stencilc/stencilc/internal/module"

// simpleOp describes the stack effect of an opcode whose immediate
// operands (if any) don't affect control flow: a fixed set of popped
// kinds followed by an optional single pushed kind. Opcodes with
// structural effects (blocks, branches, calls) are handled directly in
// the pre-pass and emission walks instead of through this table.
type simpleOp struct {
	pop  []Kind
	push []Kind
}

var simpleOps = map[byte]simpleOp{
	module.OpcodeI32Add: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Sub: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Mul: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32And: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Or:  {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Xor: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Shl:  {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32ShrS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32ShrU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Rotl: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Rotr: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},

	module.OpcodeI64Add: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Sub: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Mul: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64And: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Or:  {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Xor: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Shl:  {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64ShrS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64ShrU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Rotl: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Rotr: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},

	module.OpcodeI32Eq: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Ne: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32LtS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32LtU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32GtS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32GtU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32LeS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32LeU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32GeS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32GeU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},

	module.OpcodeI64Eq: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Ne: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64LtS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64LtU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64GtS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64GtU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64LeS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64LeU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64GeS: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64GeU: {pop: []Kind{KindInt, KindInt}, push: []Kind{KindInt}},

	module.OpcodeI32Load: {pop: []Kind{KindInt}, push: []Kind{KindInt}},
	module.OpcodeI64Load: {pop: []Kind{KindInt}, push: []Kind{KindInt}},
	module.OpcodeI32Store: {pop: []Kind{KindInt, KindInt}},
	module.OpcodeI64Store: {pop: []Kind{KindInt, KindInt}},

	module.OpcodeF32Add: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},
	module.OpcodeF64Add: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},
	module.OpcodeF32Sub: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},
	module.OpcodeF64Sub: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},
	module.OpcodeF32Mul: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},
	module.OpcodeF64Mul: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},
	module.OpcodeF32Div: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},
	module.OpcodeF64Div: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindFloat}},

	module.OpcodeF32Eq: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF64Eq: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF32Ne: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF64Ne: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF32Lt: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF64Lt: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF32Gt: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF64Gt: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF32Le: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF64Le: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF32Ge: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},
	module.OpcodeF64Ge: {pop: []Kind{KindFloat, KindFloat}, push: []Kind{KindInt}},

	module.OpcodeF32Load: {pop: []Kind{KindInt}, push: []Kind{KindFloat}},
	module.OpcodeF64Load: {pop: []Kind{KindInt}, push: []Kind{KindFloat}},
	module.OpcodeF32Store: {pop: []Kind{KindInt, KindFloat}},
	module.OpcodeF64Store: {pop: []Kind{KindInt, KindFloat}},

	module.OpcodeNop:         {},
	module.OpcodeUnreachable: {},
	module.OpcodeMemorySize:  {push: []Kind{KindInt}},
}

// hasFloat reports whether any operand or result kind of so is float-class,
// the discriminator table.go's registration functions use to decide
// whether a Key must carry real occupancy in both register windows
// (registerFloatBinOps, registerFloatCompares, registerFloatMemoryAccess)
// or can leave the other dimension at its implicit zero (every pure-int
// registration function).
func hasFloat(so simpleOp) bool {
	for _, k := range so.pop {
		if k == KindFloat {
			return true
		}
	}
	for _, k := range so.push {
		if k == KindFloat {
			return true
		}
	}
	return false
}
