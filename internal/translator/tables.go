package translator

import (
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/ir"
)

type arithEntry struct {
	op   ir.Opcode
	kind ir.ValueKind
}

// typedArithTable maps a typed-arithmetic bytecode opcode to its
// (IR opcode, value kind) pair, per spec §6's opcode table.
var typedArithTable = map[bytecode.Op]arithEntry{
	bytecode.OpAddI32Typed: {ir.OpAdd, ir.ValueI32}, bytecode.OpSubI32Typed: {ir.OpSub, ir.ValueI32},
	bytecode.OpMulI32Typed: {ir.OpMul, ir.ValueI32}, bytecode.OpDivI32Typed: {ir.OpDiv, ir.ValueI32},
	bytecode.OpModI32Typed: {ir.OpMod, ir.ValueI32},

	bytecode.OpAddI64Typed: {ir.OpAdd, ir.ValueI64}, bytecode.OpSubI64Typed: {ir.OpSub, ir.ValueI64},
	bytecode.OpMulI64Typed: {ir.OpMul, ir.ValueI64}, bytecode.OpDivI64Typed: {ir.OpDiv, ir.ValueI64},
	bytecode.OpModI64Typed: {ir.OpMod, ir.ValueI64},

	bytecode.OpAddU32Typed: {ir.OpAdd, ir.ValueU32}, bytecode.OpSubU32Typed: {ir.OpSub, ir.ValueU32},
	bytecode.OpMulU32Typed: {ir.OpMul, ir.ValueU32}, bytecode.OpDivU32Typed: {ir.OpDiv, ir.ValueU32},
	bytecode.OpModU32Typed: {ir.OpMod, ir.ValueU32},

	bytecode.OpAddU64Typed: {ir.OpAdd, ir.ValueU64}, bytecode.OpSubU64Typed: {ir.OpSub, ir.ValueU64},
	bytecode.OpMulU64Typed: {ir.OpMul, ir.ValueU64}, bytecode.OpDivU64Typed: {ir.OpDiv, ir.ValueU64},
	bytecode.OpModU64Typed: {ir.OpMod, ir.ValueU64},

	bytecode.OpAddF64Typed: {ir.OpAdd, ir.ValueF64}, bytecode.OpSubF64Typed: {ir.OpSub, ir.ValueF64},
	bytecode.OpMulF64Typed: {ir.OpMul, ir.ValueF64}, bytecode.OpDivF64Typed: {ir.OpDiv, ir.ValueF64},
	bytecode.OpModF64Typed: {ir.OpMod, ir.ValueF64},
}

// typedCompareTable maps a typed-comparison bytecode opcode to its
// (IR opcode, operand value kind) pair; the IR instruction's Kind is
// that operand kind, while the destination register is tracked as Bool
// (comparisons always produce Bool, spec §4.2).
var typedCompareTable = map[bytecode.Op]arithEntry{
	bytecode.OpLtI32Typed: {ir.OpCmpLt, ir.ValueI32}, bytecode.OpLeI32Typed: {ir.OpCmpLe, ir.ValueI32},
	bytecode.OpGtI32Typed: {ir.OpCmpGt, ir.ValueI32}, bytecode.OpGeI32Typed: {ir.OpCmpGe, ir.ValueI32},

	bytecode.OpLtI64Typed: {ir.OpCmpLt, ir.ValueI64}, bytecode.OpLeI64Typed: {ir.OpCmpLe, ir.ValueI64},
	bytecode.OpGtI64Typed: {ir.OpCmpGt, ir.ValueI64}, bytecode.OpGeI64Typed: {ir.OpCmpGe, ir.ValueI64},

	bytecode.OpLtU32Typed: {ir.OpCmpLt, ir.ValueU32}, bytecode.OpLeU32Typed: {ir.OpCmpLe, ir.ValueU32},
	bytecode.OpGtU32Typed: {ir.OpCmpGt, ir.ValueU32}, bytecode.OpGeU32Typed: {ir.OpCmpGe, ir.ValueU32},

	bytecode.OpLtU64Typed: {ir.OpCmpLt, ir.ValueU64}, bytecode.OpLeU64Typed: {ir.OpCmpLe, ir.ValueU64},
	bytecode.OpGtU64Typed: {ir.OpCmpGt, ir.ValueU64}, bytecode.OpGeU64Typed: {ir.OpCmpGe, ir.ValueU64},

	bytecode.OpLtF64Typed: {ir.OpCmpLt, ir.ValueF64}, bytecode.OpLeF64Typed: {ir.OpCmpLe, ir.ValueF64},
	bytecode.OpGtF64Typed: {ir.OpCmpGt, ir.ValueF64}, bytecode.OpGeF64Typed: {ir.OpCmpGe, ir.ValueF64},
}

// isSupportedFusedKind reports whether k is a kind the fused-loop
// opcodes accept (spec §4.2's INC_CMP_JMP/DEC_CMP_JMP handling): i32,
// i64, u32, u64 are the only supported kinds.
func isSupportedFusedKind(k ir.ValueKind) bool {
	switch k {
	case ir.ValueI32, ir.ValueI64, ir.ValueU32, ir.ValueU64:
		return true
	default:
		return false
	}
}
