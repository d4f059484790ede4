package translator

import (
	"math"

	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/value"
)

// decodeLoadConst handles untyped LOAD_CONST: the referenced constant
// must be a String, otherwise fail UNSUPPORTED_CONSTANT_KIND (spec
// §4.2). The constant index is validated against chunk.constants.count
// first.
func (t *translator) decodeLoadConst(offset uint32) (Result, bool) {
	dst, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpLoadConst.Name(), ir.ValueBoxed, offset), false
	}
	idx, err := t.cursor.ReadU16()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpLoadConst.Name(), ir.ValueBoxed, offset), false
	}
	cst, err := t.cursor.Constant(idx)
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpLoadConst.Name(), ir.ValueBoxed, offset), false
	}
	if cst.Kind != value.KindString {
		return t.fail(ir.StatusUnsupportedConstantKind, bytecode.OpLoadConst.Name(), ir.ValueString, offset), false
	}
	t.registerKinds[dst] = ir.ValueString
	immBits := uint64(0)
	if ptr, ok := cst.Heap.(interface{ Pointer() uintptr }); ok {
		immBits = uint64(ptr.Pointer())
	}
	return t.appendInstr(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueString, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), ConstantIndex: idx, ImmediateBits: immBits}}, bytecode.OpLoadConst.Name())
}

// decodeTypedConst handles LOAD_{I32,I64,U32,U64,F64}_CONST: the literal
// must match the declared kind, encoded as a bit-cast u64 payload (spec
// §4.2/§9 — "the IR should prefer the index form; the immediate-bits
// form is a caching optimization").
func (t *translator) decodeTypedConst(offset uint32, kind ir.ValueKind, expect value.Kind) (Result, bool) {
	dst, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, "LOAD_TYPED_CONST", kind, offset), false
	}
	idx, err := t.cursor.ReadU16()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, "LOAD_TYPED_CONST", kind, offset), false
	}
	cst, err := t.cursor.Constant(idx)
	if err != nil {
		return t.fail(ir.StatusInvalidInput, "LOAD_TYPED_CONST", kind, offset), false
	}
	if cst.Kind != expect {
		return t.fail(ir.StatusUnsupportedConstantKind, "LOAD_TYPED_CONST", kind, offset), false
	}
	t.registerKinds[dst] = kind
	var bits uint64
	if kind == ir.ValueF64 {
		bits = math.Float64bits(cst.AsF64())
	} else {
		bits = uint64(cst.I64)
	}
	return t.appendInstr(ir.Instr{Op: ir.OpLoadConst, Kind: kind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), ConstantIndex: idx, ImmediateBits: bits}}, "LOAD_TYPED_CONST")
}

// decodeTypedMove handles MOVE_I32/I64/U32/F64/U64: the kind is carried
// explicitly by the opcode.
func (t *translator) decodeTypedMove(offset uint32, irOp ir.Opcode, kind ir.ValueKind) (Result, bool) {
	dst, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, "MOVE_TYPED", kind, offset), false
	}
	src, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, "MOVE_TYPED", kind, offset), false
	}
	t.registerKinds[dst] = kind
	return t.appendInstr(ir.Instr{Op: irOp, Kind: kind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), Src: uint16(src)}}, "MOVE_TYPED")
}

// decodeGenericMove handles generic MOVE: of a register with tracked
// kind K emits the kind-specific move; of a register with Boxed kind,
// emits move_value (spec §4.2).
func (t *translator) decodeGenericMove(offset uint32) (Result, bool) {
	dst, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpMove.Name(), ir.ValueBoxed, offset), false
	}
	src, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpMove.Name(), ir.ValueBoxed, offset), false
	}
	kind := t.registerKinds[src]
	irOp := kindSpecificMove(kind)
	t.registerKinds[dst] = kind
	if t.iteratorKinds[src] != ir.IterNone && kind == ir.ValueBoxed {
		t.iteratorKinds[dst] = t.iteratorKinds[src]
	}
	return t.appendInstr(ir.Instr{Op: irOp, Kind: kind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), Src: uint16(src)}}, bytecode.OpMove.Name())
}

func kindSpecificMove(kind ir.ValueKind) ir.Opcode {
	switch kind {
	case ir.ValueI32:
		return ir.OpMoveI32
	case ir.ValueI64:
		return ir.OpMoveI64
	case ir.ValueU32:
		return ir.OpMoveU32
	case ir.ValueU64:
		return ir.OpMoveU64
	case ir.ValueF64:
		return ir.OpMoveF64
	default:
		return ir.OpMoveValue
	}
}

// decodeFrameMove handles STORE_FRAME/LOAD_FRAME/MOVE_FRAME
// (frame_off:u8, reg:u8): translate into kind-aware moves against a
// frame-window base register, dst adjusted by FRAME_REG_START,
// preserving iterator kind when the value is boxed (spec §4.2/§6).
func (t *translator) decodeFrameMove(op bytecode.Op, offset uint32) (Result, bool) {
	frameOff, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
	}
	reg, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
	}

	frameReg := uint16(frameOff) + value.FrameRegStart
	var dst, src uint16
	var kind ir.ValueKind
	switch op {
	case bytecode.OpStoreFrame:
		dst, src = frameReg, uint16(reg)
		kind = t.registerKinds[reg]
		t.registerKinds[frameReg] = kind
	case bytecode.OpLoadFrame:
		dst, src = uint16(reg), frameReg
		kind = t.registerKinds[frameReg]
		t.registerKinds[reg] = kind
	default: // OpMoveFrame
		dst, src = frameReg, uint16(reg)
		kind = t.registerKinds[reg]
		t.registerKinds[frameReg] = kind
	}
	if t.iteratorKinds[src] != ir.IterNone && kind == ir.ValueBoxed {
		t.iteratorKinds[dst] = t.iteratorKinds[src]
	}
	irOp := kindSpecificMove(kind)
	return t.appendInstr(ir.Instr{Op: irOp, Kind: kind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: dst, Src: src}}, op.Name())
}

// decodeTypedArith handles the per-kind typed arithmetic table (spec
// §6): writes to dst update the kind tracker.
func (t *translator) decodeTypedArith(entry arithEntry, offset uint32) (Result, bool) {
	dst, lhs, rhs, err := t.readDstLhsRhs()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, opcodeName(entry.op), entry.kind, offset), false
	}
	t.registerKinds[dst] = entry.kind
	return t.appendInstr(ir.Instr{Op: entry.op, Kind: entry.kind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), Lhs: uint16(lhs), Rhs: uint16(rhs)}}, opcodeName(entry.op))
}

// decodeTypedCompare handles the per-kind typed comparison table: the
// comparison always produces Bool in the dst register tracker, but
// Instr.Kind keeps the *operand* kind (spec §4.2's "Kind... for rollout
// gating and emitter dispatch") since that is what a consumer needs to
// know which typed array lhs/rhs live in — the result kind is always
// Bool for every compare opcode and would tell a consumer nothing.
func (t *translator) decodeTypedCompare(entry arithEntry, offset uint32) (Result, bool) {
	dst, lhs, rhs, err := t.readDstLhsRhs()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, opcodeName(entry.op), entry.kind, offset), false
	}
	if res, ok := t.checkRollout(entry.kind, opcodeName(entry.op), offset); !ok {
		return res, false
	}
	t.registerKinds[dst] = ir.ValueBool
	return t.appendInstr(ir.Instr{Op: entry.op, Kind: entry.kind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), Lhs: uint16(lhs), Rhs: uint16(rhs)}}, opcodeName(entry.op))
}

// decodeUntypedCompare handles EQ_R/NE_R: kind inferred from operand
// tracker, both operands must unify to the same kind (spec §6).
func (t *translator) decodeUntypedCompare(op bytecode.Op, offset uint32) (Result, bool) {
	dst, lhs, rhs, err := t.readDstLhsRhs()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
	}
	kind, ok := unifyFusedKinds(t.registerKinds[lhs], t.registerKinds[rhs])
	if !ok {
		kind = ir.ValueBoxed // heterogeneous operands fall back to the boxed comparison path
	}
	irOp := ir.OpCmpEq
	if op == bytecode.OpNeR {
		irOp = ir.OpCmpNe
	}
	t.registerKinds[dst] = ir.ValueBool
	return t.appendInstr(ir.Instr{Op: irOp, Kind: kind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), Lhs: uint16(lhs), Rhs: uint16(rhs)}}, op.Name())
}

func (t *translator) readDstLhsRhs() (dst, lhs, rhs byte, err error) {
	if dst, err = t.cursor.ReadU8(); err != nil {
		return
	}
	if lhs, err = t.cursor.ReadU8(); err != nil {
		return
	}
	rhs, err = t.cursor.ReadU8()
	return
}

func opcodeName(o ir.Opcode) string { return opcodeNames[o] }

var opcodeNames = map[ir.Opcode]string{
	ir.OpAdd: "ARITH_ADD", ir.OpSub: "ARITH_SUB", ir.OpMul: "ARITH_MUL",
	ir.OpDiv: "ARITH_DIV", ir.OpMod: "ARITH_MOD",
	ir.OpCmpLt: "CMP_LT", ir.OpCmpLe: "CMP_LE", ir.OpCmpGt: "CMP_GT", ir.OpCmpGe: "CMP_GE",
	ir.OpCmpEq: "CMP_EQ", ir.OpCmpNe: "CMP_NE",
}
