package translator

import (
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/ir"
)

// decodeShortJump handles JUMP_SHORT (disp:u8 forward) and
// JUMP_IF_NOT_SHORT (pred:u8, disp:u8): both append the corresponding IR
// jump with the raw displacement without following the target — the
// translator is linear by design (spec §4.2 step 2).
func (t *translator) decodeShortJump(op bytecode.Op, offset uint32) (Result, bool) {
	irOp := ir.OpJumpShort
	var pred byte
	if op == bytecode.OpJumpIfNotShort {
		irOp = ir.OpJumpIfNotShort
		var err error
		pred, err = t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
	}
	disp, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
	}
	return t.appendInstr(ir.Instr{Op: irOp, Kind: ir.ValueBoxed, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(pred), Displacement: int32(disp)}}, op.Name())
}

// decodeJumpIfNotR handles JUMP_IF_NOT_R (pred:u8, disp:u16): lowered to
// JumpIfNotShort iff disp <= 255; otherwise fails UNSUPPORTED_LOOP_SHAPE
// with value_kind = Bool. This ambiguity is preserved verbatim from the
// C source per spec §9 rather than generalized.
func (t *translator) decodeJumpIfNotR(offset uint32) (Result, bool) {
	pred, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpJumpIfNotR.Name(), ir.ValueBoxed, offset), false
	}
	disp, err := t.cursor.ReadU16()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpJumpIfNotR.Name(), ir.ValueBoxed, offset), false
	}
	if disp > 255 {
		return t.fail(ir.StatusUnsupportedLoopShape, bytecode.OpJumpIfNotR.Name(), ir.ValueBool, offset), false
	}
	return t.appendInstr(ir.Instr{Op: ir.OpJumpIfNotShort, Kind: ir.ValueBoxed, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(pred), Displacement: int32(disp)}}, bytecode.OpJumpIfNotR.Name())
}

// decodeBranchTyped handles BRANCH_TYPED (_:u8, _:u8, pred:u8, disp:u16):
// the first two bytes are ignored, per spec §6's opcode table.
func (t *translator) decodeBranchTyped(offset uint32) (Result, bool) {
	if _, err := t.cursor.ReadU8(); err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpBranchTyped.Name(), ir.ValueBoxed, offset), false
	}
	if _, err := t.cursor.ReadU8(); err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpBranchTyped.Name(), ir.ValueBoxed, offset), false
	}
	pred, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpBranchTyped.Name(), ir.ValueBoxed, offset), false
	}
	disp, err := t.cursor.ReadU16()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpBranchTyped.Name(), ir.ValueBoxed, offset), false
	}
	return t.appendInstr(ir.Instr{Op: ir.OpJumpIfNotShort, Kind: ir.ValueBoxed, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(pred), Displacement: int32(disp)}}, bytecode.OpBranchTyped.Name())
}

// decodeFusedLoop handles INC_CMP_JMP/DEC_CMP_JMP (counter:u8, limit:u8,
// disp:i16): the counter and limit must resolve to the same integer
// kind (Boxed is coerced into the known kind when one side is typed);
// supported kinds are i32, i64, u32, u64 (spec §4.2). This is the loop's
// back edge, so it always terminates translation of this block.
func (t *translator) decodeFusedLoop(op bytecode.Op, offset uint32) Result {
	counter, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset)
	}
	limit, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset)
	}
	disp, err := t.cursor.ReadI16()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset)
	}

	counterKind := t.registerKinds[counter]
	limitKind := t.registerKinds[limit]
	kind, ok := unifyFusedKinds(counterKind, limitKind)
	if !ok {
		return t.fail(ir.StatusUnsupportedValueKind, op.Name(), ir.ValueBoxed, offset)
	}
	if !isSupportedFusedKind(kind) {
		return t.fail(ir.StatusUnsupportedValueKind, op.Name(), kind, offset)
	}
	if res, allowed := t.checkRollout(kind, op.Name(), offset); !allowed {
		return res
	}

	irOp, step, dir := ir.OpIncCmpJump, int32(1), ir.CompareLess
	if op == bytecode.OpDecCmpJmp {
		irOp, step, dir = ir.OpDecCmpJump, int32(-1), ir.CompareGreater
	}
	t.registerKinds[counter] = kind

	t.program.Append(ir.Instr{Op: irOp, Kind: kind, BytecodeOffset: offset, Operand: ir.Operand{
		Dst: uint16(counter), Lhs: uint16(counter), Rhs: uint16(limit),
		Displacement: int32(disp), Step: step, CompareDir: dir,
	}})
	t.insertSafepointIfPending(offset)
	return t.ok()
}

// unifyFusedKinds implements "the counter and limit must resolve to the
// same integer kind (boxed is coerced into the known kind when one side
// is typed)".
func unifyFusedKinds(a, b ir.ValueKind) (ir.ValueKind, bool) {
	switch {
	case a == b:
		return a, true
	case a == ir.ValueBoxed:
		return b, true
	case b == ir.ValueBoxed:
		return a, true
	default:
		return ir.ValueBoxed, false
	}
}
