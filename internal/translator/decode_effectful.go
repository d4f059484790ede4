package translator

import (
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/ir"
)

// decodeEffectful handles the opcodes with externally visible effects or
// bespoke operand shapes: each is translated into its own IR instruction
// without looking through the effect. Only the kind(s) the operation
// reads or produces are checked against the rollout mask.
func (t *translator) decodeEffectful(op bytecode.Op, offset uint32) (Result, bool) {
	switch op {
	case bytecode.OpPrintR:
		reg, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		kind := t.registerKinds[reg]
		return t.appendInstr(ir.Instr{Op: ir.OpPrint, Kind: kind, BytecodeOffset: offset,
			Operand: ir.Operand{Src: uint16(reg)}}, op.Name())

	case bytecode.OpPrintMultiR:
		argc, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		args := make([]uint16, argc)
		for i := range args {
			b, err := t.cursor.ReadU8()
			if err != nil {
				return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
			}
			args[i] = uint16(b)
		}
		return t.appendInstr(ir.Instr{Op: ir.OpPrint, Kind: ir.ValueBoxed, BytecodeOffset: offset,
			Operand: ir.Operand{Args: args}}, op.Name())

	case bytecode.OpAssertEqR:
		dst, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		label, err := t.cursor.ReadU16()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		actual, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		expected, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		kind, ok := unifyFusedKinds(t.registerKinds[actual], t.registerKinds[expected])
		if !ok {
			kind = ir.ValueBoxed
		}
		return t.appendInstr(ir.Instr{Op: ir.OpAssertEq, Kind: kind, BytecodeOffset: offset,
			Operand: ir.Operand{Dst: uint16(dst), Lhs: uint16(actual), Rhs: uint16(expected), AssertLabel: label}}, op.Name())

	case bytecode.OpCallNativeR:
		nativeIdx, err := t.cursor.ReadU16()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		firstArg, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		argc, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		dst, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		args := make([]uint16, argc)
		for i := range args {
			args[i] = uint16(firstArg) + uint16(i)
		}
		t.registerKinds[dst] = ir.ValueBoxed
		return t.appendInstr(ir.Instr{Op: ir.OpCallNative, Kind: ir.ValueBoxed, BytecodeOffset: offset,
			Operand: ir.Operand{Dst: uint16(dst), NativeIndex: nativeIdx, Args: args}}, op.Name())

	case bytecode.OpArrayPushR:
		array, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		val, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		return t.appendInstr(ir.Instr{Op: ir.OpArrayPush, Kind: ir.ValueBoxed, BytecodeOffset: offset,
			Operand: ir.Operand{Dst: uint16(array), Src: uint16(val)}}, op.Name())

	case bytecode.OpTimeStamp:
		dst, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
		}
		t.registerKinds[dst] = ir.ValueF64
		return t.appendInstr(ir.Instr{Op: ir.OpTimeStamp, Kind: ir.ValueF64, BytecodeOffset: offset,
			Operand: ir.Operand{Dst: uint16(dst)}}, op.Name())

	case bytecode.OpConcatR:
		dst, lhs, rhs, err := t.readDstLhsRhs()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueString, offset), false
		}
		if t.registerKinds[lhs] != ir.ValueString || t.registerKinds[rhs] != ir.ValueString {
			return t.fail(ir.StatusUnsupportedValueKind, op.Name(), ir.ValueString, offset), false
		}
		if res, ok := t.checkRollout(ir.ValueString, op.Name(), offset); !ok {
			return res, false
		}
		t.registerKinds[dst] = ir.ValueString
		return t.appendInstr(ir.Instr{Op: ir.OpConcatString, Kind: ir.ValueString, BytecodeOffset: offset,
			Operand: ir.Operand{Dst: uint16(dst), Lhs: uint16(lhs), Rhs: uint16(rhs)}}, op.Name())

	case bytecode.OpToStringR:
		dst, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueString, offset), false
		}
		src, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueString, offset), false
		}
		if res, ok := t.checkRollout(ir.ValueString, op.Name(), offset); !ok {
			return res, false
		}
		t.registerKinds[dst] = ir.ValueString
		return t.appendInstr(ir.Instr{Op: ir.OpToString, Kind: ir.ValueString, BytecodeOffset: offset,
			Operand: ir.Operand{Dst: uint16(dst), Src: uint16(src)}}, op.Name())

	case bytecode.OpI32ToI64R, bytecode.OpU32ToU64R, bytecode.OpU32ToI32R:
		return t.decodeWideningConvert(op, offset)

	default:
		return t.fail(ir.StatusUnhandledOpcode, op.Name(), ir.ValueBoxed, offset), false
	}
}

// decodeWideningConvert handles I32_TO_I64_R/U32_TO_U64_R/U32_TO_I32_R
// (dst:u8, src:u8, _:u8): the trailing byte is unused padding.
func (t *translator) decodeWideningConvert(op bytecode.Op, offset uint32) (Result, bool) {
	dst, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
	}
	src, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
	}
	if _, err := t.cursor.ReadU8(); err != nil {
		return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset), false
	}

	var irOp ir.Opcode
	var dstKind ir.ValueKind
	switch op {
	case bytecode.OpI32ToI64R:
		irOp, dstKind = ir.OpConvI32ToI64, ir.ValueI64
	case bytecode.OpU32ToU64R:
		irOp, dstKind = ir.OpConvU32ToU64, ir.ValueU64
	default: // OpU32ToI32R
		irOp, dstKind = ir.OpConvU32ToI32, ir.ValueI32
	}
	if res, ok := t.checkRollout(dstKind, op.Name(), offset); !ok {
		return res, false
	}
	t.registerKinds[dst] = dstKind
	return t.appendInstr(ir.Instr{Op: irOp, Kind: dstKind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), Src: uint16(src)}}, op.Name())
}
