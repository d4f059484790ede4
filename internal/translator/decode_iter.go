package translator

import (
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/ir"
)

// decodeRange handles RANGE_R (dst, argc 1-3, a, b, c): produces a boxed
// range iterator and marks dst as Range-kind iterator (spec §4.2/§6).
func (t *translator) decodeRange(offset uint32) (Result, bool) {
	dst, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpRangeR.Name(), ir.ValueBoxed, offset), false
	}
	argc, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpRangeR.Name(), ir.ValueBoxed, offset), false
	}
	if argc < 1 || argc > 3 {
		return t.fail(ir.StatusInvalidInput, bytecode.OpRangeR.Name(), ir.ValueBoxed, offset), false
	}
	var args [3]uint16
	for i := 0; i < int(argc); i++ {
		b, err := t.cursor.ReadU8()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, bytecode.OpRangeR.Name(), ir.ValueBoxed, offset), false
		}
		args[i] = uint16(b)
	}
	t.registerKinds[dst] = ir.ValueBoxed
	t.iteratorKinds[dst] = ir.IterRange
	return t.appendInstr(ir.Instr{Op: ir.OpRange, Kind: ir.ValueBoxed, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), RangeArgc: argc, RangeArgs: args, IterKind: ir.IterRange}}, bytecode.OpRangeR.Name())
}

// decodeGetIter handles GET_ITER_R: inherits/derives iterator kind from
// the source. Range stays range; any integer-valued iterable becomes
// range; everything else becomes generic (spec §4.2).
func (t *translator) decodeGetIter(offset uint32) (Result, bool) {
	dst, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpGetIterR.Name(), ir.ValueBoxed, offset), false
	}
	src, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpGetIterR.Name(), ir.ValueBoxed, offset), false
	}
	var iterKind ir.IterKind
	switch {
	case t.iteratorKinds[src] == ir.IterRange:
		iterKind = ir.IterRange
	case isSupportedFusedKind(t.registerKinds[src]):
		iterKind = ir.IterRange
	default:
		iterKind = ir.IterGeneric
	}
	t.iteratorKinds[dst] = iterKind
	t.registerKinds[dst] = ir.ValueBoxed
	return t.appendInstr(ir.Instr{Op: ir.OpGetIter, Kind: ir.ValueBoxed, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(dst), Src: uint16(src), IterKind: iterKind}}, bytecode.OpGetIterR.Name())
}

// decodeIterNext handles ITER_NEXT_R (value, iter, has_value): value's
// kind is I64 for range iterators and Boxed otherwise; has_value is
// always Bool (spec §4.2/§6).
func (t *translator) decodeIterNext(offset uint32) (Result, bool) {
	valueReg, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpIterNextR.Name(), ir.ValueBoxed, offset), false
	}
	iterReg, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpIterNextR.Name(), ir.ValueBoxed, offset), false
	}
	hasValueReg, err := t.cursor.ReadU8()
	if err != nil {
		return t.fail(ir.StatusInvalidInput, bytecode.OpIterNextR.Name(), ir.ValueBoxed, offset), false
	}

	valueKind := ir.ValueBoxed
	if t.iteratorKinds[iterReg] == ir.IterRange {
		valueKind = ir.ValueI64
	}
	if res, ok := t.checkRollout(valueKind, bytecode.OpIterNextR.Name(), offset); !ok {
		return res, false
	}
	t.registerKinds[valueReg] = valueKind
	t.registerKinds[hasValueReg] = ir.ValueBool

	return t.appendInstr(ir.Instr{Op: ir.OpIterNext, Kind: valueKind, BytecodeOffset: offset,
		Operand: ir.Operand{Dst: uint16(valueReg), Src: uint16(iterReg), Rhs: uint16(hasValueReg)}}, bytecode.OpIterNextR.Name())
}
