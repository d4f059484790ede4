package codegen

import (
	"math"
	"strconv"

	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/value"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

// rangeIter is the live state of one range iterator, scoped to a single
// ExecuteBlock call: OpRange/OpGetIter/OpIterNext never persist iterator
// state in a register, so the interpreter tracks it in a local map keyed
// by the register the translator associated with it.
type rangeIter struct {
	cur, stop, step int64
}

// ExecuteBlock is the execute_block(vm, block) fallback spec §4.3(c)
// describes: a complete interpreter over block.Program, run in place of
// native dispatch for any opcode outside the direct emitters' whitelist,
// and for every opcode when ORUS_JIT_FORCE_HELPER_STUB is set. It shares
// ctx's typed register bank and boxed register file with the native
// emitters, so a subsequent direct-emitted block or a deopt resume
// observes exactly the state this interpreter left behind. heap, native,
// and clock are the same vmapi seams a direct-emitted block reaches
// only implicitly (safepoint polling, CALL_NATIVE_R, TIME_STAMP); any of
// them may be nil, in which case the corresponding opcode degrades to
// its documented no-op.
func ExecuteBlock(block *NativeBlock, ctx *RuntimeContext, heap vmapi.Heap, native vmapi.NativeCall, clock vmapi.Clock) {
	prog := block.Program
	offsets := bytecodeOffsetIndex(prog)
	iters := map[uint16]*rangeIter{}

	idx := 0
	for {
		instr := &prog.Instructions[idx]
		op := instr.Operand

		switch instr.Op {
		case ir.OpLoadConst:
			if instr.Kind == ir.ValueString {
				var v value.Value
				if int(op.ConstantIndex) < len(block.Constants) {
					v = block.Constants[op.ConstantIndex]
				}
				ctx.Registers.Slots[op.Dst] = v
				ctx.Bank.Invalidate(op.Dst)
			} else {
				loadTypedConst(ctx, instr.Kind, op.Dst, op.ImmediateBits)
			}

		case ir.OpMoveI32, ir.OpMoveI64, ir.OpMoveU32, ir.OpMoveU64, ir.OpMoveF64:
			if !typedGuardOK(ctx, op.Src, instr.Kind) {
				failTypeGuard(ctx, op.Src, idx)
				return
			}
			moveTyped(ctx, instr.Kind, op.Dst, op.Src)

		case ir.OpMoveValue:
			ctx.Registers.Slots[op.Dst] = ctx.Registers.Slots[op.Src]
			ctx.Bank.Invalidate(op.Dst)
			if it, ok := iters[op.Src]; ok {
				iters[op.Dst] = it
			}

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
			if needsTypedGuard(instr.Kind) {
				if !typedGuardOK(ctx, op.Lhs, instr.Kind) {
					failTypeGuard(ctx, op.Lhs, idx)
					return
				}
				if !typedGuardOK(ctx, op.Rhs, instr.Kind) {
					failTypeGuard(ctx, op.Rhs, idx)
					return
				}
			}
			executeArith(ctx, instr)

		case ir.OpCmpLt, ir.OpCmpLe, ir.OpCmpGt, ir.OpCmpGe, ir.OpCmpEq, ir.OpCmpNe:
			if needsTypedGuard(instr.Kind) {
				if !typedGuardOK(ctx, op.Lhs, instr.Kind) {
					failTypeGuard(ctx, op.Lhs, idx)
					return
				}
				if !typedGuardOK(ctx, op.Rhs, instr.Kind) {
					failTypeGuard(ctx, op.Rhs, idx)
					return
				}
			}
			ctx.Bank.StoreBoolTypedHot(ctx.Registers, op.Dst, compareRegs(ctx, instr.Op, instr.Kind, op.Lhs, op.Rhs))

		case ir.OpConvI32ToI64:
			if !typedGuardOK(ctx, op.Src, ir.ValueI32) {
				failTypeGuard(ctx, op.Src, idx)
				return
			}
			ctx.Bank.StoreI64TypedHot(ctx.Registers, op.Dst, int64(ctx.Bank.I32Regs[op.Src]))

		case ir.OpConvU32ToU64:
			if !typedGuardOK(ctx, op.Src, ir.ValueU32) {
				failTypeGuard(ctx, op.Src, idx)
				return
			}
			ctx.Bank.StoreU64TypedHot(ctx.Registers, op.Dst, uint64(ctx.Bank.U32Regs[op.Src]))

		case ir.OpConvU32ToI32:
			if !typedGuardOK(ctx, op.Src, ir.ValueU32) {
				failTypeGuard(ctx, op.Src, idx)
				return
			}
			ctx.Bank.StoreI32TypedHot(ctx.Registers, op.Dst, int32(ctx.Bank.U32Regs[op.Src]))

		case ir.OpToString:
			s := renderValue(ctx.Registers.Slots[op.Src])
			ctx.Registers.Slots[op.Dst] = boxString(s, heap)
			ctx.Bank.Invalidate(op.Dst)

		case ir.OpConcatString:
			lhs, _ := stringOf(ctx.Registers.Slots[op.Lhs])
			rhs, _ := stringOf(ctx.Registers.Slots[op.Rhs])
			ctx.Registers.Slots[op.Dst] = boxString(lhs+rhs, heap)
			ctx.Bank.Invalidate(op.Dst)

		case ir.OpJumpShort:
			idx = offsets[uint32(int64(instr.BytecodeOffset)+int64(op.Displacement))]
			continue

		case ir.OpJumpIfNotShort:
			if !truthy(ctx.Registers.Slots[op.Dst]) {
				idx = offsets[uint32(int64(instr.BytecodeOffset)+int64(op.Displacement))]
				continue
			}

		case ir.OpJumpBackShort:
			idx = offsets[uint32(int64(instr.BytecodeOffset)-int64(op.Displacement))]
			continue

		case ir.OpLoopBack:
			idx = offsets[prog.LoopStartOffset]
			continue

		case ir.OpIncCmpJump, ir.OpDecCmpJump:
			if executeFusedLoop(ctx, instr) {
				idx = offsets[prog.LoopStartOffset]
				continue
			}
			ctx.Exit = ExitFrame{Reason: ExitLoopComplete}
			return

		case ir.OpReturn:
			ctx.Exit = ExitFrame{Reason: ExitReturn, Dst: op.ReturnReg, HasValue: op.HasReturnValue}
			return

		case ir.OpSafepoint:
			// Mirrors the direct emitters: polled by the host between
			// block invocations rather than mid-block.

		case ir.OpRange:
			executeRange(ctx, op, iters)

		case ir.OpGetIter:
			executeGetIter(ctx, op, iters)

		case ir.OpIterNext:
			executeIterNext(ctx, op, iters)

		case ir.OpArrayPush:
			// Array internals are GC-owned and out of scope (spec §1).

		case ir.OpPrint:
			// No output seam is exposed to this tier (spec §1's builtins
			// exclusion); nothing to do.

		case ir.OpAssertEq:
			ctx.Bank.StoreBoolTypedHot(ctx.Registers, op.Dst, compareRegs(ctx, ir.OpCmpEq, instr.Kind, op.Lhs, op.Rhs))

		case ir.OpCallNative:
			executeCallNative(ctx, op, native)

		case ir.OpTimeStamp:
			var seconds float64
			if clock != nil {
				seconds = clock.NowSeconds()
			}
			ctx.Bank.StoreF64TypedHot(ctx.Registers, op.Dst, seconds)
		}

		idx++
	}
}

// bytecodeOffsetIndex maps every distinct BytecodeOffset in prog to the
// index of its first instruction, resolving jump/loop-back targets
// without re-scanning the program on every branch. Periodic safepoints
// the translator auto-inserts share their triggering instruction's
// offset and are appended after it, so first-occurrence-wins lands on
// the real target rather than its trailing safepoint. The safepoint
// inserted ahead of a LoopBack shares the LoopBack's offset and precedes
// it, so a jump to that offset runs the safepoint first.
func bytecodeOffsetIndex(prog *ir.Program) map[uint32]int {
	m := make(map[uint32]int, len(prog.Instructions))
	for i, instr := range prog.Instructions {
		if _, ok := m[instr.BytecodeOffset]; !ok {
			m[instr.BytecodeOffset] = i
		}
	}
	return m
}

func needsTypedGuard(kind ir.ValueKind) bool {
	switch kind {
	case ir.ValueI32, ir.ValueI64, ir.ValueU32, ir.ValueU64, ir.ValueF64:
		return true
	default:
		return false
	}
}

// typedGuardOK mirrors emitTypeGuard/emitTypeGuardARM: a register whose
// typed-bank tag has drifted from the kind this instruction expects
// bails the whole block out rather than reading a stale typed slot.
func typedGuardOK(ctx *RuntimeContext, reg uint16, kind ir.ValueKind) bool {
	if !needsTypedGuard(kind) {
		return true
	}
	return ctx.Bank.Matches(reg, regTypeFor(kind))
}

func failTypeGuard(ctx *RuntimeContext, reg uint16, idx int) {
	ctx.Exit = ExitFrame{Reason: ExitTypeGuardFail, GuardReg: reg, InstrIndex: uint16(idx)}
}

func loadTypedConst(ctx *RuntimeContext, kind ir.ValueKind, dst uint16, bits uint64) {
	switch kind {
	case ir.ValueI32:
		ctx.Bank.StoreI32TypedHot(ctx.Registers, dst, int32(uint32(bits)))
	case ir.ValueI64:
		ctx.Bank.StoreI64TypedHot(ctx.Registers, dst, int64(bits))
	case ir.ValueU32:
		ctx.Bank.StoreU32TypedHot(ctx.Registers, dst, uint32(bits))
	case ir.ValueU64:
		ctx.Bank.StoreU64TypedHot(ctx.Registers, dst, bits)
	case ir.ValueF64:
		ctx.Bank.StoreF64TypedHot(ctx.Registers, dst, math.Float64frombits(bits))
	}
}

func moveTyped(ctx *RuntimeContext, kind ir.ValueKind, dst, src uint16) {
	switch kind {
	case ir.ValueI32:
		ctx.Bank.StoreI32TypedHot(ctx.Registers, dst, ctx.Bank.I32Regs[src])
	case ir.ValueI64:
		ctx.Bank.StoreI64TypedHot(ctx.Registers, dst, ctx.Bank.I64Regs[src])
	case ir.ValueU32:
		ctx.Bank.StoreU32TypedHot(ctx.Registers, dst, ctx.Bank.U32Regs[src])
	case ir.ValueU64:
		ctx.Bank.StoreU64TypedHot(ctx.Registers, dst, ctx.Bank.U64Regs[src])
	case ir.ValueF64:
		ctx.Bank.StoreF64TypedHot(ctx.Registers, dst, ctx.Bank.F64Regs[src])
	}
}

// executeArith dispatches OpAdd/Sub/Mul/Div/Mod by kind. Division and
// modulo by zero return 0 rather than panicking or aborting: the IR has
// no modeled error-propagation path for an arithmetic op, so this is a
// pragmatic choice rather than a faithful trap.
func executeArith(ctx *RuntimeContext, instr *ir.Instr) {
	op := instr.Operand
	switch instr.Kind {
	case ir.ValueI32:
		ctx.Bank.StoreI32TypedHot(ctx.Registers, op.Dst, arithI32(instr.Op, ctx.Bank.I32Regs[op.Lhs], ctx.Bank.I32Regs[op.Rhs]))
	case ir.ValueI64:
		ctx.Bank.StoreI64TypedHot(ctx.Registers, op.Dst, arithI64(instr.Op, ctx.Bank.I64Regs[op.Lhs], ctx.Bank.I64Regs[op.Rhs]))
	case ir.ValueU32:
		ctx.Bank.StoreU32TypedHot(ctx.Registers, op.Dst, arithU32(instr.Op, ctx.Bank.U32Regs[op.Lhs], ctx.Bank.U32Regs[op.Rhs]))
	case ir.ValueU64:
		ctx.Bank.StoreU64TypedHot(ctx.Registers, op.Dst, arithU64(instr.Op, ctx.Bank.U64Regs[op.Lhs], ctx.Bank.U64Regs[op.Rhs]))
	case ir.ValueF64:
		ctx.Bank.StoreF64TypedHot(ctx.Registers, op.Dst, arithF64(instr.Op, ctx.Bank.F64Regs[op.Lhs], ctx.Bank.F64Regs[op.Rhs]))
	}
}

func arithI32(op ir.Opcode, a, b int32) int32 {
	switch op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv:
		if b == 0 {
			return 0
		}
		return a / b
	default: // OpMod
		if b == 0 {
			return 0
		}
		return a % b
	}
}

func arithI64(op ir.Opcode, a, b int64) int64 {
	switch op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv:
		if b == 0 {
			return 0
		}
		return a / b
	default:
		if b == 0 {
			return 0
		}
		return a % b
	}
}

func arithU32(op ir.Opcode, a, b uint32) uint32 {
	switch op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv:
		if b == 0 {
			return 0
		}
		return a / b
	default:
		if b == 0 {
			return 0
		}
		return a % b
	}
}

func arithU64(op ir.Opcode, a, b uint64) uint64 {
	switch op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv:
		if b == 0 {
			return 0
		}
		return a / b
	default:
		if b == 0 {
			return 0
		}
		return a % b
	}
}

func arithF64(op ir.Opcode, a, b float64) float64 {
	switch op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv:
		if b == 0 {
			return 0
		}
		return a / b
	default: // OpMod
		if b == 0 {
			return 0
		}
		return math.Mod(a, b)
	}
}

// compareRegs implements CmpLt/Le/Gt/Ge/Eq/Ne and AssertEq's equality
// check. Numeric kinds compare through the typed bank; Boxed (the
// heterogeneous fallback decodeUntypedCompare produces) compares
// through the boxed register file via boxedEqual, which only supports
// equality — CmpLt/Le/Gt/Ge never carry a Boxed kind at translation
// time.
func compareRegs(ctx *RuntimeContext, op ir.Opcode, kind ir.ValueKind, lhs, rhs uint16) bool {
	switch kind {
	case ir.ValueI32:
		return cmpResult(op, cmp3(int64(ctx.Bank.I32Regs[lhs]), int64(ctx.Bank.I32Regs[rhs])))
	case ir.ValueI64:
		return cmpResult(op, cmp3(ctx.Bank.I64Regs[lhs], ctx.Bank.I64Regs[rhs]))
	case ir.ValueU32:
		return cmpResult(op, cmp3u(uint64(ctx.Bank.U32Regs[lhs]), uint64(ctx.Bank.U32Regs[rhs])))
	case ir.ValueU64:
		return cmpResult(op, cmp3u(ctx.Bank.U64Regs[lhs], ctx.Bank.U64Regs[rhs]))
	case ir.ValueF64:
		// IEEE comparisons directly, not the spaceship form cmp3/cmp3u
		// use: a three-way NaN comparison has no valid sign, and
		// collapsing it to the "equal" default would make OpCmpEq
		// falsely report true for NaN operands.
		a, b := ctx.Bank.F64Regs[lhs], ctx.Bank.F64Regs[rhs]
		switch op {
		case ir.OpCmpLt:
			return a < b
		case ir.OpCmpLe:
			return a <= b
		case ir.OpCmpGt:
			return a > b
		case ir.OpCmpGe:
			return a >= b
		case ir.OpCmpNe:
			return a != b
		default: // OpCmpEq
			return a == b
		}
	default:
		eq := boxedEqual(ctx.Registers.Slots[lhs], ctx.Registers.Slots[rhs])
		if op == ir.OpCmpNe {
			return !eq
		}
		return eq
	}
}

func cmpResult(op ir.Opcode, c int) bool {
	switch op {
	case ir.OpCmpLt:
		return c < 0
	case ir.OpCmpLe:
		return c <= 0
	case ir.OpCmpGt:
		return c > 0
	case ir.OpCmpGe:
		return c >= 0
	case ir.OpCmpNe:
		return c != 0
	default: // OpCmpEq
		return c == 0
	}
}

func cmp3(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmp3u(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// boxedEqual compares two boxed values by kind then payload. Heap-owned
// kinds other than String fall back to reference identity: a dynamic
// type behind Heap that doesn't support == would panic here, an
// accepted limitation rather than a defensive recover given the GC
// remains entirely out of this module's scope (spec §1).
func boxedEqual(a, b value.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case value.KindF64:
		return a.F64 == b.F64
	case value.KindString:
		as, _ := stringOf(a)
		bs, _ := stringOf(b)
		return as == bs
	case value.KindNil:
		return true
	case value.KindBool, value.KindI32, value.KindI64, value.KindU32, value.KindU64:
		return a.I64 == b.I64
	default:
		return a.Heap == b.Heap
	}
}

// stringOf recovers a Go string from a KindString value: the boxed Heap
// payload is either a plain string (the common case this tier produces)
// or something that duck-types a Stringer, mirroring the narrow
// interface assertion decodeLoadConst uses for interned constants.
func stringOf(v value.Value) (string, bool) {
	if v.Kind != value.KindString {
		return "", false
	}
	if s, ok := v.Heap.(string); ok {
		return s, true
	}
	if sr, ok := v.Heap.(interface{ String() string }); ok {
		return sr.String(), true
	}
	return "", false
}

// boxString wraps s as a KindString value and, when heap is wired,
// informs the host's intern table the same way native ConcatString/
// ToString output is documented to (vmapi.Heap's doc comment).
func boxString(s string, heap vmapi.Heap) value.Value {
	if heap != nil {
		heap.InternString(s)
	}
	return value.Heap(value.KindString, s)
}

func renderValue(v value.Value) string {
	switch v.Kind {
	case value.KindNil:
		return "nil"
	case value.KindBool:
		return strconv.FormatBool(v.AsBool())
	case value.KindI32, value.KindI64:
		return strconv.FormatInt(v.AsI64(), 10)
	case value.KindU32, value.KindU64:
		return strconv.FormatUint(v.AsU64(), 10)
	case value.KindF64:
		return strconv.FormatFloat(v.AsF64(), 'g', -1, 64)
	case value.KindString:
		if s, ok := stringOf(v); ok {
			return s
		}
		return ""
	default:
		return v.Kind.String()
	}
}

func truthy(v value.Value) bool {
	switch v.Kind {
	case value.KindNil:
		return false
	case value.KindBool:
		return v.AsBool()
	case value.KindF64:
		return v.F64 != 0
	default:
		return v.I64 != 0
	}
}

func executeFusedLoop(ctx *RuntimeContext, instr *ir.Instr) bool {
	op := instr.Operand
	inc := instr.Op == ir.OpIncCmpJump
	switch instr.Kind {
	case ir.ValueI32:
		counter := ctx.Bank.I32Regs[op.Dst]
		if inc {
			counter++
		} else {
			counter--
		}
		ctx.Bank.StoreI32TypedHot(ctx.Registers, op.Dst, counter)
		limit := ctx.Bank.I32Regs[op.Rhs]
		if inc {
			return counter < limit
		}
		return counter > limit
	case ir.ValueI64:
		counter := ctx.Bank.I64Regs[op.Dst]
		if inc {
			counter++
		} else {
			counter--
		}
		ctx.Bank.StoreI64TypedHot(ctx.Registers, op.Dst, counter)
		limit := ctx.Bank.I64Regs[op.Rhs]
		if inc {
			return counter < limit
		}
		return counter > limit
	case ir.ValueU32:
		counter := ctx.Bank.U32Regs[op.Dst]
		if inc {
			counter++
		} else {
			counter--
		}
		ctx.Bank.StoreU32TypedHot(ctx.Registers, op.Dst, counter)
		limit := ctx.Bank.U32Regs[op.Rhs]
		if inc {
			return counter < limit
		}
		return counter > limit
	case ir.ValueU64:
		counter := ctx.Bank.U64Regs[op.Dst]
		if inc {
			counter++
		} else {
			counter--
		}
		ctx.Bank.StoreU64TypedHot(ctx.Registers, op.Dst, counter)
		limit := ctx.Bank.U64Regs[op.Rhs]
		if inc {
			return counter < limit
		}
		return counter > limit
	default:
		return false
	}
}

// readIntReg reads an integer-valued register for RANGE_R/GET_ITER_R
// operand resolution, preferring the typed mirror when one is live and
// falling back to the boxed slot otherwise — those bytecode operands
// are raw register numbers, not IR-tracked kinds.
func readIntReg(ctx *RuntimeContext, r uint16) int64 {
	switch ctx.Bank.RegTypes[r] {
	case value.RegTypeI32:
		return int64(ctx.Bank.I32Regs[r])
	case value.RegTypeI64:
		return ctx.Bank.I64Regs[r]
	case value.RegTypeU32:
		return int64(ctx.Bank.U32Regs[r])
	case value.RegTypeU64:
		return int64(ctx.Bank.U64Regs[r])
	default:
		return ctx.Registers.Slots[r].AsI64()
	}
}

func executeRange(ctx *RuntimeContext, op ir.Operand, iters map[uint16]*rangeIter) {
	cur, stop, step := int64(0), int64(0), int64(1)
	switch op.RangeArgc {
	case 1:
		stop = readIntReg(ctx, op.RangeArgs[0])
	case 2:
		cur = readIntReg(ctx, op.RangeArgs[0])
		stop = readIntReg(ctx, op.RangeArgs[1])
	case 3:
		cur = readIntReg(ctx, op.RangeArgs[0])
		stop = readIntReg(ctx, op.RangeArgs[1])
		step = readIntReg(ctx, op.RangeArgs[2])
	}
	iters[op.Dst] = &rangeIter{cur: cur, stop: stop, step: step}
	ctx.Registers.Slots[op.Dst] = value.Nil()
	ctx.Bank.Invalidate(op.Dst)
}

// executeGetIter mirrors decodeGetIter's kind derivation: a register
// already tracking range-iterator state is aliased; a plain integer
// register becomes "iterate 0..src"; anything else is generic, and a
// generic iterator's OpIterNext always reports no value (array/
// collection internals are GC-owned and out of this module's scope).
func executeGetIter(ctx *RuntimeContext, op ir.Operand, iters map[uint16]*rangeIter) {
	if op.IterKind == ir.IterRange {
		if it, ok := iters[op.Src]; ok {
			iters[op.Dst] = it
		} else {
			iters[op.Dst] = &rangeIter{cur: 0, stop: readIntReg(ctx, op.Src), step: 1}
		}
	}
	ctx.Registers.Slots[op.Dst] = value.Nil()
	ctx.Bank.Invalidate(op.Dst)
}

func executeIterNext(ctx *RuntimeContext, op ir.Operand, iters map[uint16]*rangeIter) {
	it, ok := iters[op.Src]
	if !ok {
		ctx.Registers.Slots[op.Dst] = value.Nil()
		ctx.Bank.Invalidate(op.Dst)
		ctx.Bank.StoreBoolTypedHot(ctx.Registers, op.Rhs, false)
		return
	}
	hasValue := (it.step > 0 && it.cur < it.stop) || (it.step < 0 && it.cur > it.stop)
	if hasValue {
		ctx.Bank.StoreI64TypedHot(ctx.Registers, op.Dst, it.cur)
		it.cur += it.step
	} else {
		ctx.Bank.StoreI64TypedHot(ctx.Registers, op.Dst, 0)
	}
	ctx.Bank.StoreBoolTypedHot(ctx.Registers, op.Rhs, hasValue)
}

// executeCallNative builds the argument vector from the boxed register
// file and calls through the host's builtins seam (spec §1's
// CALL_NATIVE_R calling convention). A nil native collaborator or a
// returned error both resolve to a KindError value in dst, since no
// other error-propagation mechanism exists in this IR.
func executeCallNative(ctx *RuntimeContext, op ir.Operand, native vmapi.NativeCall) {
	args := make([]value.Value, len(op.Args))
	for i, r := range op.Args {
		args[i] = ctx.Registers.Slots[r]
	}
	switch {
	case native == nil:
		ctx.Registers.Slots[op.Dst] = value.Heap(value.KindError, "no native call collaborator wired")
	default:
		result, err := native.CallNative(op.NativeIndex, args)
		if err != nil {
			ctx.Registers.Slots[op.Dst] = value.Heap(value.KindError, err.Error())
		} else {
			ctx.Registers.Slots[op.Dst] = result
		}
	}
	ctx.Bank.Invalidate(op.Dst)
}
