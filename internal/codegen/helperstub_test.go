package codegen

import (
	"math"
	"testing"

	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/testing/require"
	"github.com/orus-lang/orusjit/internal/value"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

// fakeHeap/fakeNative/fakeClock stand in for the out-of-scope GC/VM/OS
// collaborators ExecuteBlock reaches through internal/vmapi's seams.
type fakeHeap struct {
	polls   int
	interns []string
}

func (h *fakeHeap) SafepointPoll()                { h.polls++ }
func (h *fakeHeap) InternString(s string) uintptr { h.interns = append(h.interns, s); return 0 }

type fakeNative struct {
	calls []uint16
	fn    func(idx uint16, args []value.Value) (value.Value, error)
}

func (n *fakeNative) CallNative(idx uint16, args []value.Value) (value.Value, error) {
	n.calls = append(n.calls, idx)
	return n.fn(idx, args)
}

type fakeClock struct{ seconds float64 }

func (c *fakeClock) NowSeconds() float64 { return c.seconds }
func (c *fakeClock) NowNanos() int64     { return int64(c.seconds * 1e9) }

func newCtx() (*RuntimeContext, *value.TypedRegisterBank, *value.RegisterFile) {
	bank := &value.TypedRegisterBank{}
	regs := &value.RegisterFile{}
	var safepoint uint32
	return &RuntimeContext{Bank: bank, Registers: regs, Safepoint: &safepoint}, bank, regs
}

// The helper-stub interpreter runs the whole arithmetic/comparison
// pipeline a direct-emitted block would have handled natively, ending
// in a boxed Bool at the comparison's destination register.
func TestExecuteBlockArithmeticAndComparison(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI32, Operand: ir.Operand{Dst: 0, ImmediateBits: uint64(uint32(10))}})
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI32, Operand: ir.Operand{Dst: 1, ImmediateBits: uint64(uint32(32))}})
	program.Append(ir.Instr{Op: ir.OpAdd, Kind: ir.ValueI32, Operand: ir.Operand{Dst: 2, Lhs: 0, Rhs: 1}})
	program.Append(ir.Instr{Op: ir.OpCmpLt, Kind: ir.ValueI32, Operand: ir.Operand{Dst: 3, Lhs: 0, Rhs: 2}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 2}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, bank, regs := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.Equal(t, ExitReturn, ctx.Exit.Reason)
	require.Equal(t, int32(42), bank.I32Regs[2])
	require.True(t, regs.Slots[3].AsBool())
}

// Division and modulo by zero have no trap/exception exit reason to
// route to, so they degrade to zero rather than panicking.
func TestExecuteBlockDivByZeroYieldsZero(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 0, ImmediateBits: 7}})
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 1, ImmediateBits: 0}})
	program.Append(ir.Instr{Op: ir.OpDiv, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 2, Lhs: 0, Rhs: 1}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 2}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, bank, _ := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.Equal(t, int64(0), bank.I64Regs[2])
}

// A side path that retags an operand's typed-bank slot behind the
// interpreter's back must still bail out through ExitTypeGuardFail,
// the same deopt path a direct-emitted block's inline guard takes
// (spec §8 scenario 3), rather than reading the stale typed value.
func TestExecuteBlockTypeGuardFailureMatchesDirectEmitter(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpAdd, Kind: ir.ValueI32, BytecodeOffset: 5, Operand: ir.Operand{Dst: 2, Lhs: 0, Rhs: 1}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 2}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, bank, _ := newCtx()
	bank.RegTypes[0] = value.RegTypeI32
	bank.F64Regs[1] = 3.5
	bank.RegTypes[1] = value.RegTypeF64

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.Equal(t, ExitTypeGuardFail, ctx.Exit.Reason)
	require.Equal(t, uint16(1), ctx.Exit.GuardReg)
	require.Equal(t, uint16(0), ctx.Exit.InstrIndex)
}

// ToString/ConcatString exercise the boxed string path and the
// InternString seam vmapi.Heap's doc comment names for their output.
func TestExecuteBlockToStringAndConcat(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 0, ImmediateBits: 7}})
	program.Append(ir.Instr{Op: ir.OpToString, Operand: ir.Operand{Dst: 1, Src: 0}})
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueString, Operand: ir.Operand{Dst: 2, ConstantIndex: 0}})
	program.Append(ir.Instr{Op: ir.OpConcatString, Operand: ir.Operand{Dst: 3, Lhs: 2, Rhs: 1}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 3}})

	block := &NativeBlock{Program: program, HelperStub: true, Constants: []value.Value{value.Heap(value.KindString, "n=")}}
	ctx, _, regs := newCtx()
	heap := &fakeHeap{}

	ExecuteBlock(block, ctx, heap, nil, nil)

	require.Equal(t, "n=7", regs.Slots[3].Heap.(string))
	require.True(t, len(heap.interns) > 0)
}

func TestExecuteBlockConvI32ToI64WidensSigned(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI32, Operand: ir.Operand{Dst: 0, ImmediateBits: uint64(uint32(int32(-5)))}})
	program.Append(ir.Instr{Op: ir.OpConvI32ToI64, Operand: ir.Operand{Dst: 1, Src: 0}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 1}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, bank, _ := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.Equal(t, int64(-5), bank.I64Regs[1])
}

// TIME_STAMP is the only caller of vmapi.Clock; a nil clock degrades to
// zero rather than panicking.
func TestExecuteBlockTimeStampReadsClockOrDefaultsToZero(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpTimeStamp, Operand: ir.Operand{Dst: 0}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 0}})
	block := &NativeBlock{Program: program, HelperStub: true}

	ctx, bank, _ := newCtx()
	ExecuteBlock(block, ctx, nil, nil, &fakeClock{seconds: 12.5})
	require.Equal(t, 12.5, bank.F64Regs[0])

	ctx2, bank2, _ := newCtx()
	ExecuteBlock(block, ctx2, nil, nil, nil)
	require.Equal(t, 0.0, bank2.F64Regs[0])
}

// CALL_NATIVE_R is the only caller of vmapi.NativeCall; success stores
// the returned value, and a missing collaborator synthesizes a
// KindError value rather than panicking.
func TestExecuteBlockCallNativeInvokesCollaboratorAndHandlesError(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 0, ImmediateBits: 3}})
	program.Append(ir.Instr{Op: ir.OpCallNative, Operand: ir.Operand{Dst: 1, NativeIndex: 9, Args: []uint16{0}}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 1}})

	block := &NativeBlock{Program: program, HelperStub: true}

	ctx, _, regs := newCtx()
	native := &fakeNative{fn: func(idx uint16, args []value.Value) (value.Value, error) {
		require.Equal(t, uint16(9), idx)
		require.Equal(t, int64(3), args[0].AsI64())
		return value.I64(args[0].AsI64() * 2), nil
	}}
	ExecuteBlock(block, ctx, nil, native, nil)
	require.Equal(t, int64(6), regs.Slots[1].AsI64())

	ctx2, _, regs2 := newCtx()
	ExecuteBlock(block, ctx2, nil, nil, nil)
	require.Equal(t, value.KindError, regs2.Slots[1].Kind)
}

// RANGE/GET_ITER/ITER_NEXT yield the first value of a boxed for-in over
// 0..<stop (0, with has_value true), without ever persisting iterator
// state in a register the way every other opcode does.
func TestExecuteBlockRangeYieldsFirstValue(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 0, ImmediateBits: 3}})
	program.Append(ir.Instr{Op: ir.OpRange, Operand: ir.Operand{Dst: 1, RangeArgc: 1, RangeArgs: [3]uint16{0}}})
	program.Append(ir.Instr{Op: ir.OpGetIter, Operand: ir.Operand{Dst: 2, Src: 1, IterKind: ir.IterRange}})
	program.Append(ir.Instr{Op: ir.OpIterNext, Operand: ir.Operand{Dst: 3, Rhs: 4, Src: 2}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 3}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, bank, regs := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.Equal(t, ExitReturn, ctx.Exit.Reason)
	require.True(t, regs.Slots[4].AsBool())
	require.Equal(t, int64(0), bank.I64Regs[3])
}

// OpMoveValue propagates an aliased range iterator to its destination
// register, mirroring the translator's own iteratorKinds propagation
// through boxed moves.
func TestExecuteBlockMoveValuePropagatesIteratorAlias(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 0, ImmediateBits: 1}})
	program.Append(ir.Instr{Op: ir.OpGetIter, Operand: ir.Operand{Dst: 1, Src: 0, IterKind: ir.IterRange}})
	program.Append(ir.Instr{Op: ir.OpMoveValue, Operand: ir.Operand{Dst: 2, Src: 1}})
	program.Append(ir.Instr{Op: ir.OpIterNext, Operand: ir.Operand{Dst: 3, Rhs: 4, Src: 2}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 3}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, _, regs := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.True(t, regs.Slots[4].AsBool())
}

// Jump targets resolve through BytecodeOffset, not instruction index:
// two instructions can share a compiled-out offset (an auto-inserted
// Safepoint shares its triggering instruction's offset) and the first
// occurrence must still win.
func TestExecuteBlockJumpIfNotShortSkipsOverFalseBranch(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueBool, BytecodeOffset: 0, Operand: ir.Operand{Dst: 0, ImmediateBits: 0}})
	program.Append(ir.Instr{Op: ir.OpJumpIfNotShort, BytecodeOffset: 3, Operand: ir.Operand{Dst: 0, Displacement: 10}})
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, BytecodeOffset: 5, Operand: ir.Operand{Dst: 1, ImmediateBits: 111}})
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, BytecodeOffset: 13, Operand: ir.Operand{Dst: 1, ImmediateBits: 222}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 1}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, bank, _ := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.Equal(t, int64(222), bank.I64Regs[1])
}

// PRINT and ARRAY_PUSH are deliberate scope boundaries (no I/O seam, GC-
// owned collection internals): they must not panic and must not alter
// any register.
func TestExecuteBlockPrintAndArrayPushAreNoOps(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueI64, Operand: ir.Operand{Dst: 0, ImmediateBits: 9}})
	program.Append(ir.Instr{Op: ir.OpPrint, Operand: ir.Operand{Src: 0}})
	program.Append(ir.Instr{Op: ir.OpArrayPush, Operand: ir.Operand{Dst: 0, Src: 0}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 0}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, bank, _ := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.Equal(t, ExitReturn, ctx.Exit.Reason)
	require.Equal(t, int64(9), bank.I64Regs[0])
}

func TestExecuteBlockF64ComparisonHandlesNaNCorrectly(t *testing.T) {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueF64, Operand: ir.Operand{Dst: 0, ImmediateBits: math.Float64bits(math.NaN())}})
	program.Append(ir.Instr{Op: ir.OpLoadConst, Kind: ir.ValueF64, Operand: ir.Operand{Dst: 1, ImmediateBits: math.Float64bits(1.0)}})
	program.Append(ir.Instr{Op: ir.OpCmpEq, Kind: ir.ValueF64, Operand: ir.Operand{Dst: 2, Lhs: 0, Rhs: 1}})
	program.Append(ir.Instr{Op: ir.OpReturn, Operand: ir.Operand{HasReturnValue: true, ReturnReg: 2}})

	block := &NativeBlock{Program: program, HelperStub: true}
	ctx, _, regs := newCtx()

	ExecuteBlock(block, ctx, nil, nil, nil)

	require.False(t, regs.Slots[2].AsBool())
}
