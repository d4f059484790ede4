package ir

// Opcode enumerates the IR instruction set. Categories follow spec §3:
// loads-const, per-kind moves, per-kind arithmetic/comparison,
// conversions, control, iterators, effectful ops, Safepoint and Return.
type Opcode uint8

const (
	OpLoadConst Opcode = iota
	OpMoveI32
	OpMoveI64
	OpMoveU32
	OpMoveU64
	OpMoveF64
	OpMoveValue // generic boxed move

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe
	OpCmpEq
	OpCmpNe

	OpConvI32ToI64
	OpConvU32ToU64
	OpConvU32ToI32
	OpToString
	OpConcatString

	OpJumpShort
	OpJumpBackShort
	OpJumpIfNotShort
	OpLoopBack
	OpIncCmpJump
	OpDecCmpJump

	OpRange
	OpGetIter
	OpIterNext

	OpArrayPush
	OpPrint
	OpAssertEq
	OpCallNative
	OpTimeStamp

	OpSafepoint
	OpReturn
)

// IterKind tracks what kind of iterator a register holds, independent of
// ValueKind (spec §4.2's iterator_kinds tracker).
type IterKind uint8

const (
	IterNone IterKind = iota
	IterRange
	IterGeneric
)

// CompareDir and StepDir encode the fused loop operand directions for
// IncCmpJump/DecCmpJump.
type CompareDir uint8

const (
	CompareLess CompareDir = iota
	CompareGreater
)

// Operand is a tagged union over every IR instruction's operand shape.
// Only the fields relevant to Opcode are populated; the rest are zero.
type Operand struct {
	Dst, Lhs, Rhs uint16
	Src           uint16

	// LoadConst
	ConstantIndex uint16
	ImmediateBits uint64 // caching optimization; ConstantIndex is authoritative

	// Jumps / fused loop
	Displacement int32
	CompareDir   CompareDir
	Step         int32 // +1 for IncCmpJump, -1 for DecCmpJump

	// Range / iterators
	RangeArgc uint8
	RangeArgs [3]uint16
	IterKind  IterKind

	// Effectful
	NativeIndex uint16
	Args        []uint16
	AssertLabel uint16

	// Return
	HasReturnValue bool
	ReturnReg      uint16
}

// Instr is one IR instruction: opcode, the ValueKind it operates on (for
// rollout gating and emitter dispatch), the originating bytecode offset
// (for failure records and deopt resume targets), and its operand union.
type Instr struct {
	Op             Opcode
	Kind           ValueKind
	BytecodeOffset uint32
	Operand        Operand
}
