// Package translator implements the bytecode -> IR translator: the
// hardest subsystem in this core (spec §4.2). Given a (Function,
// HotPathSample), it decodes a linear block starting at a loop header,
// tracks a per-register value-kind map, inserts safepoints, enforces a
// staged rollout mask, and fails with a structured reason when an
// unsupported construct is encountered.
package translator

import (
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/value"
)

// safepointInterval is the "every 12 non-control instructions" cadence
// from spec §4.2 step 3 / the safepoint-density property in §8.
const safepointInterval = 12

// Result is what Translate returns: either a complete program (Failure
// is the zero value, Status == StatusOK) or a structured failure record
// ready for the caller to log and act on.
type Result struct {
	Program *ir.Program
	Failure ir.FailureRecord
}

func (r Result) OK() bool { return r.Failure.Status == ir.StatusOK }

type translator struct {
	chunk         *bytecode.Chunk
	cursor        bytecode.Cursor
	functionIndex uint16
	loopIndex     uint16
	functionStart uint32
	stage         ir.RolloutStage

	program *ir.Program

	registerKinds [value.RegisterCount]ir.ValueKind
	iteratorKinds [value.RegisterCount]ir.IterKind

	sinceSafepoint int
}

// Translate runs the algorithm of spec §4.2 against chunk starting at
// loopStart, for the (functionIndex, loopIndex) key, under the given
// rollout stage. functionStart clamps an out-of-range starting offset,
// per spec's "clamped to function.start if out of range".
func Translate(chunk *bytecode.Chunk, functionIndex, loopIndex uint16, functionStart, loopStart uint32, stage ir.RolloutStage) Result {
	start := loopStart
	if int(start) < 0 || int(start) >= len(chunk.Code) {
		start = functionStart
	}

	t := &translator{
		chunk:         chunk,
		cursor:        bytecode.Cursor{Chunk: chunk, Offset: start},
		functionIndex: functionIndex,
		loopIndex:     loopIndex,
		functionStart: functionStart,
		stage:         stage,
		program:       ir.NewProgram(functionIndex, loopIndex, start),
	}
	for i := range t.registerKinds {
		t.registerKinds[i] = ir.ValueBoxed
	}
	for i := range t.iteratorKinds {
		t.iteratorKinds[i] = ir.IterNone
	}

	return t.run()
}

func (t *translator) fail(status ir.Status, opcode string, kind ir.ValueKind, offset uint32) Result {
	return Result{Failure: ir.FailureRecord{
		Status: status, Opcode: opcode, ValueKind: kind,
		BytecodeOffset: offset, FunctionIndex: t.functionIndex, LoopIndex: t.loopIndex,
	}}
}

func (t *translator) ok() Result {
	t.program.LoopEndOffset = t.cursor.Offset
	return Result{Program: t.program, Failure: ir.FailureRecord{Status: ir.StatusOK}}
}

// checkRollout enforces spec §4.2's rollout enforcement: before
// appending any IR instruction whose effective kind is not Boxed, check
// the mask; if not set, fail ROLLOUT_DISABLED with the attempted opcode
// and kind.
func (t *translator) checkRollout(kind ir.ValueKind, opcodeName string, offset uint32) (Result, bool) {
	if !t.stage.Allows(kind) {
		return t.fail(ir.StatusRolloutDisabled, opcodeName, kind, offset), false
	}
	return Result{}, true
}

// appendInstr appends instr, enforcing the rollout mask and the
// periodic-safepoint invariant (spec §4.2 step 3): every 12 non-control
// instructions a Safepoint is inserted; control instructions (jumps,
// LoopBack, Return) do not themselves count toward the interval but
// LoopBack always forces a safepoint first if anything has accumulated
// since the last one.
func (t *translator) appendInstr(instr ir.Instr, opcodeName string) (Result, bool) {
	if res, ok := t.checkRollout(instr.Kind, opcodeName, instr.BytecodeOffset); !ok {
		return res, false
	}
	if !isControl(instr.Op) {
		t.program.Append(instr)
		t.sinceSafepoint++
		if t.sinceSafepoint >= safepointInterval {
			t.insertSafepoint(instr.BytecodeOffset)
		}
	} else {
		t.program.Append(instr)
	}
	return Result{}, true
}

func isControl(op ir.Opcode) bool {
	switch op {
	case ir.OpJumpShort, ir.OpJumpBackShort, ir.OpJumpIfNotShort,
		ir.OpLoopBack, ir.OpIncCmpJump, ir.OpDecCmpJump, ir.OpReturn, ir.OpSafepoint:
		return true
	default:
		return false
	}
}

func (t *translator) insertSafepoint(offset uint32) {
	t.program.Append(ir.Instr{Op: ir.OpSafepoint, Kind: ir.ValueBoxed, BytecodeOffset: offset})
	t.sinceSafepoint = 0
}

// insertSafepointIfPending is used immediately before LoopBack: spec
// §4.2 requires a safepoint there only "if any instructions executed
// since the last safepoint".
func (t *translator) insertSafepointIfPending(offset uint32) {
	if t.sinceSafepoint > 0 {
		t.insertSafepoint(offset)
	}
}
