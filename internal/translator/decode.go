package translator

import (
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/value"
)

func (t *translator) run() Result {
	for {
		offset := t.cursor.Offset
		op, err := t.cursor.ReadOp()
		if err != nil {
			return t.fail(ir.StatusInvalidInput, "<truncated>", ir.ValueBoxed, offset)
		}

		switch op {
		case bytecode.OpReturnVoid:
			t.program.Append(ir.Instr{Op: ir.OpReturn, Kind: ir.ValueBoxed, BytecodeOffset: offset})
			return t.ok()
		case bytecode.OpReturnR:
			reg, err := t.cursor.ReadU8()
			if err != nil {
				return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset)
			}
			kind := t.registerKinds[reg]
			if res, ok := t.checkRollout(kind, op.Name(), offset); !ok {
				return res
			}
			t.program.Append(ir.Instr{Op: ir.OpReturn, Kind: kind, BytecodeOffset: offset,
				Operand: ir.Operand{HasReturnValue: true, ReturnReg: uint16(reg)}})
			return t.ok()

		case bytecode.OpJumpShort, bytecode.OpJumpIfNotShort:
			if res, ok := t.decodeShortJump(op, offset); !ok {
				return res
			}

		case bytecode.OpJumpBackShort:
			disp, err := t.cursor.ReadU8()
			if err != nil {
				return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset)
			}
			t.program.Append(ir.Instr{Op: ir.OpJumpBackShort, Kind: ir.ValueBoxed, BytecodeOffset: offset,
				Operand: ir.Operand{Displacement: int32(disp)}})

		case bytecode.OpJumpIfNotR:
			if res, ok := t.decodeJumpIfNotR(offset); !ok {
				return res
			}

		case bytecode.OpBranchTyped:
			if res, ok := t.decodeBranchTyped(offset); !ok {
				return res
			}

		case bytecode.OpLoopShort:
			back, err := t.cursor.ReadU8()
			if err != nil {
				return t.fail(ir.StatusInvalidInput, op.Name(), ir.ValueBoxed, offset)
			}
			// target == offset - back (the instruction's own start offset
			// minus the backward displacement byte).
			target := offset - uint32(back)
			if target != t.program.LoopStartOffset {
				return t.fail(ir.StatusUnsupportedLoopShape, op.Name(), ir.ValueBoxed, offset)
			}
			t.insertSafepointIfPending(offset)
			t.program.Append(ir.Instr{Op: ir.OpLoopBack, Kind: ir.ValueBoxed, BytecodeOffset: offset})
			return t.ok()

		case bytecode.OpIncCmpJmp, bytecode.OpDecCmpJmp:
			return t.decodeFusedLoop(op, offset)

		case bytecode.OpLoadConst:
			if res, ok := t.decodeLoadConst(offset); !ok {
				return res
			}
		case bytecode.OpLoadI32Const:
			if res, ok := t.decodeTypedConst(offset, ir.ValueI32, value.KindI32); !ok {
				return res
			}
		case bytecode.OpLoadI64Const:
			if res, ok := t.decodeTypedConst(offset, ir.ValueI64, value.KindI64); !ok {
				return res
			}
		case bytecode.OpLoadU32Const:
			if res, ok := t.decodeTypedConst(offset, ir.ValueU32, value.KindU32); !ok {
				return res
			}
		case bytecode.OpLoadU64Const:
			if res, ok := t.decodeTypedConst(offset, ir.ValueU64, value.KindU64); !ok {
				return res
			}
		case bytecode.OpLoadF64Const:
			if res, ok := t.decodeTypedConst(offset, ir.ValueF64, value.KindF64); !ok {
				return res
			}

		case bytecode.OpMove:
			if res, ok := t.decodeGenericMove(offset); !ok {
				return res
			}
		case bytecode.OpMoveI32:
			if res, ok := t.decodeTypedMove(offset, ir.OpMoveI32, ir.ValueI32); !ok {
				return res
			}
		case bytecode.OpMoveI64:
			if res, ok := t.decodeTypedMove(offset, ir.OpMoveI64, ir.ValueI64); !ok {
				return res
			}
		case bytecode.OpMoveU32:
			if res, ok := t.decodeTypedMove(offset, ir.OpMoveU32, ir.ValueU32); !ok {
				return res
			}
		case bytecode.OpMoveU64:
			if res, ok := t.decodeTypedMove(offset, ir.OpMoveU64, ir.ValueU64); !ok {
				return res
			}
		case bytecode.OpMoveF64:
			if res, ok := t.decodeTypedMove(offset, ir.OpMoveF64, ir.ValueF64); !ok {
				return res
			}

		case bytecode.OpStoreFrame, bytecode.OpLoadFrame, bytecode.OpMoveFrame:
			if res, ok := t.decodeFrameMove(op, offset); !ok {
				return res
			}

		case bytecode.OpEqR, bytecode.OpNeR:
			if res, ok := t.decodeUntypedCompare(op, offset); !ok {
				return res
			}

		case bytecode.OpRangeR:
			if res, ok := t.decodeRange(offset); !ok {
				return res
			}
		case bytecode.OpGetIterR:
			if res, ok := t.decodeGetIter(offset); !ok {
				return res
			}
		case bytecode.OpIterNextR:
			if res, ok := t.decodeIterNext(offset); !ok {
				return res
			}

		case bytecode.OpPrintR, bytecode.OpPrintMultiR, bytecode.OpAssertEqR,
			bytecode.OpCallNativeR, bytecode.OpArrayPushR, bytecode.OpTimeStamp,
			bytecode.OpConcatR, bytecode.OpToStringR,
			bytecode.OpI32ToI64R, bytecode.OpU32ToU64R, bytecode.OpU32ToI32R:
			if res, ok := t.decodeEffectful(op, offset); !ok {
				return res
			}

		default:
			if entry, isArith := typedArithTable[op]; isArith {
				if res, ok := t.decodeTypedArith(entry, offset); !ok {
					return res
				}
				continue
			}
			if entry, isCmp := typedCompareTable[op]; isCmp {
				if res, ok := t.decodeTypedCompare(entry, offset); !ok {
					return res
				}
				continue
			}
			return t.fail(ir.StatusUnhandledOpcode, op.Name(), t.lastInferredKind(), offset)
		}
	}
}

// lastInferredKind is used for UNHANDLED_OPCODE records where no kind
// was resolved before failing; Boxed is the conservative default.
func (t *translator) lastInferredKind() ir.ValueKind { return ir.ValueBoxed }
