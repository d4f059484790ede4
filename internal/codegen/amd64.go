//go:build amd64

package codegen

import (
	"fmt"

	"github.com/orus-lang/orusjit/internal/ir"
)

// amd64 register numbers used by ModRM/REX encoding. Only the registers
// this emitter actually uses are named.
const (
	regRAX byte = 0
	regRCX byte = 1
	regRDI byte = 7
	regR13 byte = 13
	regR15 byte = 15
)

// bankBaseReg holds the address of TypedRegisterBank for the duration of
// a compiled block; ctxReg holds the RuntimeContext pointer so exit
// writes can reach it without re-deriving the address.
const (
	bankBaseReg = regR15
	ctxReg      = regR13
)

//go:noescape
func invokeNative(code []byte, ctx *RuntimeContext)

func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

func appendDisp32(buf *[]byte, disp int32) {
	*buf = append(*buf, byte(disp), byte(disp>>8), byte(disp>>16), byte(disp>>24))
}

func appendImm16(buf *[]byte, v int16) {
	*buf = append(*buf, byte(v), byte(v>>8))
}

func appendImm32(buf *[]byte, v int32) {
	*buf = append(*buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendImm64(buf *[]byte, v int64) {
	for i := 0; i < 8; i++ {
		*buf = append(*buf, byte(v>>(8*i)))
	}
}

// movRegReg64 emits MOV dst64, src64.
func movRegReg64(buf *[]byte, dst, src byte) {
	*buf = append(*buf, rex(true, src >= 8, false, dst >= 8), 0x89, modrm(3, src, dst))
}

// movRegImm64 emits MOV dst64, imm64.
func movRegImm64(buf *[]byte, dst byte, imm int64) {
	*buf = append(*buf, rex(true, false, false, dst >= 8), 0xB8+(dst&7))
	appendImm64(buf, imm)
}

// loadMem64/32 emit MOV dst, [base+disp32] at 64- or 32-bit width.
func loadMem64(buf *[]byte, dst, base byte, disp int32) {
	*buf = append(*buf, rex(true, dst >= 8, false, base >= 8), 0x8B, modrm(2, dst, base))
	appendDisp32(buf, disp)
}

func loadMem32(buf *[]byte, dst, base byte, disp int32) {
	*buf = append(*buf, rex(false, dst >= 8, false, base >= 8), 0x8B, modrm(2, dst, base))
	appendDisp32(buf, disp)
}

// storeMem64/32 emit MOV [base+disp32], src at 64- or 32-bit width.
func storeMem64(buf *[]byte, base byte, disp int32, src byte) {
	*buf = append(*buf, rex(true, src >= 8, false, base >= 8), 0x89, modrm(2, src, base))
	appendDisp32(buf, disp)
}

func storeMem32(buf *[]byte, base byte, disp int32, src byte) {
	*buf = append(*buf, rex(false, src >= 8, false, base >= 8), 0x89, modrm(2, src, base))
	appendDisp32(buf, disp)
}

func cmpMem8Imm(buf *[]byte, base byte, disp int32, imm byte) {
	if base >= 8 {
		*buf = append(*buf, rex(false, false, false, true))
	}
	*buf = append(*buf, 0x80, modrm(2, 7, base))
	appendDisp32(buf, disp)
	*buf = append(*buf, imm)
}

func storeMem8Imm(buf *[]byte, base byte, disp int32, imm byte) {
	if base >= 8 {
		*buf = append(*buf, rex(false, false, false, true))
	}
	*buf = append(*buf, 0xC6, modrm(2, 0, base))
	appendDisp32(buf, disp)
	*buf = append(*buf, imm)
}

func storeMem16Imm(buf *[]byte, base byte, disp int32, imm int16) {
	*buf = append(*buf, 0x66)
	if base >= 8 {
		*buf = append(*buf, rex(false, false, false, true))
	}
	*buf = append(*buf, 0xC7, modrm(2, 0, base))
	appendDisp32(buf, disp)
	appendImm16(buf, imm)
}

// addRegMem/subRegMem/imulRegMem/cmpRegMem emit ACC <op>= [base+disp32] for the add/sub/imul/cmp
// "load-combine" forms, where acc already holds one operand.
func addRegMem(buf *[]byte, w bool, acc, base byte, disp int32) {
	*buf = append(*buf, rex(w, acc >= 8, false, base >= 8), 0x03, modrm(2, acc, base))
	appendDisp32(buf, disp)
}

func subRegMem(buf *[]byte, w bool, acc, base byte, disp int32) {
	*buf = append(*buf, rex(w, acc >= 8, false, base >= 8), 0x2B, modrm(2, acc, base))
	appendDisp32(buf, disp)
}

func imulRegMem(buf *[]byte, w bool, acc, base byte, disp int32) {
	*buf = append(*buf, rex(w, acc >= 8, false, base >= 8), 0x0F, 0xAF, modrm(2, acc, base))
	appendDisp32(buf, disp)
}

func cmpRegMem(buf *[]byte, w bool, acc, base byte, disp int32) {
	*buf = append(*buf, rex(w, acc >= 8, false, base >= 8), 0x3B, modrm(2, acc, base))
	appendDisp32(buf, disp)
}

// addRegImm8/subRegImm8 emit ACC += imm8 / ACC -= imm8 via the 0x83 /r,ib
// group-1 encoding, used for the fused loop's counter step.
func addRegImm8(buf *[]byte, w bool, acc byte, imm byte) {
	*buf = append(*buf, rex(w, false, false, acc >= 8), 0x83, modrm(3, 0, acc), imm)
}

func subRegImm8(buf *[]byte, w bool, acc byte, imm byte) {
	*buf = append(*buf, rex(w, false, false, acc >= 8), 0x83, modrm(3, 5, acc), imm)
}

const (
	ccJL  = 0x8C
	ccJGE = 0x8D
	ccJG  = 0x8F
	ccJB  = 0x82
	ccJAE = 0x83
	ccJA  = 0x87
	ccJE  = 0x84
)

// jcc emits a near Jcc rel32 and returns the index of the displacement
// field, to be patched once the target offset is known.
func jcc(buf *[]byte, cc byte) int {
	*buf = append(*buf, 0x0F, cc)
	patchAt := len(*buf)
	appendImm32(buf, 0)
	return patchAt
}

func jmp32(buf *[]byte) int {
	*buf = append(*buf, 0xE9)
	patchAt := len(*buf)
	appendImm32(buf, 0)
	return patchAt
}

func patchRel32(buf []byte, patchAt int, targetOffset int) {
	rel := int32(targetOffset - (patchAt + 4))
	buf[patchAt] = byte(rel)
	buf[patchAt+1] = byte(rel >> 8)
	buf[patchAt+2] = byte(rel >> 16)
	buf[patchAt+3] = byte(rel >> 24)
}

func ret(buf *[]byte) { *buf = append(*buf, 0xC3) }

// emitTypeGuard implements spec §4.3(a)'s move/arithmetic type guard:
// compare the typed-bank tag for reg against the kind this block was
// compiled against, and exit with ExitTypeGuardFail on mismatch rather
// than read a typed slot another path has since overwritten with a
// different kind (spec §8 scenario 3). idx is the guarded instruction's
// index, recorded in InstrIndex so the host can recover its
// BytecodeOffset as the interpreter resume point.
func emitTypeGuard(buf *[]byte, bl bankLayout, el exitLayout, reg uint16, kind ir.ValueKind, idx int) {
	cmpMem8Imm(buf, bankBaseReg, regTypeDisp(bl, reg), byte(regTypeFor(kind)))
	patchAt := jcc(buf, ccJE)
	emitExitReason(buf, el, ExitTypeGuardFail)
	storeMem16Imm(buf, ctxReg, int32(el.guardReg), int16(reg))
	storeMem16Imm(buf, ctxReg, int32(el.instrIndex), int16(idx))
	ret(buf)
	patchRel32(*buf, patchAt, len(*buf))
}

func emitAMD64(program *ir.Program) ([]byte, error) {
	bl := computeBankLayout()
	cl := computeCtxLayout()
	el := computeExitLayout()

	var buf []byte
	// Prologue: DI holds ctx (SysV first argument). Keep it in R13, and
	// load the bank base pointer into R15.
	movRegReg64(&buf, ctxReg, regRDI)
	loadMem64(&buf, bankBaseReg, ctxReg, int32(cl.bank))
	loopTop := len(buf)

	backpatches := map[int]int{} // patchAt -> target (loopTop, resolved at end)

	for i := range program.Instructions {
		instr := &program.Instructions[i]
		if err := emitAMD64Instr(&buf, instr, i, bl, el, loopTop, backpatches); err != nil {
			return nil, err
		}
	}

	for patchAt, target := range backpatches {
		patchRel32(buf, patchAt, target)
	}
	return buf, nil
}

func emitAMD64Instr(buf *[]byte, instr *ir.Instr, idx int, bl bankLayout, el exitLayout, loopTop int, backpatches map[int]int) error {
	op := instr.Operand
	switch instr.Op {
	case ir.OpLoadConst:
		if !isIntegerKind(instr.Kind) {
			return errNeedsHelperStub
		}
		disp, w, _ := bankDispAndWidth(bl, instr.Kind, op.Dst)
		movRegImm64(buf, regRAX, int64(op.ImmediateBits))
		if w {
			storeMem64(buf, bankBaseReg, disp, regRAX)
		} else {
			storeMem32(buf, bankBaseReg, disp, regRAX)
		}
		storeMem8Imm(buf, bankBaseReg, regTypeDisp(bl, op.Dst), byte(regTypeFor(instr.Kind)))

	case ir.OpMoveI32, ir.OpMoveI64, ir.OpMoveU32, ir.OpMoveU64:
		emitTypeGuard(buf, bl, el, op.Src, instr.Kind, idx)
		srcDisp, w, _ := bankDispAndWidth(bl, instr.Kind, op.Src)
		dstDisp := srcDisp - int32(op.Src)*elemSize(w) + int32(op.Dst)*elemSize(w)
		if w {
			loadMem64(buf, regRAX, bankBaseReg, srcDisp)
			storeMem64(buf, bankBaseReg, dstDisp, regRAX)
		} else {
			loadMem32(buf, regRAX, bankBaseReg, srcDisp)
			storeMem32(buf, bankBaseReg, dstDisp, regRAX)
		}
		storeMem8Imm(buf, bankBaseReg, regTypeDisp(bl, op.Dst), byte(regTypeFor(instr.Kind)))

	case ir.OpAdd, ir.OpSub, ir.OpMul:
		if !isIntegerKind(instr.Kind) {
			return errNeedsHelperStub
		}
		emitTypeGuard(buf, bl, el, op.Lhs, instr.Kind, idx)
		emitTypeGuard(buf, bl, el, op.Rhs, instr.Kind, idx)
		lhsDisp, w, _ := bankDispAndWidth(bl, instr.Kind, op.Lhs)
		rhsDisp, _, _ := bankDispAndWidth(bl, instr.Kind, op.Rhs)
		dstDisp, _, _ := bankDispAndWidth(bl, instr.Kind, op.Dst)
		if w {
			loadMem64(buf, regRAX, bankBaseReg, lhsDisp)
		} else {
			loadMem32(buf, regRAX, bankBaseReg, lhsDisp)
		}
		switch instr.Op {
		case ir.OpAdd:
			addRegMem(buf, w, regRAX, bankBaseReg, rhsDisp)
		case ir.OpSub:
			subRegMem(buf, w, regRAX, bankBaseReg, rhsDisp)
		case ir.OpMul:
			imulRegMem(buf, w, regRAX, bankBaseReg, rhsDisp)
		}
		if w {
			storeMem64(buf, bankBaseReg, dstDisp, regRAX)
		} else {
			storeMem32(buf, bankBaseReg, dstDisp, regRAX)
		}
		storeMem8Imm(buf, bankBaseReg, regTypeDisp(bl, op.Dst), byte(regTypeFor(instr.Kind)))

	case ir.OpIncCmpJump, ir.OpDecCmpJump:
		counterDisp, w, ok := bankDispAndWidth(bl, instr.Kind, op.Dst)
		limitDisp, _, _ := bankDispAndWidth(bl, instr.Kind, op.Rhs)
		if !ok {
			return fmt.Errorf("codegen: fused loop on non-integer kind %s", instr.Kind)
		}
		if w {
			loadMem64(buf, regRAX, bankBaseReg, counterDisp)
		} else {
			loadMem32(buf, regRAX, bankBaseReg, counterDisp)
		}
		if instr.Op == ir.OpIncCmpJump {
			addRegImm8(buf, w, regRAX, 1)
		} else {
			subRegImm8(buf, w, regRAX, 1)
		}
		if w {
			storeMem64(buf, bankBaseReg, counterDisp, regRAX)
		} else {
			storeMem32(buf, bankBaseReg, counterDisp, regRAX)
		}
		cmpRegMem(buf, w, regRAX, bankBaseReg, limitDisp)

		signed := instr.Kind == ir.ValueI32 || instr.Kind == ir.ValueI64
		var cc byte
		if instr.Op == ir.OpIncCmpJump {
			if signed {
				cc = ccJL
			} else {
				cc = ccJB
			}
		} else {
			if signed {
				cc = ccJG
			} else {
				cc = ccJA
			}
		}
		patchAt := jcc(buf, cc)
		backpatches[patchAt] = loopTop
		emitExitReason(buf, el, ExitLoopComplete)
		ret(buf)

	case ir.OpLoopBack:
		patchAt := jmp32(buf)
		backpatches[patchAt] = loopTop

	case ir.OpReturn:
		emitExitReturn(buf, el, op.ReturnReg, op.HasReturnValue)
		ret(buf)

	case ir.OpSafepoint:
		// Direct-tier safepoints are polled by the host between block
		// invocations rather than mid-block; nothing to emit here.

	default:
		return errNeedsHelperStub
	}
	return nil
}

func elemSize(w bool) int32 {
	if w {
		return 8
	}
	return 4
}

func emitExitReason(buf *[]byte, el exitLayout, reason ExitReason) {
	storeMem8Imm(buf, ctxReg, int32(el.reason), byte(reason))
}

func emitExitReturn(buf *[]byte, el exitLayout, dst uint16, hasValue bool) {
	emitExitReason(buf, el, ExitReturn)
	storeMem16Imm(buf, ctxReg, int32(el.dst), int16(dst))
	hv := byte(0)
	if hasValue {
		hv = 1
	}
	storeMem8Imm(buf, ctxReg, int32(el.hasValue), hv)
}

func emitHelperExit(buf *[]byte, el exitLayout, instrIndex int) {
	emitExitReason(buf, el, ExitCallHelper)
	storeMem16Imm(buf, ctxReg, int32(el.instrIndex), int16(instrIndex))
	ret(buf)
}

// emitHelperStubAMD64 builds the bare trampoline for a helper-stub block
// (spec §4.3(c)): load ctx into the same register emitHelperExit expects
// and exit with ExitCallHelper at instruction 0. ExecuteBlock always
// interprets the whole Program from its start, so no other instruction
// index is ever correct here.
func emitHelperStubAMD64() ([]byte, error) {
	el := computeExitLayout()
	var buf []byte
	movRegReg64(&buf, ctxReg, regRDI)
	emitHelperExit(&buf, el, 0)
	return buf, nil
}
