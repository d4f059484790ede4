//go:build arm64

package codegen

import (
	"fmt"

	"github.com/orus-lang/orusjit/internal/ir"
)

// arm64 registers used by this emitter. X0 carries the RuntimeContext
// pointer per AAPCS64; the rest are caller-saved scratch registers with
// no special ABI role.
const (
	regX0  = 0
	regX9  = 9  // kept ctx pointer
	regX10 = 10 // bank base pointer
	regX11 = 11 // address scratch
	regX12 = 12 // value scratch (accumulator)
	regX13 = 13 // value scratch (rhs)
	regXZR = 31
)

const (
	ctxRegARM64  = regX9
	bankBaseARM  = regX10
)

//go:noescape
func invokeNative(code []byte, ctx *RuntimeContext)

func le32(buf *[]byte, v uint32) {
	*buf = append(*buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// movReg emits MOV Xd, Xn (ORR Xd, XZR, Xn).
func movReg(buf *[]byte, dst, src uint32) {
	le32(buf, 0xAA0003E0|(src<<16)|dst)
}

// addImm emits ADD Xd, Xn, #imm (imm may be shifted left 12 internally).
func addImm(buf *[]byte, dst, base uint32, imm12 uint32, lsl12 bool) {
	v := uint32(0x91000000) | (base << 5) | dst | (imm12 << 10)
	if lsl12 {
		v |= 1 << 22
	}
	le32(buf, v)
}

// loadAddr materializes base+disp into dst across one or two ADDs.
func loadAddr(buf *[]byte, dst, base uint32, disp int32) {
	hi := uint32(disp) >> 12
	lo := uint32(disp) & 0xFFF
	if hi != 0 {
		addImm(buf, dst, base, hi, true)
		if lo != 0 {
			addImm(buf, dst, dst, lo, false)
		}
	} else {
		addImm(buf, dst, base, lo, false)
	}
}

func ldr64(buf *[]byte, rt, rn uint32) { le32(buf, 0xF9400000|(rn<<5)|rt) }
func ldr32(buf *[]byte, rt, rn uint32) { le32(buf, 0xB9400000|(rn<<5)|rt) }
func str64(buf *[]byte, rt, rn uint32) { le32(buf, 0xF9000000|(rn<<5)|rt) }
func str32(buf *[]byte, rt, rn uint32) { le32(buf, 0xB9000000|(rn<<5)|rt) }
func strb(buf *[]byte, rt, rn uint32) { le32(buf, 0x39000000|(rn<<5)|rt) }
func strh(buf *[]byte, rt, rn uint32) { le32(buf, 0x79000000|(rn<<5)|rt) }

func addReg(buf *[]byte, w bool, rd, rn, rm uint32) {
	base := uint32(0x8B000000)
	if !w {
		base = 0x0B000000
	}
	le32(buf, base|(rm<<16)|(rn<<5)|rd)
}

func subReg(buf *[]byte, w bool, rd, rn, rm uint32) {
	base := uint32(0xCB000000)
	if !w {
		base = 0x4B000000
	}
	le32(buf, base|(rm<<16)|(rn<<5)|rd)
}

func mulReg(buf *[]byte, w bool, rd, rn, rm uint32) {
	base := uint32(0x9B007C00)
	if !w {
		base = 0x1B007C00
	}
	le32(buf, base|(rm<<16)|(rn<<5)|rd)
}

func cmpReg(buf *[]byte, w bool, rn, rm uint32) {
	base := uint32(0xEB000000)
	if !w {
		base = 0x6B000000
	}
	le32(buf, base|(rm<<16)|(rn<<5)|regXZR)
}

const (
	condLT = 11
	condGE = 10
	condGT = 12
	condLE = 13
	condLO = 3
	condHS = 2
	condHI = 8
	condLS = 9
	condEQ = 0
	condNE = 1
)

// bCond emits a placeholder B.cond and returns the byte offset of the
// instruction word itself, to be patched once the branch target is known.
func bCond(buf *[]byte, cond uint32) int {
	at := len(*buf)
	le32(buf, 0x54000000|cond)
	return at
}

func bUncond(buf *[]byte) int {
	at := len(*buf)
	le32(buf, 0x14000000)
	return at
}

func patchBCond(buf []byte, at int, target int) {
	rel := int32(target-at) / 4
	word := uint32(buf[at]) | uint32(buf[at+1])<<8 | uint32(buf[at+2])<<16 | uint32(buf[at+3])<<24
	word = (word &^ (0x7FFFF << 5)) | ((uint32(rel) & 0x7FFFF) << 5)
	buf[at], buf[at+1], buf[at+2], buf[at+3] = byte(word), byte(word>>8), byte(word>>16), byte(word>>24)
}

func patchB(buf []byte, at int, target int) {
	rel := int32(target-at) / 4
	word := uint32(0x14000000) | (uint32(rel) & 0x3FFFFFF)
	buf[at], buf[at+1], buf[at+2], buf[at+3] = byte(word), byte(word>>8), byte(word>>16), byte(word>>24)
}

func ret(buf *[]byte) { le32(buf, 0xD65F03C0) }

func ldrb(buf *[]byte, rt, rn uint32) { le32(buf, 0x39400000|(rn<<5)|rt) }

// emitTypeGuardARM implements spec §4.3(b)'s type-guard helper-ABI
// equivalent: a direct compare+branch against the typed-bank tag instead
// of a `native_linear_*` helper call, since the direct-emission
// whitelist here is small enough to inline the comparison itself
// (spec §8 scenario 3).
func emitTypeGuardARM(buf *[]byte, bl bankLayout, el exitLayout, reg uint16, kind ir.ValueKind, idx int) {
	loadAddr(buf, regX11, bankBaseARM, regTypeDisp(bl, reg))
	ldrb(buf, regX12, regX11)
	movImm64(buf, regX13, uint64(regTypeFor(kind)))
	cmpReg(buf, false, regX12, regX13)
	at := bCond(buf, condEQ)
	emitExitReasonARM(buf, el, ExitTypeGuardFail)
	movImm64(buf, regX12, uint64(reg))
	loadAddr(buf, regX11, ctxRegARM64, int32(el.guardReg))
	strh(buf, regX12, regX11)
	movImm64(buf, regX12, uint64(idx))
	loadAddr(buf, regX11, ctxRegARM64, int32(el.instrIndex))
	strh(buf, regX12, regX11)
	ret(buf)
	patchBCond(*buf, at, len(*buf))
}

func movImm64(buf *[]byte, dst uint32, val uint64) {
	le32(buf, 0xD2800000|uint32(val&0xFFFF)<<5|dst)
	for hw := uint32(1); hw < 4; hw++ {
		chunk := uint32(val>>(hw*16)) & 0xFFFF
		if chunk != 0 {
			le32(buf, 0xF2800000|(hw<<21)|(chunk<<5)|dst)
		}
	}
}

func emitARM64(program *ir.Program) ([]byte, error) {
	bl := computeBankLayout()
	cl := computeCtxLayout()
	el := computeExitLayout()

	var buf []byte
	movReg(&buf, ctxRegARM64, regX0)
	loadAddr(&buf, regX11, ctxRegARM64, int32(cl.bank))
	ldr64(&buf, bankBaseARM, regX11)
	loopTop := len(buf)

	backpatches := map[int]int{}
	condBackpatches := map[int]int{}

	for i := range program.Instructions {
		instr := &program.Instructions[i]
		if err := emitARM64Instr(&buf, instr, i, bl, el, loopTop, backpatches, condBackpatches); err != nil {
			return nil, err
		}
	}
	for at, target := range backpatches {
		patchB(buf, at, target)
	}
	for at, target := range condBackpatches {
		patchBCond(buf, at, target)
	}
	return buf, nil
}

func emitARM64Instr(buf *[]byte, instr *ir.Instr, idx int, bl bankLayout, el exitLayout, loopTop int, backpatches, condBackpatches map[int]int) error {
	op := instr.Operand
	switch instr.Op {
	case ir.OpLoadConst:
		if !isIntegerKind(instr.Kind) {
			return errNeedsHelperStub
		}
		disp, w, _ := bankDispAndWidth(bl, instr.Kind, op.Dst)
		movImm64(buf, regX12, op.ImmediateBits)
		loadAddr(buf, regX11, bankBaseARM, disp)
		if w {
			str64(buf, regX12, regX11)
		} else {
			str32(buf, regX12, regX11)
		}
		storeRegType(buf, bl, op.Dst, instr.Kind)

	case ir.OpMoveI32, ir.OpMoveI64, ir.OpMoveU32, ir.OpMoveU64:
		emitTypeGuardARM(buf, bl, el, op.Src, instr.Kind, idx)
		srcDisp, w, _ := bankDispAndWidth(bl, instr.Kind, op.Src)
		dstDisp, _, _ := bankDispAndWidth(bl, instr.Kind, op.Dst)
		loadAddr(buf, regX11, bankBaseARM, srcDisp)
		if w {
			ldr64(buf, regX12, regX11)
		} else {
			ldr32(buf, regX12, regX11)
		}
		loadAddr(buf, regX11, bankBaseARM, dstDisp)
		if w {
			str64(buf, regX12, regX11)
		} else {
			str32(buf, regX12, regX11)
		}
		storeRegType(buf, bl, op.Dst, instr.Kind)

	case ir.OpAdd, ir.OpSub, ir.OpMul:
		if !isIntegerKind(instr.Kind) {
			return errNeedsHelperStub
		}
		emitTypeGuardARM(buf, bl, el, op.Lhs, instr.Kind, idx)
		emitTypeGuardARM(buf, bl, el, op.Rhs, instr.Kind, idx)
		lhsDisp, w, _ := bankDispAndWidth(bl, instr.Kind, op.Lhs)
		rhsDisp, _, _ := bankDispAndWidth(bl, instr.Kind, op.Rhs)
		dstDisp, _, _ := bankDispAndWidth(bl, instr.Kind, op.Dst)
		loadAddr(buf, regX11, bankBaseARM, lhsDisp)
		if w {
			ldr64(buf, regX12, regX11)
		} else {
			ldr32(buf, regX12, regX11)
		}
		loadAddr(buf, regX11, bankBaseARM, rhsDisp)
		if w {
			ldr64(buf, regX13, regX11)
		} else {
			ldr32(buf, regX13, regX11)
		}
		switch instr.Op {
		case ir.OpAdd:
			addReg(buf, w, regX12, regX12, regX13)
		case ir.OpSub:
			subReg(buf, w, regX12, regX12, regX13)
		case ir.OpMul:
			mulReg(buf, w, regX12, regX12, regX13)
		}
		loadAddr(buf, regX11, bankBaseARM, dstDisp)
		if w {
			str64(buf, regX12, regX11)
		} else {
			str32(buf, regX12, regX11)
		}
		storeRegType(buf, bl, op.Dst, instr.Kind)

	case ir.OpIncCmpJump, ir.OpDecCmpJump:
		counterDisp, w, ok := bankDispAndWidth(bl, instr.Kind, op.Dst)
		limitDisp, _, _ := bankDispAndWidth(bl, instr.Kind, op.Rhs)
		if !ok {
			return fmt.Errorf("codegen: fused loop on non-integer kind %s", instr.Kind)
		}
		loadAddr(buf, regX11, bankBaseARM, counterDisp)
		if w {
			ldr64(buf, regX12, regX11)
		} else {
			ldr32(buf, regX12, regX11)
		}
		movImm64(buf, regX13, 1)
		if instr.Op == ir.OpIncCmpJump {
			addReg(buf, w, regX12, regX12, regX13)
		} else {
			subReg(buf, w, regX12, regX12, regX13)
		}
		if w {
			str64(buf, regX12, regX11)
		} else {
			str32(buf, regX12, regX11)
		}
		loadAddr(buf, regX11, bankBaseARM, limitDisp)
		if w {
			ldr64(buf, regX13, regX11)
		} else {
			ldr32(buf, regX13, regX11)
		}
		cmpReg(buf, w, regX12, regX13)

		signed := instr.Kind == ir.ValueI32 || instr.Kind == ir.ValueI64
		var cond uint32
		if instr.Op == ir.OpIncCmpJump {
			if signed {
				cond = condLT
			} else {
				cond = condLO
			}
		} else {
			if signed {
				cond = condGT
			} else {
				cond = condHI
			}
		}
		at := bCond(buf, cond)
		condBackpatches[at] = loopTop
		emitExitReasonARM(buf, el, ExitLoopComplete)
		ret(buf)

	case ir.OpLoopBack:
		at := bUncond(buf)
		backpatches[at] = loopTop

	case ir.OpReturn:
		emitExitReturnARM(buf, el, op.ReturnReg, op.HasReturnValue)
		ret(buf)

	case ir.OpSafepoint:
		// Polled by the host between block invocations; nothing to emit.

	default:
		return errNeedsHelperStub
	}
	return nil
}

func storeRegType(buf *[]byte, bl bankLayout, reg uint16, kind ir.ValueKind) {
	movImm64(buf, regX12, uint64(regTypeFor(kind)))
	loadAddr(buf, regX11, bankBaseARM, regTypeDisp(bl, reg))
	strb(buf, regX12, regX11)
}

func emitExitReasonARM(buf *[]byte, el exitLayout, reason ExitReason) {
	movImm64(buf, regX12, uint64(reason))
	loadAddr(buf, regX11, ctxRegARM64, int32(el.reason))
	strb(buf, regX12, regX11)
}

func emitExitReturnARM(buf *[]byte, el exitLayout, dst uint16, hasValue bool) {
	emitExitReasonARM(buf, el, ExitReturn)
	movImm64(buf, regX12, uint64(dst))
	loadAddr(buf, regX11, ctxRegARM64, int32(el.dst))
	strh(buf, regX12, regX11)
	hv := uint64(0)
	if hasValue {
		hv = 1
	}
	movImm64(buf, regX12, hv)
	loadAddr(buf, regX11, ctxRegARM64, int32(el.hasValue))
	strb(buf, regX12, regX11)
}

func emitHelperExitARM(buf *[]byte, el exitLayout, instrIndex int) {
	emitExitReasonARM(buf, el, ExitCallHelper)
	movImm64(buf, regX12, uint64(instrIndex))
	loadAddr(buf, regX11, ctxRegARM64, int32(el.instrIndex))
	strh(buf, regX12, regX11)
	ret(buf)
}

// emitHelperStubARM64 builds the bare trampoline for a helper-stub block
// (spec §4.3(c)): establish ctx in X9 and exit with ExitCallHelper at
// instruction 0, mirroring emitHelperStubAMD64.
func emitHelperStubARM64() ([]byte, error) {
	el := computeExitLayout()
	var buf []byte
	movReg(&buf, ctxRegARM64, regX0)
	emitHelperExitARM(&buf, el, 0)
	return buf, nil
}
