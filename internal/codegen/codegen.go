// Package codegen lowers a translated Program into either of two
// back-ends. The direct emitters (amd64.go, arm64.go) cover a
// deliberately small whitelist: constant materialization, same-kind
// moves, integer add/sub/mul, and the fused counted-loop back edge, all
// operating against the typed register bank's flat arrays through a
// fixed base register. Every other IR opcode — comparisons, floats,
// strings, iterators, conversions, and anything effectful — falls back
// to the third back-end (spec §4.3(c)): a tiny native trampoline that
// exits with ExitCallHelper, paired with ExecuteBlock (helperstub.go),
// a complete Go interpreter over the Program that the host runs in
// place of native dispatch. ORUS_JIT_FORCE_HELPER_STUB forces every
// translated program through this path regardless of whether a direct
// emitter could have handled it.
package codegen

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/platform"
	"github.com/orus-lang/orusjit/internal/value"
)

// errNeedsHelperStub is returned by the direct emitters' instruction
// dispatch when an opcode falls outside their whitelist. Compile treats
// it as a routing signal, not a hard failure: it builds a helper-stub
// block instead of surfacing an error to the caller.
var errNeedsHelperStub = errors.New("codegen: opcode requires helper-stub fallback")

// Target identifies the native code generation target.
type Target int

const (
	TargetUnsupported Target = iota
	TargetAMD64
	TargetARM64
)

func HostTarget() Target {
	switch platform.HostArch() {
	case platform.ArchAMD64:
		return TargetAMD64
	case platform.ArchARM64:
		return TargetARM64
	default:
		return TargetUnsupported
	}
}

// ExitReason tags why a compiled native block returned control to the
// host engine.
type ExitReason uint8

const (
	ExitNone ExitReason = iota
	ExitReturn
	ExitLoopComplete
	ExitSafepoint
	ExitCallHelper
	ExitTypeGuardFail
)

func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "none"
	case ExitReturn:
		return "return"
	case ExitLoopComplete:
		return "loop_complete"
	case ExitSafepoint:
		return "safepoint"
	case ExitCallHelper:
		return "call_helper"
	case ExitTypeGuardFail:
		return "type_guard_fail"
	default:
		return "unknown"
	}
}

// ExitFrame is the fixed-shape scratch area native code writes before
// returning control to the host. InstrIndex is valid when Reason is
// ExitCallHelper: rather than duplicate every IR opcode's operand shape
// into this fixed ABI, the host recovers the full Instr (including
// variable-length Args) by indexing the same Program the block was
// compiled from. Dst/HasValue are valid when Reason is ExitReturn.
// GuardReg is valid when Reason is ExitTypeGuardFail: the register whose
// typed-bank tag no longer agreed with the kind the block was compiled
// against (spec §4.3's "compare byte ptr [r15 + dst_index]... jump to
// the bailout label on mismatch").
type ExitFrame struct {
	Reason     ExitReason
	InstrIndex uint16
	Dst        uint16
	HasValue   bool
	GuardReg   uint16
}

// RuntimeContext is the single pointer argument passed to every compiled
// native block: the entry ABI on both architectures is "one pointer
// argument, no return value", with all state communicated through the
// pointed-to struct.
type RuntimeContext struct {
	Bank      *value.TypedRegisterBank
	Registers *value.RegisterFile
	Safepoint *uint32 // not read by emitted code or ExecuteBlock; no block exits with ExitSafepoint
	Exit      ExitFrame
}

// NativeBlock is one compiled loop body: an installed, executable code
// segment plus the metadata needed to invoke and later invalidate it.
type NativeBlock struct {
	Code          *asmCodeSegment
	Program       *ir.Program
	FunctionIndex uint16
	LoopIndex     uint16
	EntryOffset   int
	Target        Target

	// HelperStub marks a block whose native code is a bare trampoline:
	// Invoke always exits with ExitCallHelper, and the real work happens
	// in ExecuteBlock against Program instead. Constants is a copy of
	// the originating chunk's constant pool, carried alongside so
	// ExecuteBlock can resolve a boxed OpLoadConst without needing the
	// bytecode.Chunk itself threaded through the dispatch path.
	HelperStub bool
	Constants  []value.Value
}

// Invoke transfers control to the native block with ctx as its single
// argument, returning once the block exits (for any ExitReason).
func (b *NativeBlock) Invoke(ctx *RuntimeContext) {
	invokeNative(b.Code.Bytes(), ctx)
}

// Release unmaps the block's executable memory. Safe to call once; the
// caller must not invoke the block afterward.
func (b *NativeBlock) Release() error {
	return b.Code.Unmap()
}

// Compile lowers program into a native block for target. When program
// contains an opcode outside the direct emitter's
// whitelist, Compile transparently falls back to a helper-stub block
// (spec §4.3(c)/§7's AssemblyError row: "release any partial buffer;
// caller falls back to helper stub") rather than returning
// errNeedsHelperStub to the caller.
func Compile(program *ir.Program, target Target) (*NativeBlock, error) {
	var code []byte
	var err error
	switch target {
	case TargetAMD64:
		code, err = emitAMD64(program)
	case TargetARM64:
		code, err = emitARM64(program)
	default:
		return nil, fmt.Errorf("codegen: unsupported target %d", target)
	}
	if errors.Is(err, errNeedsHelperStub) {
		return CompileHelperStub(program, target, nil)
	}
	if err != nil {
		return nil, err
	}
	return InstallBlock(code, program, target)
}

// CompileHelperStub builds a block whose native code is a minimal
// trampoline (spec §4.3(c)'s "a generic 'helper stub' that trampolines
// into a[n] interpreter of the IR"): it writes ExitCallHelper into the
// RuntimeContext's ExitFrame and returns immediately. Engine.Dispatch
// invokes this trampoline like any other block and, on the
// ExitCallHelper it produces, interprets Program via ExecuteBlock; the
// trampoline is real, executable machine code exercising the same entry
// ABI a direct-emitted block uses. constants is attached to the block
// verbatim for ExecuteBlock's OpLoadConst handling.
func CompileHelperStub(program *ir.Program, target Target, constants []value.Value) (*NativeBlock, error) {
	var code []byte
	var err error
	switch target {
	case TargetAMD64:
		code, err = emitHelperStubAMD64()
	case TargetARM64:
		code, err = emitHelperStubARM64()
	default:
		return nil, fmt.Errorf("codegen: unsupported target %d", target)
	}
	if err != nil {
		return nil, err
	}
	block, err := InstallBlock(code, program, target)
	if err != nil {
		return nil, err
	}
	block.HelperStub = true
	block.Constants = constants
	return block, nil
}

// InstallBlock maps code into executable memory and wraps it as a
// NativeBlock for program and target, without invoking either
// architecture's emitter. Compile uses this for freshly-emitted code;
// an on-disk entry cache uses it directly to install previously
// serialized code bytes, recovering the Program they were compiled
// from out-of-band rather than re-translating.
func InstallBlock(code []byte, program *ir.Program, target Target) (*NativeBlock, error) {
	seg := newCodeSegment()
	if err := seg.Map(len(code)); err != nil {
		return nil, fmt.Errorf("codegen: mapping executable memory: %w", err)
	}
	copy(seg.Bytes(), code)
	if err := seg.Protect(); err != nil {
		_ = seg.Unmap()
		return nil, fmt.Errorf("codegen: reprotecting executable memory: %w", err)
	}

	return &NativeBlock{
		Code:          seg,
		Program:       program,
		FunctionIndex: program.FunctionIndex,
		LoopIndex:     program.LoopIndex,
		Target:        target,
	}, nil
}

// HelperInstr returns the Instr the host must execute on behalf of a
// block that exited with ExitCallHelper.
func (b *NativeBlock) HelperInstr(ctx *RuntimeContext) ir.Instr {
	return b.Program.Instructions[ctx.Exit.InstrIndex]
}

// bankLayout locates the byte offset of each typed array within
// TypedRegisterBank, computed once against the live struct layout rather
// than hardcoded, since the native emitters bake these in as fixed
// displacements from the bank base register.
type bankLayout struct {
	i32, i64, u32, u64, regTypes uintptr
}

func computeBankLayout() bankLayout {
	var b value.TypedRegisterBank
	base := uintptr(unsafe.Pointer(&b))
	return bankLayout{
		i32:       uintptr(unsafe.Pointer(&b.I32Regs)) - base,
		i64:       uintptr(unsafe.Pointer(&b.I64Regs)) - base,
		u32:       uintptr(unsafe.Pointer(&b.U32Regs)) - base,
		u64:       uintptr(unsafe.Pointer(&b.U64Regs)) - base,
		regTypes:  uintptr(unsafe.Pointer(&b.RegTypes)) - base,
	}
}

// ctxLayout locates the fields of RuntimeContext the emitters reference.
type ctxLayout struct {
	bank, registers, safepoint, exit uintptr
}

func computeCtxLayout() ctxLayout {
	var c RuntimeContext
	base := uintptr(unsafe.Pointer(&c))
	return ctxLayout{
		bank:      uintptr(unsafe.Pointer(&c.Bank)) - base,
		registers: uintptr(unsafe.Pointer(&c.Registers)) - base,
		safepoint: uintptr(unsafe.Pointer(&c.Safepoint)) - base,
		exit:      uintptr(unsafe.Pointer(&c.Exit)) - base,
	}
}

// exitLayout locates the fields of ExitFrame relative to its own start
// (i.e. relative to ctxLayout.exit once added to the context base).
type exitLayout struct {
	reason, instrIndex, dst, hasValue, guardReg uintptr
}

func computeExitLayout() exitLayout {
	var e ExitFrame
	base := uintptr(unsafe.Pointer(&e))
	return exitLayout{
		reason:     uintptr(unsafe.Pointer(&e.Reason)) - base,
		instrIndex: uintptr(unsafe.Pointer(&e.InstrIndex)) - base,
		dst:        uintptr(unsafe.Pointer(&e.Dst)) - base,
		hasValue:   uintptr(unsafe.Pointer(&e.HasValue)) - base,
		guardReg:   uintptr(unsafe.Pointer(&e.GuardReg)) - base,
	}
}

// bankDispAndWidth returns the byte offset of kind's array within
// TypedRegisterBank and whether 64-bit (vs 32-bit) operand width applies.
func bankDispAndWidth(bl bankLayout, kind ir.ValueKind, reg uint16) (disp int32, w bool, ok bool) {
	switch kind {
	case ir.ValueI32:
		return int32(bl.i32) + int32(reg)*4, false, true
	case ir.ValueI64:
		return int32(bl.i64) + int32(reg)*8, true, true
	case ir.ValueU32:
		return int32(bl.u32) + int32(reg)*4, false, true
	case ir.ValueU64:
		return int32(bl.u64) + int32(reg)*8, true, true
	default:
		return 0, false, false
	}
}

func regTypeDisp(bl bankLayout, reg uint16) int32 { return int32(bl.regTypes) + int32(reg) }

// isIntegerKind reports whether kind is one of the four integer kinds
// the direct emitters can address in the typed register bank.
func isIntegerKind(kind ir.ValueKind) bool {
	switch kind {
	case ir.ValueI32, ir.ValueI64, ir.ValueU32, ir.ValueU64:
		return true
	default:
		return false
	}
}

func regTypeFor(kind ir.ValueKind) value.RegType {
	switch kind {
	case ir.ValueI32:
		return value.RegTypeI32
	case ir.ValueI64:
		return value.RegTypeI64
	case ir.ValueU32:
		return value.RegTypeU32
	case ir.ValueU64:
		return value.RegTypeU64
	case ir.ValueF64:
		return value.RegTypeF64
	case ir.ValueBool:
		return value.RegTypeBool
	default:
		return value.RegTypeNone
	}
}
