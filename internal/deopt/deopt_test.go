package deopt

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/jitcache"
	"github.com/orus-lang/orusjit/internal/testing/require"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

func newTestCache(t *testing.T) (*jitcache.Controller, codegen.Target) {
	t.Helper()
	target := codegen.HostTarget()
	if target == codegen.TargetUnsupported {
		t.Skip("no native codegen target on this host architecture")
	}
	c, err := jitcache.NewController(target, ir.NewFailureLog(), zerolog.Nop())
	require.NoError(t, err)
	return c, target
}

func addProgram() *ir.Program {
	program := ir.NewProgram(0, 0, 0)
	program.Append(ir.Instr{Op: ir.OpAdd, Kind: ir.ValueI32, BytecodeOffset: 17,
		Operand: ir.Operand{Dst: 2, Lhs: 0, Rhs: 1}})
	program.Append(ir.Instr{Op: ir.OpReturn, BytecodeOffset: 23,
		Operand: ir.Operand{HasReturnValue: true, ReturnReg: 2}})
	return program
}

// Scenario 3 (spec §8): a compiled block's type guard trips at runtime;
// Resolve must blocklist the entry's key, request its deferred release,
// reset the owning function to baseline, and recover the guarded
// instruction's bytecode offset as the interpreter resume point.
func TestResolveScenario3_BlocklistsResetsAndRecoversOffset(t *testing.T) {
	cache, target := newTestCache(t)
	program := addProgram()
	block, err := codegen.Compile(program, target)
	require.NoError(t, err)
	defer block.Release()

	key := jitcache.Key{FunctionIndex: 0, LoopIndex: 0}
	fn := vmapi.NewFunction(0, 0, nil, "addfn")
	fn.Tier = vmapi.TierSpecialized

	b := New(cache)
	frame := codegen.ExitFrame{Reason: codegen.ExitTypeGuardFail, InstrIndex: 0, GuardReg: 1}

	offset := b.Resolve(key, fn, block, frame)

	require.Equal(t, uint32(17), offset)
	require.True(t, cache.IsBlocklisted(key))
	require.Equal(t, vmapi.TierBaseline, fn.Tier)
	require.Equal(t, uint64(1), b.TypeDeopts)

	require.NoError(t, cache.ResolvePendingInvalidate())
}

func TestResolveInvokesDeoptHandlerWhenSet(t *testing.T) {
	cache, target := newTestCache(t)
	program := addProgram()
	block, err := codegen.Compile(program, target)
	require.NoError(t, err)
	defer block.Release()

	key := jitcache.Key{FunctionIndex: 3, LoopIndex: 1}
	fn := vmapi.NewFunction(0, 0, nil, "addfn")
	fn.Tier = vmapi.TierSpecialized

	called := false
	fn.DeoptHandler = func(f *vmapi.Function) {
		called = true
		// A custom handler owns tiering decisions entirely; it may choose
		// not to reset Tier at all.
	}

	b := New(cache)
	frame := codegen.ExitFrame{Reason: codegen.ExitTypeGuardFail, InstrIndex: 1, GuardReg: 0}
	offset := b.Resolve(key, fn, block, frame)

	require.Equal(t, uint32(23), offset)
	require.True(t, called)
	require.Equal(t, vmapi.TierSpecialized, fn.Tier)
}

func TestResolvePanicsOnNonTypeGuardReason(t *testing.T) {
	cache, target := newTestCache(t)
	program := addProgram()
	block, err := codegen.Compile(program, target)
	require.NoError(t, err)
	defer block.Release()

	b := New(cache)
	fn := vmapi.NewFunction(0, 0, nil, "addfn")

	recovered := require.CapturePanic(func() {
		b.Resolve(jitcache.Key{}, fn, block, codegen.ExitFrame{Reason: codegen.ExitReturn})
	})
	require.NotNil(t, recovered)
}
