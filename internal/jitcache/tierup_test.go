package jitcache

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/profiling"
	"github.com/orus-lang/orusjit/internal/testing/require"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

type fakeVM struct {
	functions   map[uint16]*vmapi.Function
	stage       ir.RolloutStage
	enabled     bool
	forceHelper bool
}

func (v *fakeVM) Function(idx uint16) *vmapi.Function { return v.functions[idx] }
func (v *fakeVM) RolloutStage() ir.RolloutStage        { return v.stage }
func (v *fakeVM) JITEnabled() bool                     { return v.enabled }
func (v *fakeVM) ForceHelperStub() bool                { return v.forceHelper }

func newTestController(t *testing.T) *Controller {
	t.Helper()
	target := codegen.HostTarget()
	if target == codegen.TargetUnsupported {
		t.Skip("no native codegen target on this host architecture")
	}
	c, err := NewController(target, ir.NewFailureLog(), zerolog.Nop())
	require.NoError(t, err)
	return c
}

// tightLoopChunk builds the scenario-1 tight counted loop: MOVE_I32 r0,
// r0 (establishes the counter's tracked kind as I32; the limit register
// stays Boxed and unifies to I32), then INC_CMP_JMP counter=0 limit=1.
func tightLoopChunk() *bytecode.Chunk {
	code := []byte{
		byte(bytecode.OpMoveI32), 0, 0,
		byte(bytecode.OpIncCmpJmp), 0, 1, 0, 0,
	}
	return &bytecode.Chunk{Code: code}
}

func rolloutGatedChunk() *bytecode.Chunk {
	code := []byte{byte(bytecode.OpMoveF64), 0, 0}
	return &bytecode.Chunk{Code: code}
}

func truncatedChunk() *bytecode.Chunk {
	return &bytecode.Chunk{Code: []byte{}}
}

// Scenario 1 (spec §8): a tight counted loop tiers up, installs a real
// entry, and a subsequent sample for the same (func, loop) hits the
// cache instead of recompiling.
func TestTierUpScenario1_TightLoopInstallsAndCaches(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions: map[uint16]*vmapi.Function{0: vmapi.NewFunction(0, 0, tightLoopChunk(), "loop")},
		stage:     ir.StageWideInts,
		enabled:   true,
	}
	prof := profiling.New(1000, c.IsBlocklistedFL)
	sample := profiling.HotPathSample{FunctionIndex: 0, LoopIndex: 0, Loop: 0}

	entry := c.TierUp(vm, prof, sample)
	require.NotEqual(t, (*JITEntry)(nil), entry)
	require.Equal(t, "loop", entry.DebugName)
	require.True(t, entry.Generation > 0)
	require.False(t, c.IsBlocklisted(Key{0, 0}))

	again := c.TierUp(vm, prof, sample)
	require.Equal(t, entry, again)
	require.Equal(t, uint64(1), c.TranslationSuccesses)
}

// Scenario 2 (spec §8): a rollout-gated kind fails translation with
// ROLLOUT_DISABLED and blocklists the loop; a stage bump clears it.
func TestTierUpScenario2_RolloutGateBlocklists(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions: map[uint16]*vmapi.Function{0: vmapi.NewFunction(0, 0, rolloutGatedChunk(), "f64fn")},
		stage:     ir.StageI32Only,
		enabled:   true,
	}
	prof := profiling.New(1000, c.IsBlocklistedFL)
	sample := profiling.HotPathSample{FunctionIndex: 0, LoopIndex: 0, Loop: 0}

	entry := c.TierUp(vm, prof, sample)
	require.Equal(t, c.Stub(), entry)
	require.True(t, c.IsBlocklisted(Key{0, 0}))

	// Step 2 now returns early on every subsequent call without
	// attempting another translation.
	before := c.TranslationAttempts
	again := c.TierUp(vm, prof, sample)
	require.Equal(t, (*JITEntry)(nil), again)
	require.Equal(t, before, c.TranslationAttempts)

	// A stage bump re-enables rollout-disabled loops (spec §7).
	c.OnStageChange()
	require.False(t, c.IsBlocklisted(Key{0, 0}))
}

// Scenario 5 (spec §8): invalid bytecode fails translation but is not
// blocklisted; tier_up still installs a synthesized no-op so the loop
// is not requeued on every hot sample.
func TestTierUpScenario5_InvalidBytecodeNotBlocklisted(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions: map[uint16]*vmapi.Function{0: vmapi.NewFunction(0, 0, truncatedChunk(), "broken")},
		stage:     ir.StageWideInts,
		enabled:   true,
	}
	prof := profiling.New(1000, c.IsBlocklistedFL)
	sample := profiling.HotPathSample{FunctionIndex: 0, LoopIndex: 0, Loop: 0}

	entry := c.TierUp(vm, prof, sample)
	require.NotEqual(t, (*JITEntry)(nil), entry)
	require.NotEqual(t, c.Stub(), entry)
	require.Equal(t, "synthesized-return", entry.DebugName)
	require.False(t, c.IsBlocklisted(Key{0, 0}))
}

// Scenario 4 (spec §8): with ORUS_JIT_FORCE_HELPER_STUB in effect,
// tier_up still succeeds and installs an entry for the scenario-1 loop,
// but the entry is the helper-stub trampoline rather than a direct
// emission: debug-named "orus_jit_helper_stub" and HelperStub-flagged,
// so Engine.Dispatch routes every iteration through
// codegen.ExecuteBlock instead of native dispatch.
func TestTierUpScenario4_ForcedHelperStub(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions:   map[uint16]*vmapi.Function{0: vmapi.NewFunction(0, 0, tightLoopChunk(), "loop")},
		stage:       ir.StageWideInts,
		enabled:     true,
		forceHelper: true,
	}
	prof := profiling.New(1000, c.IsBlocklistedFL)
	sample := profiling.HotPathSample{FunctionIndex: 0, LoopIndex: 0, Loop: 0}

	entry := c.TierUp(vm, prof, sample)
	require.NotEqual(t, (*JITEntry)(nil), entry)
	require.Equal(t, "orus_jit_helper_stub", entry.DebugName)
	require.True(t, entry.Block.HelperStub)
	require.Equal(t, uint64(1), c.TranslationSuccesses)
}

func TestTierUpStep2_DisabledJITReturnsNil(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions: map[uint16]*vmapi.Function{0: vmapi.NewFunction(0, 0, tightLoopChunk(), "loop")},
		stage:     ir.StageWideInts,
		enabled:   false,
	}
	prof := profiling.New(1000, c.IsBlocklistedFL)
	sample := profiling.HotPathSample{FunctionIndex: 0, LoopIndex: 0, Loop: 0}

	entry := c.TierUp(vm, prof, sample)
	require.Equal(t, (*JITEntry)(nil), entry)
}

func TestTierUpStep1_ResetsHotPathCounter(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions: map[uint16]*vmapi.Function{0: vmapi.NewFunction(0, 0, tightLoopChunk(), "loop")},
		stage:     ir.StageWideInts,
		enabled:   true,
	}
	prof := profiling.New(2, c.IsBlocklistedFL)
	prof.Enable(profiling.FlagHotPaths)
	prof.RecordHotPath(0, 0, 0)
	prof.RecordHotPath(0, 0, 0) // crosses hotThreshold=2, enqueues a sample

	samples := prof.DrainPendingSamples()
	require.Equal(t, 1, len(samples))

	c.TierUp(vm, prof, samples[0])

	// The counter was reset by step 1, so two more hits are needed
	// before another sample is enqueued.
	prof.RecordHotPath(0, 0, 0)
	require.Equal(t, 0, len(prof.DrainPendingSamples()))
	prof.RecordHotPath(0, 0, 0)
	require.Equal(t, 1, len(prof.DrainPendingSamples()))
}

// Generation monotonicity (spec §8): every install, across every key,
// receives a generation strictly greater than any prior install.
func TestGenerationMonotonicAcrossKeys(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions: map[uint16]*vmapi.Function{
			0: vmapi.NewFunction(0, 0, tightLoopChunk(), "loopA"),
			1: vmapi.NewFunction(0, 0, tightLoopChunk(), "loopB"),
		},
		stage:   ir.StageWideInts,
		enabled: true,
	}
	prof := profiling.New(1000, c.IsBlocklistedFL)

	a := c.TierUp(vm, prof, profiling.HotPathSample{FunctionIndex: 0, LoopIndex: 0, Loop: 0})
	b := c.TierUp(vm, prof, profiling.HotPathSample{FunctionIndex: 1, LoopIndex: 0, Loop: 0})
	require.True(t, b.Generation > a.Generation)
}

func TestBlocklistMonotonicityUnaffectedByStageChangeForNonRolloutCauses(t *testing.T) {
	c := newTestController(t)
	c.blocklistKey(Key{FunctionIndex: 5, LoopIndex: 0}, ir.StatusUnhandledOpcode)
	c.OnStageChange()
	require.True(t, c.IsBlocklisted(Key{FunctionIndex: 5, LoopIndex: 0}))
}

func TestFlushEntriesDropsInstalledEntries(t *testing.T) {
	c := newTestController(t)
	vm := &fakeVM{
		functions: map[uint16]*vmapi.Function{0: vmapi.NewFunction(0, 0, tightLoopChunk(), "loop")},
		stage:     ir.StageWideInts,
		enabled:   true,
	}
	prof := profiling.New(1000, c.IsBlocklistedFL)
	c.TierUp(vm, prof, profiling.HotPathSample{FunctionIndex: 0, LoopIndex: 0, Loop: 0})

	_, ok := c.Lookup(Key{0, 0})
	require.True(t, ok)

	require.NoError(t, c.FlushEntries())
	_, ok = c.Lookup(Key{0, 0})
	require.False(t, ok)
}
