// Package engine wires the profiling subsystem, translator, codegen and
// jitcache packages into the single-threaded "compile on demand, cache,
// serve" loop spec §4.5 describes, and routes a compiled block's exit
// back through internal/deopt. This package owns no bytecode
// interpreter of its own: the interpreter and front end that decode
// bytecode and drive hot-path samples are collaborators reached only
// through internal/vmapi (spec §1). Engine is the seam a host
// interpreter's main loop calls into at its own safepoints.
package engine

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/deopt"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/jitcache"
	"github.com/orus-lang/orusjit/internal/profiling"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

// Registry is the narrowest function lookup the engine needs; a host
// VM's function table satisfies this directly.
type Registry interface {
	Function(functionIndex uint16) *vmapi.Function
}

// Engine owns one VM's tier controller, profiling context, and deopt
// handler. The zero value is not usable; construct with New.
type Engine struct {
	Cache   *jitcache.Controller
	Prof    *profiling.Context
	Bailout *deopt.Bailout

	registry    Registry
	stage       atomic.Int32
	jitOn       atomic.Bool
	forceHelper atomic.Bool
	log         zerolog.Logger
}

// New builds an Engine targeting target and backed by registry for
// function lookups. hotThreshold seeds the profiling context's T_hot
// (spec §4.1); stage, jitEnabled, and forceHelperStub seed the initial
// rollout stage, JIT on/off switch, and ORUS_JIT_FORCE_HELPER_STUB
// override (spec §4.3(c)/§6 scenario 4) — the ORUS_JIT_* environment
// variables are read by the caller and passed through here, not by this
// package.
func New(target codegen.Target, registry Registry, hotThreshold uint64, stage ir.RolloutStage, jitEnabled, forceHelperStub bool, logger zerolog.Logger) (*Engine, error) {
	failures := ir.NewFailureLog()
	cache, err := jitcache.NewController(target, failures, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Cache:    cache,
		Bailout:  deopt.New(cache),
		registry: registry,
		log:      logger,
	}
	e.stage.Store(int32(stage))
	e.jitOn.Store(jitEnabled)
	e.forceHelper.Store(forceHelperStub)
	e.Prof = profiling.New(hotThreshold, cache.IsBlocklistedFL)
	return e, nil
}

// AttachDiskCache wires an on-disk compiled-entry cache rooted at
// dirPath into this engine's Cache, gated on version (see
// jitcache.NewOrusJitCache). Call this once, before the first
// DrainHotPathSamples, so a warm loop from a prior process is available
// immediately rather than only after this run retiers it.
func (e *Engine) AttachDiskCache(dirPath, version string, target codegen.Target) {
	e.Cache.AttachDiskCache(jitcache.NewOrusJitCache(jitcache.NewFileExternalCache(dirPath), version, target))
}

// Function implements jitcache.VM.
func (e *Engine) Function(functionIndex uint16) *vmapi.Function { return e.registry.Function(functionIndex) }

// RolloutStage implements jitcache.VM.
func (e *Engine) RolloutStage() ir.RolloutStage { return ir.RolloutStage(e.stage.Load()) }

// JITEnabled implements jitcache.VM.
func (e *Engine) JITEnabled() bool { return e.jitOn.Load() }

// ForceHelperStub implements jitcache.VM: when true, tier_up compiles
// every translated program as a helper-stub block (spec §4.3(c)/§6
// scenario 4) rather than attempting direct emission first.
func (e *Engine) ForceHelperStub() bool { return e.forceHelper.Load() }

// SetForceHelperStub flips the ORUS_JIT_FORCE_HELPER_STUB override.
func (e *Engine) SetForceHelperStub(on bool) { e.forceHelper.Store(on) }

// SetRolloutStage advances the staged value-kind rollout (spec §4.2) and
// clears any ROLLOUT_DISABLED blocklist entries the new stage now
// permits, matching the tier controller's OnStageChange contract.
func (e *Engine) SetRolloutStage(stage ir.RolloutStage) {
	e.stage.Store(int32(stage))
	e.Cache.OnStageChange()
}

// SetJITEnabled flips the global JIT switch; tier_up checks this on
// every call (spec §4.5 step 2).
func (e *Engine) SetJITEnabled(on bool) { e.jitOn.Store(on) }

// DrainHotPathSamples runs tier_up for every sample enqueued since the
// last call, returning the entries newly available for dispatch. Call
// this at a VM-level safepoint, the same cadence as
// ResolvePendingInvalidate.
func (e *Engine) DrainHotPathSamples() []*jitcache.JITEntry {
	samples := e.Prof.DrainPendingSamples()
	if len(samples) == 0 {
		return nil
	}
	installed := make([]*jitcache.JITEntry, 0, len(samples))
	for _, s := range samples {
		if entry := e.Cache.TierUp(e, e.Prof, s); entry != nil {
			installed = append(installed, entry)
		}
	}
	return installed
}

// Lookup returns the currently installed native entry for (function,
// loop), if any.
func (e *Engine) Lookup(functionIndex, loopIndex uint16) (*jitcache.JITEntry, bool) {
	return e.Cache.Lookup(jitcache.Key{FunctionIndex: functionIndex, LoopIndex: loopIndex})
}

// Dispatch invokes entry with ctx and handles its exit. resumeOffset is
// only meaningful when deopted is true (an ExitTypeGuardFail bailout);
// for ExitReturn/ExitLoopComplete the caller's own bytecode offset
// tracking already knows where to resume. native and clock are passed
// through to codegen.ExecuteBlock for entries that exit with
// ExitCallHelper (spec §4.3(c)); both may be nil if the host has
// nothing to wire there yet.
func (e *Engine) Dispatch(key jitcache.Key, fn *vmapi.Function, entry *jitcache.JITEntry, ctx *codegen.RuntimeContext, heap vmapi.Heap, native vmapi.NativeCall, clock vmapi.Clock) (resumeOffset uint32, deopted bool) {
	entry.Block.Invoke(ctx)
	return e.handleExit(key, fn, entry, ctx, heap, native, clock)
}

// handleExit interprets ctx.Exit after a block invocation. ExitCallHelper
// is the one case Dispatch itself cannot resolve by just returning: it
// hands control to codegen.ExecuteBlock, the Program interpreter a
// helper-stub block's trampoline exists to reach, and once that returns
// re-examines whatever terminal ExitReason ExecuteBlock left behind —
// recursing here rather than looping, since ExecuteBlock always runs the
// Program to a genuine terminal exit (Return/LoopComplete/TypeGuardFail)
// and never itself produces another ExitCallHelper.
func (e *Engine) handleExit(key jitcache.Key, fn *vmapi.Function, entry *jitcache.JITEntry, ctx *codegen.RuntimeContext, heap vmapi.Heap, native vmapi.NativeCall, clock vmapi.Clock) (resumeOffset uint32, deopted bool) {
	switch ctx.Exit.Reason {
	case codegen.ExitSafepoint:
		if heap != nil {
			heap.SafepointPoll()
		}
		if err := e.Cache.ResolvePendingInvalidate(); err != nil {
			e.log.Warn().Err(err).Msg("resolving deferred jit invalidation at safepoint")
		}
		return 0, false

	case codegen.ExitTypeGuardFail:
		offset := e.Bailout.Resolve(key, fn, entry.Block, ctx.Exit)
		if err := e.Cache.ResolvePendingInvalidate(); err != nil {
			e.log.Warn().Err(err).Msg("resolving deferred jit invalidation after type deopt")
		}
		return offset, true

	case codegen.ExitCallHelper:
		codegen.ExecuteBlock(entry.Block, ctx, heap, native, clock)
		return e.handleExit(key, fn, entry, ctx, heap, native, clock)

	default: // ExitReturn, ExitLoopComplete, ExitNone
		return 0, false
	}
}

// Shutdown tears down the engine's owned resources: every installed
// native entry and the profiling context's pending sample queue. The
// shared stub entry is left to the process allocator's lifetime, same
// as jitcache.Controller.FlushEntries documents.
func (e *Engine) Shutdown() error {
	e.Prof.Shutdown()
	return e.Cache.FlushEntries()
}
