package jitcache

import (
	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/profiling"
	"github.com/orus-lang/orusjit/internal/translator"
)

// TierUp runs the tier_up(vm, sample) protocol (spec §4.5) for one
// dequeued HotPathSample. The returned entry is the one the caller
// should transfer control to; nil means stay in the interpreter (the
// sample was dropped at step 2, either because JIT is globally disabled
// or the loop is already blocklisted). prof is used to re-arm the
// sample's hit counter (step 1) and is otherwise untouched.
func (c *Controller) TierUp(vm VM, prof *profiling.Context, sample profiling.HotPathSample) *JITEntry {
	key := Key{FunctionIndex: sample.FunctionIndex, LoopIndex: sample.LoopIndex}

	// Step 1: reset the hit counter so another T_hot hits must
	// accumulate before this loop is reconsidered.
	prof.ResetHotPathEntryCount(sample.Loop)

	// Step 2: bail out early if JIT is off or this loop has already
	// given up.
	if !vm.JITEnabled() || c.IsBlocklisted(key) {
		return nil
	}

	// Step 3: a cache hit needs no recompilation.
	if entry, ok := c.Lookup(key); ok {
		return entry
	}

	// Step 3b: an on-disk entry from a prior process, if one is
	// attached, is just as good as one compiled this run.
	if c.disk != nil {
		if entry, ok, err := c.disk.Load(key); err != nil {
			c.log.Warn().Err(err).Uint16("func", key.FunctionIndex).Uint16("loop", key.LoopIndex).
				Msg("loading entry from disk cache failed")
		} else if ok {
			c.mu.Lock()
			c.entries[key] = entry
			c.mu.Unlock()
			return entry
		}
	}

	fn := vm.Function(sample.FunctionIndex)
	if fn == nil || fn.Chunk == nil {
		// Nothing to translate against; treat as an invalid-input
		// failure without blocklisting, matching spec §7's InvalidInput
		// row, and fall through to a synthesized single-Return program
		// so the cache still records an install and the sample isn't
		// requeued forever.
		return c.emitSynthesizedReturn(key, "missing function or chunk")
	}

	stage := vm.RolloutStage()
	c.TranslationAttempts++
	result := translator.Translate(fn.Chunk, sample.FunctionIndex, sample.LoopIndex, fn.Start, sample.Loop, stage)

	// Step 5: translation failure handling.
	if !result.OK() {
		c.logFailure(result.Failure)
		if result.Failure.Status.Blocklisting() {
			c.blocklistKey(key, result.Failure.Status)
			_ = c.InvalidateEntry(InvalidateTrigger{Key: key, Reason: result.Failure.Status.String()})
			return c.stub
		}
		// INVALID_INPUT / OUT_OF_MEMORY: not blocklisted, but still
		// install a no-op program so this (func, loop) stops being
		// re-queued on every subsequent hot sample.
		return c.emitSynthesizedReturn(key, result.Failure.Status.String())
	}
	c.TranslationSuccesses++

	// Step 6: emit native code for the translated program. A forced
	// override (ORUS_JIT_FORCE_HELPER_STUB, spec §6 scenario 4) skips the
	// direct emitters entirely and always builds a helper-stub block,
	// debug-named so a caller inspecting the installed entry can tell the
	// fallback was forced rather than opportunistic.
	var block *codegen.NativeBlock
	var err error
	debugName := fn.DebugName
	if vm.ForceHelperStub() {
		block, err = codegen.CompileHelperStub(result.Program, c.target, fn.Chunk.Constants)
		debugName = "orus_jit_helper_stub"
	} else {
		block, err = codegen.Compile(result.Program, c.target)
		if err == nil && block.HelperStub {
			block.Constants = fn.Chunk.Constants
		}
	}
	if err != nil {
		c.log.Warn().Err(err).Uint16("func", key.FunctionIndex).Uint16("loop", key.LoopIndex).
			Msg("native emit failed, entering no-op stub")
		return c.stub
	}

	// Step 7: install, observing any concurrent invalidation on
	// re-lookup.
	return c.install(key, block, debugName)
}

// emitSynthesizedReturn builds the single-instruction [Return] program
// spec §4.5 step 5 calls for when translation fails with a non-
// blocklisting status: this still records an install so the loop is not
// requeued every time its sample crosses T_hot again, without pretending
// the loop body was actually compiled.
func (c *Controller) emitSynthesizedReturn(key Key, reason string) *JITEntry {
	program := ir.NewProgram(key.FunctionIndex, key.LoopIndex, 0)
	program.Append(ir.Instr{Op: ir.OpReturn})
	block, err := codegen.Compile(program, c.target)
	if err != nil {
		c.log.Warn().Err(err).Uint16("func", key.FunctionIndex).Uint16("loop", key.LoopIndex).
			Str("reason", reason).Msg("synthesized return emit failed, entering no-op stub")
		return c.stub
	}
	return c.install(key, block, "synthesized-return")
}

func (c *Controller) logFailure(rec ir.FailureRecord) {
	if c.failures != nil {
		c.failures.Record(rec)
	}
	c.log.Debug().
		Str("status", rec.Status.String()).
		Str("opcode", rec.Opcode).
		Str("kind", rec.ValueKind.String()).
		Uint32("offset", rec.BytecodeOffset).
		Uint16("func", rec.FunctionIndex).
		Uint16("loop", rec.LoopIndex).
		Msg("translation failure")
}
