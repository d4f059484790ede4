// Package deopt implements the bailout half of spec §4.6: when a
// compiled native block exits with codegen.ExitTypeGuardFail, its
// (function, loop) entry is permanently blocklisted, its executable
// memory is released at the next safepoint rather than out from under
// its own return, and the owning Function is handed back to the
// interpreter at a well-defined bytecode offset.
package deopt

import (
	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/jitcache"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

// Bailout is the per-VM deopt handler, holding only the seam it needs
// back into the entry cache.
type Bailout struct {
	cache *jitcache.Controller

	// TypeDeopts counts every resolved type-guard bailout, for the same
	// kind of coarse counter profiling export surfaces elsewhere.
	TypeDeopts uint64
}

// New returns a Bailout wired to cache.
func New(cache *jitcache.Controller) *Bailout {
	return &Bailout{cache: cache}
}

// Resolve runs the bailout protocol for one ExitTypeGuardFail exit from
// block, installed under key and owned by fn: blocklist key so it is
// never retranslated at the current rollout stage, request the entry's
// deferred release (the caller is still unwinding out of that entry's
// return, so InvalidateEntry directly would be unsafe), reset fn to
// baseline (or defer to its DeoptHandler if the host installed one), and
// return the bytecode offset the interpreter should resume execution
// at — the guarded instruction's originating offset, recovered from the
// same Program the block was compiled from rather than threaded through
// the fixed ExitFrame ABI.
//
// Resolve panics if frame.Reason is not codegen.ExitTypeGuardFail: it is
// a programming error to route any other exit reason here.
func (b *Bailout) Resolve(key jitcache.Key, fn *vmapi.Function, block *codegen.NativeBlock, frame codegen.ExitFrame) uint32 {
	if frame.Reason != codegen.ExitTypeGuardFail {
		panic("deopt: Resolve called with a non-type-guard exit reason")
	}
	b.TypeDeopts++

	b.cache.BlocklistTypeGuardFailure(key)
	b.cache.RequestDeferredInvalidate(jitcache.InvalidateTrigger{
		Key:    key,
		Reason: "type_guard_fail",
	})

	resumeOffset := block.Program.Instructions[frame.InstrIndex].BytecodeOffset

	if fn.DeoptHandler != nil {
		fn.DeoptHandler(fn)
	} else {
		fn.Tier = vmapi.TierBaseline
		fn.SpecializedChunk = nil
	}

	return resumeOffset
}
