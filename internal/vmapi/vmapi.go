// Package vmapi defines the narrowest interfaces this module's tiered
// execution core needs from its collaborators — the front end, the
// bytecode emitter, builtins, and the garbage collector — all of which
// are explicitly out of scope (spec §1) and reached only through these
// seams.
package vmapi

import (
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/value"
)

// Tier identifies whether a Function is running interpreted bytecode or
// has an installed native entry for one or more of its loops.
type Tier uint8

const (
	TierBaseline Tier = iota
	TierSpecialized
)

// Function is the subset of the VM's function record the tiering core
// needs: the chunk to translate from, tiering bookkeeping, and an
// optional deopt handler invoked by the bailout path (spec §3/§4.6).
type Function struct {
	Start               uint32
	Arity               uint8
	Chunk               *bytecode.Chunk
	SpecializedChunk    *bytecode.Chunk
	Tier                Tier
	SpecializationHits  uint64
	DebugName           string
	DeoptHandler        func(f *Function)

	// PotentialUpvalues is a placeholder returning 1 per function,
	// matching the C implementation's countPotentialUpvalues stub
	// (spec §9): the complexity-analysis signal it feeds is nominal,
	// not computed. Preserved verbatim rather than guessed at.
	PotentialUpvalues int
}

func NewFunction(start uint32, arity uint8, chunk *bytecode.Chunk, debugName string) *Function {
	return &Function{Start: start, Arity: arity, Chunk: chunk, DebugName: debugName, PotentialUpvalues: 1}
}

// Heap is the garbage collector's safepoint contract (spec §1): the
// tiering core may poll it at safepoints and ask it to intern strings
// produced by ConcatString/ToString, but performs no other heap
// operations.
type Heap interface {
	SafepointPoll()
	InternString(s string) uintptr
}

// NativeCall is the builtins calling convention exposed to the native
// tier (spec §1): CALL_NATIVE_R lowers to this.
type NativeCall interface {
	CallNative(idx uint16, args []value.Value) (value.Value, error)
}

// Clock is the monotonic high-resolution clock both the `@..` print
// placeholder and the TIME_STAMP opcode read from (spec §6).
type Clock interface {
	NowSeconds() float64
	NowNanos() int64
}
