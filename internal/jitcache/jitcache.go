// Package jitcache owns the installed-entry cache and tier controller:
// the authority for deciding when a hot loop gets compiled, what native
// entry a (function, loop) pair currently resolves to, and how
// invalidation and blocklisting interact with the single-threaded VM
// safepoint protocol.
package jitcache

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

// Key identifies one loop entry point: a single function may have many
// loops, each tiered up independently.
type Key struct {
	FunctionIndex uint16
	LoopIndex     uint16
}

// JITEntry is the cache's record for one installed native entry: the
// compiled block plus the bookkeeping fields the cache and the deopt
// path need without reaching back into codegen internals.
type JITEntry struct {
	Block        *codegen.NativeBlock
	EntryPoint   uintptr
	CodePtr      uintptr
	CodeSize     uintptr
	CodeCapacity uintptr
	DebugName    string
	Generation   uint64
}

func newEntry(block *codegen.NativeBlock, debugName string, generation uint64) *JITEntry {
	return &JITEntry{
		Block:        block,
		EntryPoint:   block.Code.Addr(),
		CodePtr:      block.Code.Addr(),
		CodeSize:     uintptr(block.Code.Len()),
		CodeCapacity: block.Code.Size(),
		DebugName:    debugName,
		Generation:   generation,
	}
}

// InvalidateTrigger records why an entry is being dropped, for the
// failure log and for the deferred-release protocol a bailout helper
// running inside the entry must use.
type InvalidateTrigger struct {
	Key    Key
	Reason string
}

// VM is the narrow seam tier_up needs from the host: the function
// registry and the global knobs (rollout stage, JIT enable switch,
// helper-stub override) it reads on every call. Everything else the protocol touches
// (the profiling context, the cache itself) is owned by this package or
// passed explicitly.
type VM interface {
	Function(functionIndex uint16) *vmapi.Function
	RolloutStage() ir.RolloutStage
	JITEnabled() bool

	// ForceHelperStub reports the ORUS_JIT_FORCE_HELPER_STUB override
	// (spec §4.3(c)/§6 scenario 4): when true, tier_up always compiles
	// through codegen.CompileHelperStub instead of attempting direct
	// emission.
	ForceHelperStub() bool
}

// Controller is the per-VM tier controller and entry cache. The zero
// value is not usable; construct with NewController so the shared
// no-op stub block exists before the first tier_up call.
type Controller struct {
	mu      sync.RWMutex
	entries map[Key]*JITEntry

	blMu      sync.Mutex
	blocklist map[Key]ir.Status

	generation atomic.Uint64

	target codegen.Target
	stub   *JITEntry

	failures *ir.FailureLog
	log      zerolog.Logger

	pendingMu sync.Mutex
	pending   *InvalidateTrigger

	disk *OrusJitCache

	TranslationAttempts  uint64
	TranslationSuccesses uint64
}

// AttachDiskCache wires an on-disk compiled-entry cache into this
// controller: tier_up consults it before translating (a warm cache
// across process restarts), and persists every freshly compiled entry
// to it on install. A Controller with no disk cache attached behaves
// exactly as before.
func (c *Controller) AttachDiskCache(disk *OrusJitCache) {
	c.disk = disk
}

// NewController builds a Controller targeting target, compiling the
// shared jit_entry_stub (an always-returning no-op block installed once,
// spec §4.5's "installed at VM init") up front. logger may be the zero
// value (zerolog.Nop()); failures is the shared TranslationFailureLog
// the caller also exposes through profiling export.
func NewController(target codegen.Target, failures *ir.FailureLog, logger zerolog.Logger) (*Controller, error) {
	stubProgram := ir.NewProgram(0, 0, 0)
	stubProgram.Append(ir.Instr{Op: ir.OpReturn})
	stubBlock, err := codegen.Compile(stubProgram, target)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		entries:   make(map[Key]*JITEntry),
		blocklist: make(map[Key]ir.Status),
		target:    target,
		failures:  failures,
		log:       logger,
	}
	c.stub = newEntry(stubBlock, "jit_entry_stub", c.generation.Add(1))
	return c, nil
}

// Lookup returns the currently installed entry for key, if any.
func (c *Controller) Lookup(key Key) (*JITEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// IsBlocklisted reports whether key is currently blocklisted.
func (c *Controller) IsBlocklisted(key Key) bool {
	c.blMu.Lock()
	defer c.blMu.Unlock()
	_, ok := c.blocklist[key]
	return ok
}

// IsBlocklistedFL is IsBlocklisted with the (functionIndex, loopIndex)
// signature profiling.New expects for its veto callback, so a
// Controller can be wired in directly without an adapter closure at
// every call site.
func (c *Controller) IsBlocklistedFL(functionIndex, loopIndex uint16) bool {
	return c.IsBlocklisted(Key{FunctionIndex: functionIndex, LoopIndex: loopIndex})
}

func (c *Controller) blocklistKey(key Key, status ir.Status) {
	c.blMu.Lock()
	c.blocklist[key] = status
	c.blMu.Unlock()
}

// BlocklistTypeGuardFailure permanently blocklists key after a native
// type guard tripped at runtime (spec §8 scenario 3): unlike the
// translation-time failures tier_up records directly, this is driven
// from the deopt path, which has no other way to reach blocklistKey.
func (c *Controller) BlocklistTypeGuardFailure(key Key) {
	c.blocklistKey(key, ir.StatusTypeGuardFailure)
}

// OnStageChange clears every blocklist entry whose cause was
// ROLLOUT_DISABLED: a stage bump may now permit the kind that tripped
// it, matching spec §7's "a stage bump re-enables it". Entries
// blocklisted for any other reason are unaffected — blocklisting stays
// monotonic outside of this explicit reset.
func (c *Controller) OnStageChange() {
	c.blMu.Lock()
	defer c.blMu.Unlock()
	for k, status := range c.blocklist {
		if status == ir.StatusRolloutDisabled {
			delete(c.blocklist, k)
		}
	}
}

// install places entry into the cache under key, bumping the global
// generation counter so Generation is strictly greater than any prior
// value assigned to any key, then re-reads the map entry to observe any
// invalidation that raced with the compile (spec §4.5 step 7).
func (c *Controller) install(key Key, block *codegen.NativeBlock, debugName string) *JITEntry {
	entry := newEntry(block, debugName, c.generation.Add(1))
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	if c.disk != nil {
		if err := c.disk.Save(key, entry); err != nil {
			c.log.Warn().Err(err).Uint16("func", key.FunctionIndex).Uint16("loop", key.LoopIndex).
				Msg("persisting entry to disk cache failed")
		}
	}

	c.mu.RLock()
	fresh, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return fresh
}

// InvalidateEntry drops key's binding and releases its executable
// memory immediately. Only safe to call when not currently executing
// inside that entry; a bailout helper running inside the entry must use
// RequestDeferredInvalidate instead (spec §4.5's invalidate_entry).
func (c *Controller) InvalidateEntry(trigger InvalidateTrigger) error {
	c.mu.Lock()
	entry, ok := c.entries[trigger.Key]
	if ok {
		delete(c.entries, trigger.Key)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return entry.Block.Release()
}

// RequestDeferredInvalidate records trigger for release at the next
// VM-level safepoint, matching spec §4.5's "set
// vm.jit_pending_invalidate = true... perform the release at the
// VM-level safepoint that immediately follows the entry". Call this
// from inside a compiled entry's bailout helper, never InvalidateEntry
// directly, since the entry's own code and stack frame still reference
// its executable memory until it returns.
func (c *Controller) RequestDeferredInvalidate(trigger InvalidateTrigger) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	t := trigger
	c.pending = &t
}

// ResolvePendingInvalidate performs any deferred release requested by
// RequestDeferredInvalidate. The VM must call this at the safepoint
// immediately following a compiled entry's return, before re-entering
// either the interpreter or a different compiled entry.
func (c *Controller) ResolvePendingInvalidate() error {
	c.pendingMu.Lock()
	trigger := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	if trigger == nil {
		return nil
	}
	return c.InvalidateEntry(*trigger)
}

// FlushEntries drops and releases every installed entry. Used on VM
// shutdown and on wholesale bytecode regeneration (spec §4.5). Does not
// touch the blocklist or the shared stub.
func (c *Controller) FlushEntries() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[Key]*JITEntry)
	c.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.Block.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stub returns the shared always-returning no-op entry installed at
// controller construction.
func (c *Controller) Stub() *JITEntry { return c.stub }
