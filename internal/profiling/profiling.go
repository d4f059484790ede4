// Package profiling records what the VM is doing without perturbing
// correctness, and exposes two signals: per-opcode hotness for dispatch
// tuning, and per-loop/function hit counts for tier-up decisions
// (spec §4.1).
package profiling

import "sync"

// Flags is a bitset over the profiling categories enable() accepts.
type Flags uint8

const (
	FlagInstructions Flags = 1 << iota
	FlagHotPaths
	FlagRegisterUsage
	FlagMemoryAccess
	FlagBranchPrediction
	FlagFunctionCalls

	FlagAll = FlagInstructions | FlagHotPaths | FlagRegisterUsage |
		FlagMemoryAccess | FlagBranchPrediction | FlagFunctionCalls
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

const (
	hotPathSlots  = 1024
	loopSlots     = 4096
	functionSlots = 4096
	// sampleGateN mirrors spec §4.1's "every Nth interpreter step"; fixed
	// for the session, not reconfigurable at runtime.
	sampleGateN = 64
)

// InstructionStat is the per-opcode entry in instruction_stats[256].
type InstructionStat struct {
	Count  uint64
	Cycles uint64
	IsHot  bool
}

// HotPathEntry is a hash-slotted, approximate counter: collisions are
// allowed, consumers must treat entries as approximate (spec §4.1).
type HotPathEntry struct {
	Hash            uint32
	EntryCount      uint64
	TotalIterations uint64
	IsCurrentlyHot  bool
}

// AddressCounter is the address-keyed hit counter shared by loop_stats
// and function_stats: overwritten, not chained, on key collision.
type AddressCounter struct {
	Address uint32
	Hits    uint64
	key     uint32 // the raw slot key this counter currently belongs to
	valid   bool
}

// RegisterStat tracks allocations/spills/reuses/average lifetime for a
// single register slot.
type RegisterStat struct {
	Allocations  uint64
	Spills       uint64
	Reuses       uint64
	LifetimeSum  uint64
	LifetimeObs  uint64
}

func (s *RegisterStat) AverageLifetime() float64 {
	if s.LifetimeObs == 0 {
		return 0
	}
	return float64(s.LifetimeSum) / float64(s.LifetimeObs)
}

// HotPathSample is enqueued for the tier controller when a hot_paths
// entry first crosses T_hot and its loop is not blocklisted.
type HotPathSample struct {
	FunctionIndex uint16
	LoopIndex     uint16
	Loop          uint32 // bytecode offset of the loop header
}

// Context is the process-wide profiling state with lifecycle
// init -> enable(flags) -> accumulate -> export/dump -> shutdown
// (spec §3/§4.1). Mutated only on the VM's single execution thread
// (spec §5), so no internal locking is required for the hot counters;
// a mutex only guards Export, which may run concurrently with shutdown
// in tests.
type Context struct {
	mu sync.Mutex

	enabled Flags

	instructionStats [256]InstructionStat
	hotPaths         [hotPathSlots]HotPathEntry
	loopStats        [loopSlots]AddressCounter
	functionStats    [functionSlots]AddressCounter
	registerStats    [256]RegisterStat

	sampleCounter uint64

	memoryReads, memoryWrites     uint64
	cacheHits, cacheMisses        uint64
	branches, correctPredictions  uint64

	// TotalInstructions/TotalCycles mirror the export JSON's top-level
	// totals; tracked separately from per-opcode stats so export stays
	// O(1) for the aggregate fields.
	TotalInstructions uint64
	TotalCycles       uint64

	hotThreshold uint64
	pending      []HotPathSample
	blocklisted  func(functionIndex, loopIndex uint16) bool
}

// New returns a freshly initialized profiling context. hotThreshold is
// T_hot from spec §4.1/§8 scenario 1; isBlocklisted lets the tier
// controller veto enqueuing samples for loops it has already given up
// on, without this package importing the jitcache package.
func New(hotThreshold uint64, isBlocklisted func(functionIndex, loopIndex uint16) bool) *Context {
	return &Context{hotThreshold: hotThreshold, blocklisted: isBlocklisted}
}

// Enable is idempotent: calling it repeatedly with the same or a
// superset of flags only ever adds categories, never clears one.
func (c *Context) Enable(flags Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled |= flags
}

func (c *Context) IsEnabled(flag Flags) bool { return c.enabled.has(flag) }

// RecordInstruction accounts one executed opcode. Called from the
// interpreter's dispatch loop; cheap enough to run unconditionally, the
// Flags gate decides whether the hotness bit is ever set.
func (c *Context) RecordInstruction(opcode byte, cycles uint64) {
	c.TotalInstructions++
	c.TotalCycles += cycles
	if !c.enabled.has(FlagInstructions) {
		return
	}
	st := &c.instructionStats[opcode]
	st.Count++
	st.Cycles += cycles
	if st.Count > uint64(sampleGateN)*4 {
		st.IsHot = true
	}
}

// hotPathHash implements spec §4.1's "(address >> 3) mod 1024" for
// instruction-pointer-like inputs.
func hotPathHash(address uint32) uint32 { return (address >> 3) % hotPathSlots }

// slotKey implements the loop/function slot key "(address >> 3) mod
// SLOTS"; on key mismatch, the old slot is overwritten (no chaining).
func slotKey(address uint32, slots uint32) uint32 { return (address >> 3) % slots }

// SampleStep advances the sample gate; callers (the interpreter's main
// loop) call this once per bytecode instruction. It returns true on
// sampled steps, letting the interpreter skip the heavier accounting
// below on off-steps.
func (c *Context) SampleStep() bool {
	c.sampleCounter++
	return c.sampleCounter%sampleGateN == 0
}

// RecordHotPath accounts one interpreter entry into address (typically
// a loop header or call site). If this sample crosses the tier-up
// threshold and the loop is not blocklisted, a HotPathSample is
// enqueued for the tier controller (spec §4.1's tier-up trigger).
func (c *Context) RecordHotPath(functionIndex, loopIndex uint16, address uint32) {
	if !c.enabled.has(FlagHotPaths) {
		return
	}
	h := hotPathHash(address)
	e := &c.hotPaths[h]
	if e.Hash != h && e.EntryCount != 0 {
		// Collision: spec permits approximate accounting, we simply
		// continue to accumulate into the same slot rather than chain.
	}
	e.Hash = h
	e.EntryCount++
	e.TotalIterations++
	crossedNow := e.EntryCount == c.hotThreshold
	if crossedNow {
		e.IsCurrentlyHot = true
	}
	if crossedNow && (c.blocklisted == nil || !c.blocklisted(functionIndex, loopIndex)) {
		c.mu.Lock()
		c.pending = append(c.pending, HotPathSample{FunctionIndex: functionIndex, LoopIndex: loopIndex, Loop: address})
		c.mu.Unlock()
	}
}

// DrainPendingSamples returns and clears every HotPathSample enqueued
// since the last drain; the tier controller calls this once per
// safepoint.
func (c *Context) DrainPendingSamples() []HotPathSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// ResetHotPathEntryCount re-arms a sample so another T_hot hits must
// accumulate before tier_up attempts it again (tier_up protocol step 1,
// spec §4.5).
func (c *Context) ResetHotPathEntryCount(address uint32) {
	h := hotPathHash(address)
	c.hotPaths[h].EntryCount = 0
}

func (c *Context) recordAddressCounter(table []AddressCounter, address uint32) {
	k := slotKey(address, uint32(len(table)))
	slot := &table[k]
	if slot.valid && slot.Address != address {
		*slot = AddressCounter{}
	}
	slot.key = k
	slot.valid = true
	slot.Address = address
	slot.Hits++
}

func (c *Context) RecordLoopHit(address uint32) {
	if c.enabled.has(FlagHotPaths) {
		c.recordAddressCounter(c.loopStats[:], address)
	}
}

func (c *Context) RecordFunctionHit(address uint32) {
	if c.enabled.has(FlagFunctionCalls) {
		c.recordAddressCounter(c.functionStats[:], address)
	}
}

func (c *Context) RecordRegisterAllocation(reg byte) {
	if c.enabled.has(FlagRegisterUsage) {
		c.registerStats[reg].Allocations++
	}
}

func (c *Context) RecordRegisterSpill(reg byte) {
	if c.enabled.has(FlagRegisterUsage) {
		c.registerStats[reg].Spills++
	}
}

func (c *Context) RecordMemoryAccess(isWrite bool) {
	if !c.enabled.has(FlagMemoryAccess) {
		return
	}
	if isWrite {
		c.memoryWrites++
	} else {
		c.memoryReads++
	}
}

func (c *Context) RecordCache(hit bool) {
	if !c.enabled.has(FlagMemoryAccess) {
		return
	}
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
}

func (c *Context) RecordBranch(correct bool) {
	if !c.enabled.has(FlagBranchPrediction) {
		return
	}
	c.branches++
	if correct {
		c.correctPredictions++
	}
}

// Shutdown releases any resources acquired by Enable/accumulate. The
// in-memory counters never allocate on the hot path, so there is
// nothing to free beyond letting the Context be garbage collected;
// this exists to make the init->enable->accumulate->export->shutdown
// lifecycle explicit and symmetric.
func (c *Context) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}
