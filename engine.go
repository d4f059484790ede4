// Package orusjit is the tiered execution core for the Orus bytecode
// VM: a bytecode -> typed IR translator, x86-64/AArch64 native code
// emitters, a JIT entry cache and tier controller, and
// deoptimization/safepoint handling (spec §1-§4). The
// lexer/parser/type-checker, bytecode emitter, builtins, GC, and
// CLI/REPL/module loader are collaborators reached only through the
// seams in internal/vmapi — this package embeds against a host VM, it
// does not run bytecode on its own.
package orusjit

import (
	"errors"
	"os"

	"github.com/rs/zerolog"

	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/engine"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/jitcache"
	"github.com/orus-lang/orusjit/internal/profiling"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

// Aliases let a host import only this package for the common path,
// while internal/vmapi, internal/ir, internal/jitcache, and
// internal/codegen remain the canonical definitions for anything more
// advanced (custom ExternalCache implementations, direct Controller
// access, and so on).
type (
	Function   = vmapi.Function
	Heap       = vmapi.Heap
	NativeCall = vmapi.NativeCall
	Clock      = vmapi.Clock
	Tier       = vmapi.Tier

	RolloutStage = ir.RolloutStage

	RuntimeContext = codegen.RuntimeContext
	ExitReason     = codegen.ExitReason

	JITEntry = jitcache.JITEntry
	Key      = jitcache.Key

	HotPathSample  = profiling.HotPathSample
	ProfilingFlags = profiling.Flags

	Registry = engine.Registry
)

const (
	TierBaseline    = vmapi.TierBaseline
	TierSpecialized = vmapi.TierSpecialized

	StageI32Only  = ir.StageI32Only
	StageWideInts = ir.StageWideInts
	StageFloats   = ir.StageFloats
	StageStrings  = ir.StageStrings
)

// ErrUnsupportedTarget is returned by New when the host architecture has
// no native code emitter (spec §1 scopes the core to x86-64 and AArch64
// only; a Baseline-only deployment of this module is not a target this
// package supports).
var ErrUnsupportedTarget = errors.New("orusjit: no native code emitter for this host architecture")

// Config gathers the knobs New needs to build a VM. Registry is the only
// required field; the rest default to reasonable starting points for a
// session that has not yet read any ORUS_JIT_* environment variables
// (spec §6).
type Config struct {
	// Registry resolves a function index to its vmapi.Function record.
	// Typically the host's own function table, implementing this single
	// method directly.
	Registry Registry

	// HotThreshold is T_hot (spec §4.1/§8 scenario 1): the number of
	// RecordHotPath calls for one loop header before it is queued for
	// tier-up. Zero means "use spec.md's documented default" via
	// DefaultHotThreshold.
	HotThreshold uint64

	// InitialStage is the rollout stage new VMs start at.
	InitialStage RolloutStage

	// JITEnabled is the initial state of the global JIT on/off switch.
	JITEnabled bool

	// ForceHelperStub forces every tier-up to compile through the
	// helper-stub interpreter fallback instead of attempting direct
	// native emission first (spec §4.3(c)/§6 scenario 4). Also settable
	// at runtime by exporting ORUS_JIT_FORCE_HELPER_STUB to any
	// non-empty value before New is called; either source being true is
	// enough.
	ForceHelperStub bool

	// Logger receives translation-failure and entry-cache diagnostics.
	// The zero value (zerolog.Logger{}) discards everything, same as
	// zerolog.Nop().
	Logger zerolog.Logger

	// DiskCacheDir, when non-empty, roots an on-disk compiled-entry
	// cache (spec §3): every entry this VM tiers up is persisted there,
	// and consulted before retranslating on a later run against the
	// same directory. Leave empty to keep entries in memory only.
	DiskCacheDir string

	// DiskCacheVersion gates DiskCacheDir's contents: bump it whenever
	// this build's native code layout changes so a prior run's entries
	// are treated as stale rather than loaded and invoked. Defaults to
	// DefaultDiskCacheVersion when DiskCacheDir is set and this is
	// empty.
	DiskCacheVersion string
}

// DefaultDiskCacheVersion is used when Config.DiskCacheDir is set but
// Config.DiskCacheVersion is empty.
const DefaultDiskCacheVersion = "orusjit-1"

// DefaultHotThreshold is used when Config.HotThreshold is zero.
const DefaultHotThreshold uint64 = 1000

// VM is the public facade over the tiering core: one instance per
// embedded Orus VM. It wraps internal/engine.Engine directly so callers
// needing the full surface (DrainHotPathSamples, Dispatch, Lookup,
// SetRolloutStage, Shutdown, and the underlying Cache/Prof/Bailout
// fields) can use it without an extra layer of forwarding methods.
type VM struct {
	*engine.Engine
}

// New builds a VM targeting the host's native architecture.
func New(cfg Config) (*VM, error) {
	target := codegen.HostTarget()
	if target == codegen.TargetUnsupported {
		return nil, ErrUnsupportedTarget
	}

	hotThreshold := cfg.HotThreshold
	if hotThreshold == 0 {
		hotThreshold = DefaultHotThreshold
	}

	forceHelperStub := cfg.ForceHelperStub || os.Getenv("ORUS_JIT_FORCE_HELPER_STUB") != ""
	e, err := engine.New(target, cfg.Registry, hotThreshold, cfg.InitialStage, cfg.JITEnabled, forceHelperStub, cfg.Logger)
	if err != nil {
		return nil, err
	}

	if cfg.DiskCacheDir != "" {
		version := cfg.DiskCacheVersion
		if version == "" {
			version = DefaultDiskCacheVersion
		}
		e.AttachDiskCache(cfg.DiskCacheDir, version, target)
	}

	return &VM{Engine: e}, nil
}
