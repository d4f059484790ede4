// Command orusjit-bench exercises the tiering core end-to-end without a
// front end: it assembles the scenario-1 tight counted loop (spec §8),
// feeds it hot-path samples until the tier controller compiles and
// installs a native entry, dispatches that entry once, and prints the
// profiling JSON export. Grounded on the teacher's cmd/wazero, which
// hand-rolls flag-based subcommands around the same engine this module
// repurposes (internal/engine) rather than reaching for a CLI framework.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	orusjit "github.com/orus-lang/orusjit"
	"github.com/orus-lang/orusjit/internal/bytecode"
	"github.com/orus-lang/orusjit/internal/profiling"
	"github.com/orus-lang/orusjit/internal/value"
	"github.com/orus-lang/orusjit/internal/vmapi"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("orusjit-bench", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	iterations := flags.Int("n", 100000, "maximum interpreter passes to simulate before giving up on tier-up")
	hotThreshold := flags.Uint64("hot", 3, "hot-path sample count before the loop is queued for tier-up")
	limit := flags.Int("limit", 1000, "counter limit for the synthetic tight loop")
	jitEnabled := flags.Bool("jit", true, "enable the JIT tier controller")
	diskCacheDir := flags.String("diskcache", "", "directory for the on-disk compiled-entry cache (empty disables it)")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *iterations <= 0 {
		fmt.Fprintln(stdErr, "orusjit-bench: -n must be positive")
		return 2
	}

	reg := &registry{functions: map[uint16]*vmapi.Function{
		0: vmapi.NewFunction(0, 0, tightLoopChunk(), "bench_loop"),
	}}

	vm, err := orusjit.New(orusjit.Config{
		Registry:     reg,
		HotThreshold: *hotThreshold,
		InitialStage: orusjit.StageWideInts,
		JITEnabled:   *jitEnabled,
		DiskCacheDir: *diskCacheDir,
	})
	if err != nil {
		fmt.Fprintln(stdErr, "orusjit-bench:", err)
		return 1
	}
	defer vm.Shutdown()

	vm.Prof.Enable(profiling.FlagHotPaths | profiling.FlagInstructions)

	var bank value.TypedRegisterBank
	var regs value.RegisterFile
	var safepoint uint32
	bank.I32Regs[0] = 0
	bank.I32Regs[1] = int32(*limit)

	key := orusjit.Key{FunctionIndex: 0, LoopIndex: 0}

	for i := 0; i < *iterations && bank.I32Regs[0] < int32(*limit); i++ {
		if entry, ok := vm.Lookup(key.FunctionIndex, key.LoopIndex); ok {
			ctx := &orusjit.RuntimeContext{Bank: &bank, Registers: &regs, Safepoint: &safepoint}
			vm.Dispatch(key, reg.functions[0], entry, ctx, nil, nil, nil)
			// A native entry for the fused counted loop runs the whole
			// back edge to completion in one Invoke; nothing left to do.
			break
		}

		// Simulate the baseline interpreter taking one counted-loop step
		// and reporting it to the profiler, same accounting the real
		// interpreter would perform around INC_CMP_JMP.
		vm.Prof.RecordInstruction(byte(bytecode.OpIncCmpJmp), 1)
		vm.Prof.RecordHotPath(key.FunctionIndex, key.LoopIndex, 0)
		vm.DrainHotPathSamples()
		bank.I32Regs[0]++
	}

	if err := vm.Prof.Export(stdOut, nil); err != nil {
		fmt.Fprintln(stdErr, "orusjit-bench:", err)
		return 1
	}
	return 0
}

// tightLoopChunk builds the scenario-1 tight counted loop: a MOVE_I32
// that establishes the counter's tracked kind, followed by the fused
// INC_CMP_JMP back edge (spec §8 scenario 1).
func tightLoopChunk() *bytecode.Chunk {
	code := []byte{
		byte(bytecode.OpMoveI32), 0, 0,
		byte(bytecode.OpIncCmpJmp), 0, 1, 0, 0,
	}
	return &bytecode.Chunk{Code: code}
}

type registry struct {
	functions map[uint16]*vmapi.Function
}

func (r *registry) Function(idx uint16) *vmapi.Function { return r.functions[idx] }
