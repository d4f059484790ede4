package jitcache

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/ir"
	"github.com/orus-lang/orusjit/internal/testing/require"
)

func addProgramWithArgs() *ir.Program {
	program := ir.NewProgram(3, 1, 40)
	program.LoopEndOffset = 64
	program.Append(ir.Instr{Op: ir.OpAdd, Kind: ir.ValueI32, BytecodeOffset: 17,
		Operand: ir.Operand{Dst: 2, Lhs: 0, Rhs: 1}})
	program.Append(ir.Instr{Op: ir.OpCallNative, BytecodeOffset: 21,
		Operand: ir.Operand{NativeIndex: 5, Args: []uint16{0, 1, 2}}})
	program.Append(ir.Instr{Op: ir.OpReturn, BytecodeOffset: 23,
		Operand: ir.Operand{HasReturnValue: true, ReturnReg: 2}})
	return program
}

func compileTestBlock(t *testing.T) (*codegen.NativeBlock, codegen.Target) {
	t.Helper()
	target := codegen.HostTarget()
	if target == codegen.TargetUnsupported {
		t.Skip("no native codegen target on this host architecture")
	}
	block, err := codegen.Compile(addProgramWithArgs(), target)
	require.NoError(t, err)
	return block, target
}

func TestFileExternalCacheRoundTripsAndDeletes(t *testing.T) {
	dir := t.TempDir()
	fc := NewFileExternalCache(filepath.Join(dir, "entries"))
	key := Key{FunctionIndex: 7, LoopIndex: 2}

	_, ok, err := fc.Get(key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fc.Add(key, bytes.NewReader([]byte("native-bytes"))))

	content, ok, err := fc.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := io.ReadAll(content)
	require.NoError(t, err)
	content.Close()
	require.Equal(t, "native-bytes", string(got))

	require.NoError(t, fc.Delete(key))
	_, ok, err = fc.Get(key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrusJitCacheSaveLoadRoundTrip(t *testing.T) {
	block, target := compileTestBlock(t)
	defer block.Release()

	dir := t.TempDir()
	cache := NewOrusJitCache(NewFileExternalCache(dir), "v1", target)
	key := Key{FunctionIndex: block.FunctionIndex, LoopIndex: block.LoopIndex}

	require.NoError(t, cache.Save(key, &JITEntry{Block: block}))

	loaded, ok, err := cache.Load(key)
	require.NoError(t, err)
	require.True(t, ok)
	defer loaded.Block.Release()

	require.Equal(t, block.Program.FunctionIndex, loaded.Block.Program.FunctionIndex)
	require.Equal(t, block.Program.LoopIndex, loaded.Block.Program.LoopIndex)
	require.Equal(t, block.Program.LoopStartOffset, loaded.Block.Program.LoopStartOffset)
	require.Equal(t, block.Program.LoopEndOffset, loaded.Block.Program.LoopEndOffset)
	require.Equal(t, len(block.Program.Instructions), len(loaded.Block.Program.Instructions))
	for i := range block.Program.Instructions {
		require.Equal(t, block.Program.Instructions[i], loaded.Block.Program.Instructions[i])
	}
	require.Equal(t, block.Code.Len(), loaded.Block.Code.Len())
	require.Equal(t, block.Code.Bytes(), loaded.Block.Code.Bytes())
}

func TestOrusJitCacheLoadMissReturnsFalse(t *testing.T) {
	_, target := compileTestBlock(t)
	dir := t.TempDir()
	cache := NewOrusJitCache(NewFileExternalCache(dir), "v1", target)

	entry, ok, err := cache.Load(Key{FunctionIndex: 99, LoopIndex: 0})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, entry)
}

// A version bump invalidates every previously saved entry: Load must
// report a miss and remove the stale file rather than install code
// compiled against an incompatible layout.
func TestOrusJitCacheVersionMismatchIsStaleMiss(t *testing.T) {
	block, target := compileTestBlock(t)
	defer block.Release()

	dir := t.TempDir()
	backend := NewFileExternalCache(dir)
	key := Key{FunctionIndex: block.FunctionIndex, LoopIndex: block.LoopIndex}

	writer := NewOrusJitCache(backend, "v1", target)
	require.NoError(t, writer.Save(key, &JITEntry{Block: block}))

	reader := NewOrusJitCache(backend, "v2", target)
	entry, ok, err := reader.Load(key)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, entry)

	_, ok, err = backend.Get(key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrusJitCacheNilBackendIsNoOp(t *testing.T) {
	_, target := compileTestBlock(t)
	cache := NewOrusJitCache(nil, "v1", target)

	require.NoError(t, cache.Save(Key{}, &JITEntry{}))
	entry, ok, err := cache.Load(Key{})
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, entry)
}
