package jitcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/orus-lang/orusjit/internal/codegen"
	"github.com/orus-lang/orusjit/internal/ir"
)

// diskCacheMagic tags every serialized entry. ORUSJIT1 names this
// module the way the teacher's own wazevo engine cache tags its
// serialized format; the trailing digit is reserved for a future
// wire-incompatible revision.
const diskCacheMagic = "ORUSJIT1"

// ExternalCache is the on-disk compiled-entry cache contract: Get/Add/Delete
// keyed by the same Key the in-memory Controller uses. Unlike a
// whole-module cache keyed by content hash, this module's unit of
// compilation is a single (function, loop) pair, so there is nothing to
// hash against — the Key itself is the identity.
type ExternalCache interface {
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	Add(key Key, content io.Reader) error
	Delete(key Key) error
}

// NewFileExternalCache returns an ExternalCache backed by one file per
// key under dirPath, created lazily on first Add.
func NewFileExternalCache(dirPath string) ExternalCache {
	return &fileExternalCache{dirPath: dirPath}
}

// fileExternalCache stores one file per Key, named by its hex-encoded
// FunctionIndex/LoopIndex pair rather than a content hash.
type fileExternalCache struct {
	mu      sync.RWMutex
	dirPath string
	dirOk   bool
}

func (fc *fileExternalCache) path(key Key) string {
	return filepath.Join(fc.dirPath, fmt.Sprintf("%04x%04x", key.FunctionIndex, key.LoopIndex))
}

func (fc *fileExternalCache) Get(key Key) (io.ReadCloser, bool, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	f, err := os.Open(fc.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return f, true, nil
}

func (fc *fileExternalCache) Add(key Key, content io.Reader) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := fc.requireDir(); err != nil {
		return err
	}

	// Write to a uuid-named temp file first and rename into place so a
	// reader never observes a partially written entry.
	tmp := filepath.Join(fc.dirPath, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, fc.path(key))
}

func (fc *fileExternalCache) Delete(key Key) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	err := os.Remove(fc.path(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (fc *fileExternalCache) requireDir() error {
	if fc.dirOk {
		return nil
	}
	if err := os.MkdirAll(fc.dirPath, 0o700); err != nil {
		return err
	}
	fc.dirOk = true
	return nil
}

// OrusJitCache adapts an ExternalCache into save/load operations over
// JITEntry, gating on diskCacheMagic and a caller-supplied version
// string: a mismatched or foreign-version entry is treated as a miss and
// dropped rather than trusted, the same discipline the teacher's own
// engine cache applies to a version string baked into the reader.
type OrusJitCache struct {
	backend ExternalCache
	version string
	target  codegen.Target
}

// NewOrusJitCache wraps backend. version should change whenever the code
// this module emits for target changes shape (a new opcode added to the
// direct-emission whitelist, an ABI field reordered) so stale entries
// compiled under an earlier layout are never loaded back in.
func NewOrusJitCache(backend ExternalCache, version string, target codegen.Target) *OrusJitCache {
	return &OrusJitCache{backend: backend, version: version, target: target}
}

// Save serializes entry's native code and IR program metadata under key.
// A nil backend makes Save a no-op, so callers can wire an OrusJitCache
// unconditionally and only pay for persistence when a backend is
// actually configured.
func (c *OrusJitCache) Save(key Key, entry *JITEntry) error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Add(key, serializeEntry(c.version, entry.Block))
}

// Load retrieves and installs the on-disk entry for key, constructing a
// fresh NativeBlock from the serialized code bytes without re-running
// either architecture's emitter. A stale entry (wrong magic, mismatched
// version) is deleted and reported as a miss rather than an error.
func (c *OrusJitCache) Load(key Key) (*JITEntry, bool, error) {
	if c.backend == nil {
		return nil, false, nil
	}
	content, ok, err := c.backend.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	defer content.Close()

	block, stale, err := deserializeEntry(c.version, c.target, content)
	if err != nil {
		return nil, false, err
	}
	if stale {
		return nil, false, c.backend.Delete(key)
	}

	return &JITEntry{
		Block:        block,
		EntryPoint:   block.Code.Addr(),
		CodePtr:      block.Code.Addr(),
		CodeSize:     uintptr(block.Code.Len()),
		CodeCapacity: block.Code.Size(),
		DebugName:    fmt.Sprintf("disk:%d/%d", key.FunctionIndex, key.LoopIndex),
	}, true, nil
}

// serializeEntry writes diskCacheMagic, version, block.Program's
// metadata and instructions, and block's native code bytes, in that
// order. The teacher's own wazevo engine cache hand-rolls the identical
// magic + length-prefixed-version + length-prefixed-payload shape; this
// is just that shape adapted to a single (function, loop) entry instead
// of a whole compiled module.
func serializeEntry(version string, block *codegen.NativeBlock) io.Reader {
	buf := new(bytes.Buffer)
	buf.WriteString(diskCacheMagic)
	buf.WriteByte(byte(len(version)))
	buf.WriteString(version)

	writeUint16(buf, block.Program.FunctionIndex)
	writeUint16(buf, block.Program.LoopIndex)
	writeUint32(buf, block.Program.LoopStartOffset)
	writeUint32(buf, block.Program.LoopEndOffset)

	writeUint32(buf, uint32(len(block.Program.Instructions)))
	for i := range block.Program.Instructions {
		writeInstr(buf, &block.Program.Instructions[i])
	}

	code := block.Code.Bytes()
	writeUint64(buf, uint64(len(code)))
	buf.Write(code)

	return buf
}

// deserializeEntry is serializeEntry's inverse. stale reports that the
// header parsed fine but the version string didn't match c's, meaning
// the entry is readable but untrustworthy rather than corrupt.
func deserializeEntry(version string, target codegen.Target, r io.Reader) (block *codegen.NativeBlock, stale bool, err error) {
	br := newByteReader(r)

	magic, err := br.readN(len(diskCacheMagic))
	if err != nil {
		return nil, false, err
	}
	if string(magic) != diskCacheMagic {
		return nil, false, fmt.Errorf("jitcache: bad disk cache magic %q", magic)
	}

	versionLen, err := br.readByte()
	if err != nil {
		return nil, false, err
	}
	gotVersion, err := br.readN(int(versionLen))
	if err != nil {
		return nil, false, err
	}
	if string(gotVersion) != version {
		return nil, true, nil
	}

	functionIndex, err := br.readUint16()
	if err != nil {
		return nil, false, err
	}
	loopIndex, err := br.readUint16()
	if err != nil {
		return nil, false, err
	}
	loopStart, err := br.readUint32()
	if err != nil {
		return nil, false, err
	}
	loopEnd, err := br.readUint32()
	if err != nil {
		return nil, false, err
	}

	instrCount, err := br.readUint32()
	if err != nil {
		return nil, false, err
	}
	program := &ir.Program{
		FunctionIndex:   functionIndex,
		LoopIndex:       loopIndex,
		LoopStartOffset: loopStart,
		LoopEndOffset:   loopEnd,
		Instructions:    make([]ir.Instr, instrCount),
	}
	for i := range program.Instructions {
		if err := readInstr(br, &program.Instructions[i]); err != nil {
			return nil, false, err
		}
	}

	codeLen, err := br.readUint64()
	if err != nil {
		return nil, false, err
	}
	code, err := br.readN(int(codeLen))
	if err != nil {
		return nil, false, err
	}

	block, err = codegen.InstallBlock(code, program, target)
	if err != nil {
		return nil, false, err
	}
	return block, false, nil
}

// writeInstr/readInstr serialize one ir.Instr, including the
// variable-length Operand.Args slice the fixed ExitFrame ABI
// deliberately omits (codegen recovers it from the Program at runtime;
// the disk format has to carry it explicitly since the Program itself
// is what's being reconstructed).
func writeInstr(buf *bytes.Buffer, instr *ir.Instr) {
	buf.WriteByte(byte(instr.Op))
	buf.WriteByte(byte(instr.Kind))
	writeUint32(buf, instr.BytecodeOffset)

	op := &instr.Operand
	writeUint16(buf, op.Dst)
	writeUint16(buf, op.Lhs)
	writeUint16(buf, op.Rhs)
	writeUint16(buf, op.Src)
	writeUint16(buf, op.ConstantIndex)
	writeUint64(buf, op.ImmediateBits)
	writeInt32(buf, op.Displacement)
	buf.WriteByte(byte(op.CompareDir))
	writeInt32(buf, op.Step)
	buf.WriteByte(op.RangeArgc)
	for _, a := range op.RangeArgs {
		writeUint16(buf, a)
	}
	buf.WriteByte(byte(op.IterKind))
	writeUint16(buf, op.NativeIndex)
	writeUint16(buf, uint16(len(op.Args)))
	for _, a := range op.Args {
		writeUint16(buf, a)
	}
	writeUint16(buf, op.AssertLabel)
	writeBool(buf, op.HasReturnValue)
	writeUint16(buf, op.ReturnReg)
}

func readInstr(br *byteReader, instr *ir.Instr) error {
	opByte, err := br.readByte()
	if err != nil {
		return err
	}
	instr.Op = ir.Opcode(opByte)

	kindByte, err := br.readByte()
	if err != nil {
		return err
	}
	instr.Kind = ir.ValueKind(kindByte)

	if instr.BytecodeOffset, err = br.readUint32(); err != nil {
		return err
	}

	op := &instr.Operand
	if op.Dst, err = br.readUint16(); err != nil {
		return err
	}
	if op.Lhs, err = br.readUint16(); err != nil {
		return err
	}
	if op.Rhs, err = br.readUint16(); err != nil {
		return err
	}
	if op.Src, err = br.readUint16(); err != nil {
		return err
	}
	if op.ConstantIndex, err = br.readUint16(); err != nil {
		return err
	}
	if op.ImmediateBits, err = br.readUint64(); err != nil {
		return err
	}
	if op.Displacement, err = br.readInt32(); err != nil {
		return err
	}
	compareDirByte, err := br.readByte()
	if err != nil {
		return err
	}
	op.CompareDir = ir.CompareDir(compareDirByte)
	if op.Step, err = br.readInt32(); err != nil {
		return err
	}
	if op.RangeArgc, err = br.readByte(); err != nil {
		return err
	}
	for i := range op.RangeArgs {
		if op.RangeArgs[i], err = br.readUint16(); err != nil {
			return err
		}
	}
	iterKindByte, err := br.readByte()
	if err != nil {
		return err
	}
	op.IterKind = ir.IterKind(iterKindByte)
	if op.NativeIndex, err = br.readUint16(); err != nil {
		return err
	}
	argc, err := br.readUint16()
	if err != nil {
		return err
	}
	if argc > 0 {
		op.Args = make([]uint16, argc)
		for i := range op.Args {
			if op.Args[i], err = br.readUint16(); err != nil {
				return err
			}
		}
	}
	if op.AssertLabel, err = br.readUint16(); err != nil {
		return err
	}
	hasReturnByte, err := br.readByte()
	if err != nil {
		return err
	}
	op.HasReturnValue = hasReturnByte != 0
	if op.ReturnReg, err = br.readUint16(); err != nil {
		return err
	}
	return nil
}

// The remaining helpers are a small hand-rolled little-endian framing
// layer: nothing resembling the teacher's own u32/u64 LeBytes helpers
// was available to import, so this package writes directly with
// encoding/binary instead of introducing a look-alike internal package
// for two line-sized functions.
func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) { writeUint32(buf, uint32(v)) }

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// byteReader wraps an io.Reader with the fixed-width little-endian reads
// deserializeEntry/readInstr need, surfacing io.ErrUnexpectedEOF on a
// truncated entry instead of a partially populated Instr.
type byteReader struct {
	r io.Reader
}

func newByteReader(r io.Reader) *byteReader { return &byteReader{r: r} }

func (br *byteReader) readN(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(br.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (br *byteReader) readByte() (byte, error) {
	b, err := br.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (br *byteReader) readUint16() (uint16, error) {
	b, err := br.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (br *byteReader) readUint32() (uint32, error) {
	b, err := br.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (br *byteReader) readInt32() (int32, error) {
	v, err := br.readUint32()
	return int32(v), err
}

func (br *byteReader) readUint64() (uint64, error) {
	b, err := br.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
