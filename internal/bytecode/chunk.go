package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/orus-lang/orusjit/internal/value"
)

// Chunk is the single source of truth for interpreted and translated
// code: an immutable-after-emit byte sequence plus line/column tables and
// a constant pool. Populated by the bytecode emitter, which is out of
// this module's scope (spec §1); this package only reads it.
type Chunk struct {
	Code      []byte
	Lines     []uint32
	Columns   []uint32
	Constants []value.Value
}

// Cursor walks a Chunk's Code from a given offset, decoding operands per
// spec §6: big-endian multi-byte immediates, 8- or 16-bit (big-endian)
// register operands, byte jump displacements for short forms.
type Cursor struct {
	Chunk  *Chunk
	Offset uint32
}

// ErrTruncated signals a read past the end of Code: the translator
// reports this as an InvalidInput failure (spec §7), not a blocklisting
// one.
var ErrTruncated = fmt.Errorf("truncated instruction")

func (c *Cursor) remaining() int { return len(c.Chunk.Code) - int(c.Offset) }

// ReadOp reads the opcode byte at the cursor and advances past it.
func (c *Cursor) ReadOp() (Op, error) {
	if c.remaining() < 1 {
		return 0, ErrTruncated
	}
	op := Op(c.Chunk.Code[c.Offset])
	c.Offset++
	return op, nil
}

// ReadU8 reads a single byte operand.
func (c *Cursor) ReadU8() (byte, error) {
	if c.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := c.Chunk.Code[c.Offset]
	c.Offset++
	return b, nil
}

// ReadU16 reads a big-endian 16-bit operand (register index or
// displacement).
func (c *Cursor) ReadU16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(c.Chunk.Code[c.Offset:])
	c.Offset += 2
	return v, nil
}

// ReadI16 reads a big-endian 16-bit signed displacement (used by the
// fused INC_CMP_JMP/DEC_CMP_JMP forms).
func (c *Cursor) ReadI16() (int16, error) {
	u, err := c.ReadU16()
	return int16(u), err
}

// Constant returns the constant at idx, failing if out of range against
// Chunk.Constants.
func (c *Cursor) Constant(idx uint16) (value.Value, error) {
	if int(idx) >= len(c.Chunk.Constants) {
		return value.Value{}, fmt.Errorf("constant index %d out of range (pool size %d)", idx, len(c.Chunk.Constants))
	}
	return c.Chunk.Constants[idx], nil
}
