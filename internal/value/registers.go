package value

// RegisterCount is the conventional register file size addressed by 8-bit
// bytecode operands; 16-bit operand forms can still address the same
// space because REGISTER_COUNT <= 1<<16.
const RegisterCount = 256

// FrameRegStart offsets a frame-local window into the shared register
// file, the same way the bytecode's STORE_FRAME/LOAD_FRAME/MOVE_FRAME
// family addresses locals relative to the active call frame rather than
// register 0.
const FrameRegStart = 0

// RegType tags the last hot-path kind stored into a typed register slot.
// It is intentionally a narrower enumeration than value.Kind: only the
// kinds the native tier caches outside the boxed register file appear
// here.
type RegType uint8

const (
	RegTypeNone RegType = iota
	RegTypeI32
	RegTypeI64
	RegTypeU32
	RegTypeU64
	RegTypeF64
	RegTypeBool
)

// RegisterFile is the boxed register window addressed by bytecode
// operands. It is not safe for concurrent use; the VM's single execution
// thread owns it exclusively (spec §5).
type RegisterFile struct {
	Slots [RegisterCount]Value
}

// TypedRegisterBank mirrors a subset of the boxed RegisterFile in
// unboxed, per-kind parallel arrays for hot-path reads/writes, plus a
// per-slot type tag. The invariant from spec §3 is enforced by the
// helpers below: each Store*TypedHot keeps the boxed slot and the tag in
// agreement; any write to the boxed register through a non-typed path
// must call Invalidate to clear the tag.
type TypedRegisterBank struct {
	I32Regs  [RegisterCount]int32
	I64Regs  [RegisterCount]int64
	U32Regs  [RegisterCount]uint32
	U64Regs  [RegisterCount]uint64
	F64Regs  [RegisterCount]float64
	RegTypes [RegisterCount]RegType
}

// StoreI32TypedHot writes both the typed slot and the boxed mirror,
// keeping RegTypes[r] in agreement with the boxed register as required
// by the typed-register invariant.
func (b *TypedRegisterBank) StoreI32TypedHot(boxed *RegisterFile, r uint16, v int32) {
	b.I32Regs[r] = v
	b.RegTypes[r] = RegTypeI32
	boxed.Slots[r] = I32(v)
}

func (b *TypedRegisterBank) StoreI64TypedHot(boxed *RegisterFile, r uint16, v int64) {
	b.I64Regs[r] = v
	b.RegTypes[r] = RegTypeI64
	boxed.Slots[r] = I64(v)
}

func (b *TypedRegisterBank) StoreU32TypedHot(boxed *RegisterFile, r uint16, v uint32) {
	b.U32Regs[r] = v
	b.RegTypes[r] = RegTypeU32
	boxed.Slots[r] = U32(v)
}

func (b *TypedRegisterBank) StoreU64TypedHot(boxed *RegisterFile, r uint16, v uint64) {
	b.U64Regs[r] = v
	b.RegTypes[r] = RegTypeU64
	boxed.Slots[r] = U64(v)
}

func (b *TypedRegisterBank) StoreF64TypedHot(boxed *RegisterFile, r uint16, v float64) {
	b.F64Regs[r] = v
	b.RegTypes[r] = RegTypeF64
	boxed.Slots[r] = F64(v)
}

func (b *TypedRegisterBank) StoreBoolTypedHot(boxed *RegisterFile, r uint16, v bool) {
	b.RegTypes[r] = RegTypeBool
	boxed.Slots[r] = Bool(v)
}

// Invalidate clears the type tag for r, signalling that the boxed
// register no longer agrees with any typed mirror. Call this whenever r
// is written through a path that does not also update the typed bank
// (e.g. a generic `move` that copies a Boxed-kind value).
func (b *TypedRegisterBank) Invalidate(r uint16) {
	b.RegTypes[r] = RegTypeNone
}

// Matches reports whether the typed slot for r still agrees with the
// expected kind; this is exactly the check the native type guard lowers
// to (spec §4.3's "compare byte ptr [r15 + dst_index] against the
// expected REG_TYPE_*").
func (b *TypedRegisterBank) Matches(r uint16, expect RegType) bool {
	return b.RegTypes[r] == expect
}
