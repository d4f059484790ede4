// Package value defines the tagged runtime value representation shared by
// the interpreter and the native tier, plus the typed register banks that
// mirror a subset of the boxed register file for hot paths.
package value

import "fmt"

// Kind tags a Value's payload. Heap-owned kinds (String, Array,
// EnumInstance, Error, the iterators, Function, Closure) carry a pointer
// the garbage collector is responsible for; the remaining kinds are cheap
// tag+payload copies that may be freely duplicated on the stack.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindI32
	KindI64
	KindU32
	KindU64
	KindF64
	KindNumber // boxed numeric, kind unresolved until use
	KindString
	KindArray
	KindEnumInstance
	KindError
	KindRangeIterator
	KindArrayIterator
	KindFunction
	KindClosure
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindF64:
		return "f64"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindEnumInstance:
		return "enum_instance"
	case KindError:
		return "error"
	case KindRangeIterator:
		return "range_iterator"
	case KindArrayIterator:
		return "array_iterator"
	case KindFunction:
		return "function"
	case KindClosure:
		return "closure"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tag+payload pair. Heap is an opaque reference owned by the
// garbage collector; this package never dereferences it, matching the
// out-of-scope boundary with the GC (spec §1).
type Value struct {
	Kind Kind
	I64  int64   // holds Bool/I32/I64/U32/U64 bit patterns
	F64  float64 // holds F64 payloads
	Heap interface{}
}

func Nil() Value                    { return Value{Kind: KindNil} }
func Bool(b bool) Value             { return Value{Kind: KindBool, I64: boolToI64(b)} }
func I32(v int32) Value             { return Value{Kind: KindI32, I64: int64(v)} }
func I64(v int64) Value             { return Value{Kind: KindI64, I64: v} }
func U32(v uint32) Value            { return Value{Kind: KindU32, I64: int64(v)} }
func U64(v uint64) Value            { return Value{Kind: KindU64, I64: int64(v)} }
func F64(v float64) Value           { return Value{Kind: KindF64, F64: v} }
func Heap(kind Kind, h interface{}) Value { return Value{Kind: kind, Heap: h} }

func boolToI64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (v Value) AsBool() bool    { return v.I64 != 0 }
func (v Value) AsI32() int32    { return int32(v.I64) }
func (v Value) AsI64() int64    { return v.I64 }
func (v Value) AsU32() uint32   { return uint32(v.I64) }
func (v Value) AsU64() uint64   { return uint64(v.I64) }
func (v Value) AsF64() float64  { return v.F64 }

// IsHeap reports whether this value's Kind owns a GC-managed Heap
// reference.
func (v Value) IsHeap() bool {
	switch v.Kind {
	case KindString, KindArray, KindEnumInstance, KindError,
		KindRangeIterator, KindArrayIterator, KindFunction, KindClosure:
		return true
	default:
		return false
	}
}
