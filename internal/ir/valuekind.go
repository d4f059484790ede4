// Package ir defines the linear, typed intermediate representation the
// translator produces and the native code emitter consumes: a flat
// instruction sequence with an opcode/value-kind/operand union, an
// append-growing program, a staged rollout mask, and a bounded failure
// log (spec §3-4.2).
package ir

// ValueKind classifies the operand/result type an IR instruction
// operates on. Boxed means "unknown or heterogeneous; use the boxed
// register path" and always bypasses the rollout mask check.
type ValueKind uint8

const (
	ValueBoxed ValueKind = iota
	ValueI32
	ValueI64
	ValueU32
	ValueU64
	ValueF64
	ValueBool
	ValueString
)

func (k ValueKind) String() string {
	switch k {
	case ValueBoxed:
		return "boxed"
	case ValueI32:
		return "i32"
	case ValueI64:
		return "i64"
	case ValueU32:
		return "u32"
	case ValueU64:
		return "u64"
	case ValueF64:
		return "f64"
	case ValueBool:
		return "bool"
	case ValueString:
		return "string"
	default:
		return "unknown"
	}
}

// KindMask is a bitset over ValueKind, used both by RolloutStage and by
// the translator's register/iterator-kind trackers where a set of
// possible kinds needs representing.
type KindMask uint16

func MaskOf(kinds ...ValueKind) KindMask {
	var m KindMask
	for _, k := range kinds {
		m |= 1 << k
	}
	return m
}

func (m KindMask) Has(k ValueKind) bool { return m&(1<<k) != 0 }

// RolloutStage is the global, per-VM shipping gate for value kinds: each
// stage defines an enabled_kind_mask, and translation fails with
// ROLLOUT_DISABLED for any IR instruction whose kind is outside it.
// Boxed is always permitted regardless of stage.
type RolloutStage uint8

const (
	StageI32Only RolloutStage = iota
	StageWideInts
	StageFloats
	StageStrings
)

// EnabledKindMask returns the set of ValueKind this stage permits,
// cumulative with earlier stages (each later stage is a strict
// superset, matching a staged rollout that only ever adds kinds).
func (s RolloutStage) EnabledKindMask() KindMask {
	mask := MaskOf(ValueBoxed, ValueI32, ValueBool)
	if s >= StageWideInts {
		mask |= MaskOf(ValueI64, ValueU32, ValueU64)
	}
	if s >= StageFloats {
		mask |= MaskOf(ValueF64)
	}
	if s >= StageStrings {
		mask |= MaskOf(ValueString)
	}
	return mask
}

// Allows reports whether this stage's mask permits kind k. Boxed is
// always allowed.
func (s RolloutStage) Allows(k ValueKind) bool {
	if k == ValueBoxed {
		return true
	}
	return s.EnabledKindMask().Has(k)
}
