package ir

import "fmt"

// Status is the translator/emitter failure taxonomy from spec §7. Every
// status whose name starts with Unsupported/Unhandled, plus
// RolloutDisabled, is permanent for the (function, loop) key at the
// current rollout stage and causes blocklisting; InvalidInput and
// OutOfMemory do not.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidInput
	StatusOutOfMemory
	StatusUnsupportedValueKind
	StatusUnsupportedConstantKind
	StatusUnhandledOpcode
	StatusUnsupportedLoopShape
	StatusRolloutDisabled
	// StatusTypeGuardFailure is recorded when a native block's type guard
	// trips at runtime (spec §4.3(a), §8 scenario 3) rather than during
	// translation; it blocklists the (function, loop) key the same as any
	// other permanent failure, since the operand kind observed at the
	// guard will recur on retranslation at the same rollout stage.
	StatusTypeGuardFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidInput:
		return "INVALID_INPUT"
	case StatusOutOfMemory:
		return "OUT_OF_MEMORY"
	case StatusUnsupportedValueKind:
		return "UNSUPPORTED_VALUE_KIND"
	case StatusUnsupportedConstantKind:
		return "UNSUPPORTED_CONSTANT_KIND"
	case StatusUnhandledOpcode:
		return "UNHANDLED_OPCODE"
	case StatusUnsupportedLoopShape:
		return "UNSUPPORTED_LOOP_SHAPE"
	case StatusRolloutDisabled:
		return "ROLLOUT_DISABLED"
	case StatusTypeGuardFailure:
		return "TYPE_GUARD_FAILURE"
	default:
		return "UNKNOWN_STATUS"
	}
}

// Blocklisting reports whether a failure with this status should
// permanently blocklist the (function, loop) key at the current rollout
// stage (spec §7's propagation policy).
func (s Status) Blocklisting() bool {
	switch s {
	case StatusInvalidInput, StatusOutOfMemory, StatusOK:
		return false
	default:
		return true
	}
}

// FailureRecord couples a failure to the bytecode offset at which it was
// detected, the opcode being attempted, and the value kind in play
// (spec §4.2's failure handling).
type FailureRecord struct {
	Status         Status
	Opcode         string
	ValueKind      ValueKind
	BytecodeOffset uint32
	FunctionIndex  uint16
	LoopIndex      uint16
}

func (r FailureRecord) Error() string {
	return fmt.Sprintf("%s at offset %d (opcode=%s kind=%s func=%d loop=%d)",
		r.Status, r.BytecodeOffset, r.Opcode, r.ValueKind, r.FunctionIndex, r.LoopIndex)
}

// FailureLogCapacity bounds the ring buffer; overflow drops the oldest
// record (spec §3's TranslationFailureLog).
const FailureLogCapacity = 256

// FailureLog is a fixed-capacity ring buffer of FailureRecord plus
// reason-count and kind-count histograms, and a running total
// independent of how many records are retained.
type FailureLog struct {
	records      [FailureLogCapacity]FailureRecord
	head         int // next write index
	count        int // number of valid records currently held (<= capacity)
	TotalFailures uint64
	ReasonCounts  map[Status]uint64
	KindCounts    map[ValueKind]uint64
}

func NewFailureLog() *FailureLog {
	return &FailureLog{
		ReasonCounts: make(map[Status]uint64),
		KindCounts:   make(map[ValueKind]uint64),
	}
}

// Record appends rec, evicting the oldest entry if the ring is full.
func (l *FailureLog) Record(rec FailureRecord) {
	l.records[l.head] = rec
	l.head = (l.head + 1) % FailureLogCapacity
	if l.count < FailureLogCapacity {
		l.count++
	}
	l.TotalFailures++
	l.ReasonCounts[rec.Status]++
	l.KindCounts[rec.ValueKind]++
}

// Records returns the retained records in insertion order (oldest
// first). After N > capacity insertions, this is exactly the last
// `capacity` records, satisfying the failure-log round-trip property
// (spec §8).
func (l *FailureLog) Records() []FailureRecord {
	out := make([]FailureRecord, 0, l.count)
	if l.count < FailureLogCapacity {
		out = append(out, l.records[:l.count]...)
		return out
	}
	// Full ring: oldest record is at l.head (about to be overwritten next).
	out = append(out, l.records[l.head:]...)
	out = append(out, l.records[:l.head]...)
	return out
}
