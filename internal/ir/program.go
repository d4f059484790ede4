package ir

// Program is a linear, single-entry, single-exit sequence of typed IR
// instructions produced by translating a prefix of one loop body. It is
// append-only during translation (spec §3/§4.2's step 1).
type Program struct {
	Instructions    []Instr
	FunctionIndex   uint16
	LoopIndex       uint16
	LoopStartOffset uint32
	LoopEndOffset   uint32
}

// NewProgram starts an empty program for the given (function, loop) key.
func NewProgram(functionIndex, loopIndex uint16, loopStartOffset uint32) *Program {
	return &Program{FunctionIndex: functionIndex, LoopIndex: loopIndex, LoopStartOffset: loopStartOffset}
}

// Append adds instr to the program and returns its index.
func (p *Program) Append(instr Instr) int {
	p.Instructions = append(p.Instructions, instr)
	return len(p.Instructions) - 1
}

// Len returns the number of instructions currently in the program.
func (p *Program) Len() int { return len(p.Instructions) }
