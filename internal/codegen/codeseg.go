package codegen

import "github.com/orus-lang/orusjit/internal/asm"

// asmCodeSegment is the growable executable-memory buffer backing a
// NativeBlock, aliased so the rest of this package doesn't need to
// import internal/asm directly everywhere.
type asmCodeSegment = asm.CodeSegment

func newCodeSegment() *asmCodeSegment { return asm.NewCodeSegment(nil) }
