//go:build !amd64 && !arm64

package codegen

import (
	"fmt"

	"github.com/orus-lang/orusjit/internal/ir"
)

func emitAMD64(program *ir.Program) ([]byte, error) {
	return nil, fmt.Errorf("codegen: amd64 target requested on unsupported host architecture")
}

func emitARM64(program *ir.Program) ([]byte, error) {
	return nil, fmt.Errorf("codegen: arm64 target requested on unsupported host architecture")
}

func invokeNative(code []byte, ctx *RuntimeContext) {
	panic("codegen: invokeNative called on an architecture with no native emitter")
}
