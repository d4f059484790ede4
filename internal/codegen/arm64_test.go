//go:build arm64

package codegen

import (
	"testing"

	"github.com/orus-lang/orusjit/internal/testing/require"
)

func TestMovImm64SingleChunk(t *testing.T) {
	var buf []byte
	movImm64(&buf, regX12, 0x2A)
	require.Equal(t, 4, len(buf)) // one MOVZ, no MOVK needed

	word := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	require.Equal(t, uint32(0xD2800000|(0x2A<<5)|regX12), word)
}

func TestMovImm64MultiChunk(t *testing.T) {
	var buf []byte
	movImm64(&buf, regX12, 0x1122334455667788)
	// MOVZ for the low chunk plus one MOVK per nonzero higher chunk.
	require.Equal(t, 16, len(buf))
}

func TestAddImmNoShift(t *testing.T) {
	var buf []byte
	addImm(&buf, regX11, regX9, 0x10, false)
	word := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	require.Equal(t, uint32(0x91000000)|uint32(regX9)<<5|uint32(regX11)|uint32(0x10)<<10, word)
}

func TestPatchBCondPreservesConditionField(t *testing.T) {
	var buf []byte
	at := bCond(&buf, condLT)
	patchBCond(buf, at, 0)

	word := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	require.Equal(t, uint32(condLT), word&0xF)
	require.Equal(t, uint32(0x54000000), word&0xFF000000)
}

func TestLoadAddrSingleVsDoubleInstruction(t *testing.T) {
	var buf []byte
	loadAddr(&buf, regX11, regX10, 0x100)
	require.Equal(t, 4, len(buf)) // fits in one ADD, no LSL#12 needed

	buf = buf[:0]
	loadAddr(&buf, regX11, regX10, 0x2000)
	require.Equal(t, 4, len(buf)) // exact multiple of 4096, still one ADD

	buf = buf[:0]
	loadAddr(&buf, regX11, regX10, 0x2001)
	require.Equal(t, 8, len(buf)) // needs both the shifted and unshifted ADD
}

func TestEmitARM64ReturnEndsWithRet(t *testing.T) {
	el := computeExitLayout()
	var buf []byte
	emitExitReturnARM(&buf, el, 3, true)
	ret(&buf)
	word := uint32(buf[len(buf)-4]) | uint32(buf[len(buf)-3])<<8 | uint32(buf[len(buf)-2])<<16 | uint32(buf[len(buf)-1])<<24
	require.Equal(t, uint32(0xD65F03C0), word)
}
