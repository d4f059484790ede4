//go:build windows

package platform

import (
	"io"
	"unsafe"

	"golang.org/x/sys/windows"
)

func roundUpToPageSize(n int) int {
	const ps = 4096
	return (n + ps - 1) / ps * ps
}

func mmapCodeSegment(size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: mmapCodeSegment with zero length")
	}
	capacity := roundUpToPageSize(size)
	addr, err := windows.VirtualAlloc(0, uintptr(capacity),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, err
	}
	var b []byte
	sh := (*sliceHeader)(unsafe.Pointer(&b))
	sh.Data = addr
	sh.Len = size
	sh.Cap = capacity
	return b, nil
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

// MmapCodeSegment copies size bytes read from code into a fresh
// executable-capable mapping and returns it.
func MmapCodeSegment(code io.Reader, size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	b, err := mmapCodeSegment(size)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(code, b); err != nil {
		_ = MunmapCodeSegment(b)
		return nil, err
	}
	FlushInstructionCache(b)
	return b, nil
}

// MunmapCodeSegment releases a mapping previously returned by
// MmapCodeSegment or AllocExecutable.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	sh := (*sliceHeader)(unsafe.Pointer(&code))
	return windows.VirtualFree(sh.Data, 0, windows.MEM_RELEASE)
}

// AllocExecutable allocates PAGE_EXECUTE_READWRITE memory directly: unlike
// POSIX, Windows has no W^X enforcement for VirtualAlloc, so no separate
// protection-switch step is required once the emitter finishes writing.
func AllocExecutable(size int) ([]byte, error) {
	return mmapCodeSegment(size)
}

// ReprotectExec is a no-op on Windows: AllocExecutable already returns
// PAGE_EXECUTE_READWRITE memory.
func ReprotectExec(code []byte) error {
	FlushInstructionCache(code)
	return nil
}

// ReprotectWritable is a no-op on Windows for the same reason.
func ReprotectWritable(_ []byte) error { return nil }
