//go:build linux || darwin || freebsd

package platform

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

func pageSize() int {
	if sz := os.Getpagesize(); sz > 0 {
		return sz
	}
	return 4096
}

func roundUpToPageSize(n int) int {
	ps := pageSize()
	return (n + ps - 1) / ps * ps
}

// mmapJITFlag is MAP_JIT on Apple targets where the hardened runtime
// requires every executable mapping to be created with it up front; it is
// 0 elsewhere.
func mmapJITFlag() int {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return unix.MAP_JIT
	}
	return 0
}

func mmapCodeSegment(size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: mmapCodeSegment with zero length")
	}
	capacity := roundUpToPageSize(size)
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | mmapJITFlag()
	b, err := unix.Mmap(-1, 0, capacity, prot, flags)
	if err != nil {
		if err == unix.EPERM || err == unix.ENOTSUP {
			return nil, fmt.Errorf("mmap MAP_JIT rejected (missing code-signing entitlement?): %w", err)
		}
		return nil, err
	}
	return b[:size:capacity], nil
}

// MmapCodeSegment copies size bytes read from code into a fresh
// executable-capable mapping and returns it sized exactly to size (the
// backing mapping is rounded up internally to a page boundary).
func MmapCodeSegment(code io.Reader, size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	b, err := mmapCodeSegment(size)
	if err != nil {
		return nil, err
	}
	withJITWriteProtect(false, func() {
		_, err = io.ReadFull(code, b)
	})
	if err != nil {
		_ = MunmapCodeSegment(b)
		return nil, err
	}
	if err := reprotectExec(b); err != nil {
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
	return unix.Munmap(code)
}

// AllocExecutable allocates a zeroed RW buffer of at least size bytes,
// ready for the emitter to write into before calling ReprotectExec.
func AllocExecutable(size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: AllocExecutable with zero length")
	}
	return mmapCodeSegment(size)
}

// ReprotectExec switches an RW buffer obtained from AllocExecutable to
// RX, flushing the instruction cache so the CPU observes the freshly
// written bytes.
func ReprotectExec(code []byte) error {
	if err := reprotectExec(code); err != nil {
		return err
	}
	FlushInstructionCache(code)
	return nil
}

func reprotectExec(code []byte) error {
	var err error
	withJITWriteProtect(true, func() {
		err = unix.Mprotect(code, unix.PROT_READ|unix.PROT_EXEC)
	})
	return err
}

// ReprotectWritable switches a previously RX buffer back to RW so the
// emitter can patch it (used for return-site patches after install).
func ReprotectWritable(code []byte) error {
	var err error
	withJITWriteProtect(false, func() {
		err = unix.Mprotect(code, unix.PROT_READ|unix.PROT_WRITE)
	})
	return err
}
