//go:build darwin && arm64

package platform

// #cgo CFLAGS: -x objective-c
// #include <pthread.h>
// static void orusjit_jit_write_protect(int enabled) {
//   pthread_jit_write_protect_np(enabled);
// }
import "C"

// withJITWriteProtect brackets fn with Apple's per-thread JIT
// write-protection toggle: disable (RW) before writing freshly emitted
// code, re-enable (RX) before it is ever executed.
func withJITWriteProtect(enabled bool, fn func()) {
	v := 0
	if enabled {
		v = 1
	}
	C.orusjit_jit_write_protect(C.int(v))
	fn()
}
