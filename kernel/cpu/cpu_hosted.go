//go:build !amd64 && !riscv64

package cpu

// Halt blocks the calling goroutine forever. Hosted builds have no way to
// stop the CPU.
func Halt() {
	select {}
}

// FlushTLBEntry is a no-op on hosted builds.
func FlushTLBEntry(_ uintptr) {}

// ActivePDT returns 0 on hosted builds.
func ActivePDT() uintptr { return 0 }

// DebugExit is a no-op on hosted builds.
func DebugExit(_ uint32) {}
