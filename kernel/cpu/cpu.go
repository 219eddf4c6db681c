// Package cpu exposes the architecture-specific CPU primitives used by the
// kernel memory subsystem.
package cpu

const (
	// ExitSuccess and ExitFailure are the codes passed to DebugExit when
	// the kernel runs under a test harness.
	ExitSuccess = uint32(0x10)
	ExitFailure = uint32(0x11)
)
