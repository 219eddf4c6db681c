package kmain

import (
	"gokernel/kernel"
	"gokernel/kernel/kfmt"
	"gokernel/kernel/mm"
	"gokernel/kernel/mm/vmm"
)

// Config controls the initialization of the memory subsystem.
type Config struct {
	// HeapStart is the page-aligned virtual address of the kernel heap.
	HeapStart mm.VirtAddr

	// HeapSize is the size of the kernel heap in bytes. It must be a
	// non-zero multiple of the page size.
	HeapSize uintptr

	// RemapPolicy decides what happens when the heap range overlaps pages
	// that are already mapped.
	RemapPolicy vmm.RemapPolicy

	// Codec is the page table format. A nil Codec selects the format of
	// the CPU the kernel runs on.
	Codec vmm.EntryCodec

	// LogLevel is the minimum severity of kernel log messages.
	LogLevel kfmt.Level

	// ExitOnFatal makes the kernel signal the qemu debug exit device
	// instead of halting when a fatal error occurs, and after a successful
	// boot. It is used when running the kernel under a test harness.
	ExitOnFatal bool
}

// DefaultConfig returns the configuration used by Kmain: an 8MiB heap at the
// architecture-specific heap address.
func DefaultConfig() Config {
	return Config{
		HeapStart:   defaultHeapStart,
		HeapSize:    uintptr(8 * mm.Mb),
		RemapPolicy: vmm.RemapError,
		LogLevel:    kfmt.LevelInfo,
	}
}

// validate checks that the heap range can be mapped with 4KiB pages.
func (cfg *Config) validate() *kernel.Error {
	if cfg.HeapSize == 0 || !mm.VirtAddr(cfg.HeapSize).IsAligned(mm.PageSize) || !cfg.HeapStart.IsAligned(mm.PageSize) {
		return errInvalidHeapConfig
	}
	if uintptr(cfg.HeapStart) > ^uintptr(0)-cfg.HeapSize {
		return errInvalidHeapConfig
	}
	return nil
}
