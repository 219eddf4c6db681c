package vmm

import "gokernel/kernel/mm"

// Arch abstracts the MMU control operations that the Mapper needs from the
// underlying CPU.
type Arch interface {
	// ActiveRootTable returns the physical address of the root page table
	// that the MMU is currently using.
	ActiveRootTable() mm.PhysAddr

	// FlushTLBEntry invalidates any cached translation for the page that
	// contains addr.
	FlushTLBEntry(addr mm.VirtAddr)
}

// cpuArch implements Arch using the primitives exported by the cpu package.
type cpuArch struct{}

// FlushTLBEntry implements Arch.
func (cpuArch) FlushTLBEntry(addr mm.VirtAddr) {
	flushTLBEntryFn(uintptr(addr))
}

// NativeArch returns the Arch implementation for the CPU the kernel runs on.
func NativeArch() Arch {
	return cpuArch{}
}
