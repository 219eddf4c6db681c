package vmm

import (
	"gokernel/kernel/cpu"
	"gokernel/kernel/mm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// ActiveRootTable implements Arch. The low 12 bits of CR3 hold the PCID and
// caching flags and are masked out.
func (cpuArch) ActiveRootTable() mm.PhysAddr {
	return mm.PhysAddr(activePDTFn() &^ (mm.PageSize - 1))
}

// NativeCodec returns the page table format used by the CPU.
func NativeCodec() EntryCodec {
	return X86_64{}
}
