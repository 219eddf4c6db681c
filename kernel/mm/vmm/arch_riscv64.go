package vmm

import (
	"gokernel/kernel/cpu"
	"gokernel/kernel/mm"
)

var (
	// readSATPFn is used by tests to override calls to cpu.ReadSATP which
	// will cause a fault if called in user-mode.
	readSATPFn = cpu.ReadSATP

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// satpPPNMask selects the root table physical page number from satp.
const satpPPNMask = uint64(1)<<44 - 1

// ActiveRootTable implements Arch.
func (cpuArch) ActiveRootTable() mm.PhysAddr {
	return mm.PhysAddr((readSATPFn() & satpPPNMask) << mm.PageShift)
}

// NativeCodec returns the page table format used by the CPU.
func NativeCodec() EntryCodec {
	return Sv39{}
}
