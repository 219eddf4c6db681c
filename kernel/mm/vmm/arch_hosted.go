//go:build !amd64 && !riscv64

package vmm

import (
	"gokernel/kernel/cpu"
	"gokernel/kernel/mm"
)

var (
	activePDTFn     = cpu.ActivePDT
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// ActiveRootTable implements Arch.
func (cpuArch) ActiveRootTable() mm.PhysAddr {
	return mm.PhysAddr(activePDTFn())
}

// NativeCodec returns the page table format used by the CPU. Hosted builds
// default to the x86_64 format.
func NativeCodec() EntryCodec {
	return X86_64{}
}
