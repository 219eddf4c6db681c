package cpu

import "unsafe"

var (
	mmioWrite32Fn = func(addr uintptr, val uint32) {
		*(*uint32)(unsafe.Pointer(addr)) = val
	}
)

// testDeviceAddr is the address of the sifive_test device on the qemu virt
// machine. It must be mapped at its physical address for DebugExit to work.
const testDeviceAddr = uintptr(0x100000)

// Halt stops instruction execution by looping on wfi.
func Halt()

// FlushTLBEntry flushes the address translation cache entries for a
// particular virtual address (sfence.vma).
func FlushTLBEntry(virtAddr uintptr)

// ReadSATP returns the contents of the satp CSR which encodes the paging mode
// and the physical page number of the root page table.
func ReadSATP() uint64

// DebugExit signals the sifive_test device. ExitSuccess maps to the device's
// pass value; any other code is reported as a failure with the code in the
// upper half-word.
func DebugExit(code uint32) {
	if code == ExitSuccess {
		mmioWrite32Fn(testDeviceAddr, 0x5555)
		return
	}

	mmioWrite32Fn(testDeviceAddr, (code<<16)|0x3333)
}
