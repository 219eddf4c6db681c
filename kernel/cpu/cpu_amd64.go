package cpu

var (
	portWriteDwordFn = PortWriteDword
)

// debugExitPort is the I/O port where qemu's isa-debug-exit device listens.
const debugExitPort = uint16(0xf4)

// Halt disables interrupts and stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the raw contents of the CR3 register which encodes the
// physical address of the currently active page table.
func ActivePDT() uintptr

// PortWriteDword writes a uint32 value to the requested port.
func PortWriteDword(port uint16, val uint32)

// DebugExit signals the qemu isa-debug-exit device. Qemu terminates with
// status (code << 1) | 1. If the device is not present the call has no
// effect.
func DebugExit(code uint32) {
	portWriteDwordFn(debugExitPort, code)
}
