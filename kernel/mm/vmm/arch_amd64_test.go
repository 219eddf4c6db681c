package vmm

import (
	"gokernel/kernel/mm"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUArchAmd64(t *testing.T) {
	defer func(origActivePDT func() uintptr, origFlush func(uintptr)) {
		activePDTFn = origActivePDT
		flushTLBEntryFn = origFlush
	}(activePDTFn, flushTLBEntryFn)

	// The low bits of CR3 carry the PCID which must be masked out.
	activePDTFn = func() uintptr { return 0x1234_5018 }

	var flushed []uintptr
	flushTLBEntryFn = func(addr uintptr) { flushed = append(flushed, addr) }

	arch := NativeArch()
	assert.Equal(t, mm.PhysAddr(0x1234_5000), arch.ActiveRootTable())

	arch.FlushTLBEntry(0xbadf00d000)
	assert.Equal(t, []uintptr{0xbadf00d000}, flushed)

	assert.Equal(t, X86_64{}, NativeCodec())
}
