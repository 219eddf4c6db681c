// Package pmm implements the physical frame allocators used by the kernel.
//
// The BootMemAllocator is the only allocator available while the kernel
// boots. It hands out 4KiB frames from the usable regions of the memory map
// supplied by the bootloader and never reclaims them.
package pmm

import (
	"gokernel/kernel"
	"gokernel/kernel/mm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "could not allocate frame: out of memory", Kind: kernel.KindExhaustion}
	errNotInitialized       = &kernel.Error{Module: "boot_mem_alloc", Message: "frame allocator not initialized", Kind: kernel.KindPrecondition}
	errAlreadyInitialized   = &kernel.Error{Module: "boot_mem_alloc", Message: "frame allocator already initialized", Kind: kernel.KindPrecondition}
)

// Ensure that BootMemAllocator can be registered via mm.SetFrameAllocator.
var _ mm.FrameAllocator[mm.Size4KiB] = (*BootMemAllocator)(nil)
