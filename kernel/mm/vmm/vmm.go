// Package vmm manages the page tables used by the kernel. It supports the
// x86_64 4-level and the RISC-V Sv39 paging schemes and accesses page tables
// through a linear mapping of physical memory.
package vmm

import (
	"gokernel/kernel"
	"gokernel/kernel/mm"
	"gokernel/kernel/sync"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page", Kind: kernel.KindMapping}

	// ErrAlreadyMapped is returned when mapping a page that is already
	// mapped while the RemapError policy is active.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped", Kind: kernel.KindMapping}

	// ErrNonCanonicalAddress is returned for virtual addresses that cannot
	// be translated by the active paging scheme.
	ErrNonCanonicalAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not canonical", Kind: kernel.KindPrecondition}

	errHugePageConflict    = &kernel.Error{Module: "vmm", Message: "mapping conflicts with an existing page of a different size", Kind: kernel.KindMapping}
	errPageSizeMismatch    = &kernel.Error{Module: "vmm", Message: "page is mapped with a different page size", Kind: kernel.KindMapping}
	errUnsupportedPageSize = &kernel.Error{Module: "vmm", Message: "page size not supported by the paging scheme", Kind: kernel.KindPrecondition}
	errNoKernelMapper      = &kernel.Error{Module: "vmm", Message: "kernel mapper not initialized", Kind: kernel.KindPrecondition}
	errKernelMapperSet     = &kernel.Error{Module: "vmm", Message: "kernel mapper already initialized", Kind: kernel.KindPrecondition}
)

var (
	kernelMapperLock sync.Spinlock

	// kernelMapper is the Mapper for the kernel address space registered
	// by SetKernelMapper.
	kernelMapper *Mapper
)

// SetKernelMapper registers the Mapper used by the package-level helpers.
// Registering a second Mapper panics; passing nil clears the registration.
func SetKernelMapper(m *Mapper) {
	kernelMapperLock.Acquire()
	defer kernelMapperLock.Release()

	if m != nil && kernelMapper != nil {
		panic(errKernelMapperSet)
	}
	kernelMapper = m
}

// KernelMapper returns the registered kernel Mapper or nil.
func KernelMapper() *Mapper {
	kernelMapperLock.Acquire()
	defer kernelMapperLock.Release()

	return kernelMapper
}

// AllocatePage maps the page containing addr to a new frame using the
// kernel Mapper.
func AllocatePage(addr mm.VirtAddr) *kernel.Error {
	m := KernelMapper()
	if m == nil {
		return errNoKernelMapper
	}
	return m.AllocatePage(addr)
}

// AllocateRange maps count pages starting at start to new frames using the
// kernel Mapper and returns the number of bytes mapped.
func AllocateRange(start mm.VirtAddr, count uintptr) (uintptr, *kernel.Error) {
	m := KernelMapper()
	if m == nil {
		return 0, errNoKernelMapper
	}
	return m.AllocateRange(start, count)
}

// Translate returns the physical address for addr using the kernel Mapper.
func Translate(addr mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	m := KernelMapper()
	if m == nil {
		return 0, errNoKernelMapper
	}
	return m.Translate(addr)
}
