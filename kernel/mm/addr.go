package mm

import (
	"gokernel/kernel"
	"unsafe"
)

var (
	errAddressOverflow  = &kernel.Error{Module: "mm", Message: "address arithmetic overflow", Kind: kernel.KindPrecondition}
	errAddressUnderflow = &kernel.Error{Module: "mm", Message: "address arithmetic underflow", Kind: kernel.KindPrecondition}
	errBadAlignment     = &kernel.Error{Module: "mm", Message: "alignment must be a non-zero power of two", Kind: kernel.KindPrecondition}
)

// PhysAddr describes a physical memory address.
type PhysAddr uintptr

// VirtAddr describes a virtual memory address.
type VirtAddr uintptr

// Add returns a+delta. It panics if the result does not fit in a machine word.
func (a PhysAddr) Add(delta uintptr) PhysAddr {
	return PhysAddr(checkedAdd(uintptr(a), delta))
}

// Sub returns a-delta. It panics if the result would underflow.
func (a PhysAddr) Sub(delta uintptr) PhysAddr {
	return PhysAddr(checkedSub(uintptr(a), delta))
}

// AlignDown rounds a down to the nearest multiple of align.
func (a PhysAddr) AlignDown(align uintptr) PhysAddr {
	return PhysAddr(alignDown(uintptr(a), align))
}

// AlignUp rounds a up to the nearest multiple of align. It panics if the
// result does not fit in a machine word.
func (a PhysAddr) AlignUp(align uintptr) PhysAddr {
	return PhysAddr(alignUp(uintptr(a), align))
}

// IsAligned returns true if a is a multiple of align.
func (a PhysAddr) IsAligned(align uintptr) bool {
	return isAligned(uintptr(a), align)
}

// Add returns a+delta. It panics if the result does not fit in a machine word.
func (a VirtAddr) Add(delta uintptr) VirtAddr {
	return VirtAddr(checkedAdd(uintptr(a), delta))
}

// Sub returns a-delta. It panics if the result would underflow.
func (a VirtAddr) Sub(delta uintptr) VirtAddr {
	return VirtAddr(checkedSub(uintptr(a), delta))
}

// AlignDown rounds a down to the nearest multiple of align.
func (a VirtAddr) AlignDown(align uintptr) VirtAddr {
	return VirtAddr(alignDown(uintptr(a), align))
}

// AlignUp rounds a up to the nearest multiple of align. It panics if the
// result does not fit in a machine word.
func (a VirtAddr) AlignUp(align uintptr) VirtAddr {
	return VirtAddr(alignUp(uintptr(a), align))
}

// IsAligned returns true if a is a multiple of align.
func (a VirtAddr) IsAligned(align uintptr) bool {
	return isAligned(uintptr(a), align)
}

// Pointer returns an unsafe.Pointer for the memory at this virtual address.
// The address must be mapped before the returned pointer is dereferenced.
func (a VirtAddr) Pointer() unsafe.Pointer {
	return unsafe.Pointer(uintptr(a))
}

func checkedAdd(a, delta uintptr) uintptr {
	if delta > ^uintptr(0)-a {
		panic(errAddressOverflow)
	}
	return a + delta
}

func checkedSub(a, delta uintptr) uintptr {
	if delta > a {
		panic(errAddressUnderflow)
	}
	return a - delta
}

func alignDown(a, align uintptr) uintptr {
	if !IsPowerOfTwo(align) {
		panic(errBadAlignment)
	}
	return a &^ (align - 1)
}

func alignUp(a, align uintptr) uintptr {
	if !IsPowerOfTwo(align) {
		panic(errBadAlignment)
	}
	return checkedAdd(a, align-1) &^ (align - 1)
}

func isAligned(a, align uintptr) bool {
	if !IsPowerOfTwo(align) {
		panic(errBadAlignment)
	}
	return a&(align-1) == 0
}

// IsPowerOfTwo returns true if v is a non-zero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}
