package heap

import (
	"gokernel/kernel/mm"
	"unsafe"
)

// holeGranularity is the granularity of all fallback allocations. It equals
// the size of a hole header so any leftover space can always hold one.
const holeGranularity = unsafe.Sizeof(hole{})

// hole is the header stored at the start of each free block tracked by the
// LinkedList allocator.
type hole struct {
	size uintptr
	next uintptr
}

func holeAt(addr uintptr) *hole {
	return (*hole)(unsafe.Pointer(addr))
}

// LinkedList is a first-fit allocator that tracks free memory as an
// address-ordered singly linked list of holes. The list nodes are stored
// inside the free memory itself. Adjacent holes are merged when memory is
// freed.
//
// All sizes are rounded up to multiples of 16 bytes and all returned blocks
// are at least 16-byte aligned. LinkedList is not safe for concurrent use;
// Allocator serializes access to it.
type LinkedList struct {
	// first is the address of the lowest hole or 0 if the list is empty.
	first uintptr

	start, end uintptr
}

// Init makes the region [start, start+size) available for allocation. The
// region bounds are shrunk to the hole granularity.
func (l *LinkedList) Init(start mm.VirtAddr, size uintptr) {
	l.first = 0
	l.start, l.end = 0, 0

	if size < holeGranularity || uintptr(start) > ^uintptr(0)-size {
		return
	}

	begin := start.AlignUp(holeGranularity)
	end := start.Add(size).AlignDown(holeGranularity)
	if end <= begin {
		return
	}

	l.start, l.end = uintptr(begin), uintptr(end)
	l.first = l.start
	h := holeAt(l.first)
	h.size = l.end - l.start
	h.next = 0
}

// Contains returns true if addr lies inside the region managed by l.
func (l *LinkedList) Contains(addr uintptr) bool {
	return addr >= l.start && addr < l.end
}

// Alloc returns the lowest block that can hold size bytes aligned to align
// or 0 if no hole is large enough. align must be a power of two.
func (l *LinkedList) Alloc(size, align uintptr) uintptr {
	if size > l.end-l.start {
		return 0
	}
	size, align = fallbackLayout(size, align)

	prevNext := &l.first
	for cur := l.first; cur != 0; prevNext, cur = &holeAt(cur).next, holeAt(cur).next {
		h := holeAt(cur)
		holeEnd := cur + h.size

		// Both the hole start and the alignment are multiples of the
		// granularity so the front padding is either 0 or large enough
		// to hold a hole header.
		allocStart := (cur + align - 1) &^ (align - 1)
		if allocStart < cur || allocStart > holeEnd || holeEnd-allocStart < size {
			continue
		}
		allocEnd := allocStart + size

		next := h.next
		if backPad := holeEnd - allocEnd; backPad != 0 {
			back := holeAt(allocEnd)
			back.size = backPad
			back.next = next
			next = allocEnd
		}

		if allocStart != cur {
			h.size = allocStart - cur
			h.next = next
		} else {
			*prevNext = next
		}

		return allocStart
	}

	return 0
}

// Free returns a block obtained by Alloc with the same size and align
// arguments to the hole list, merging it with any adjacent holes. Freeing a
// block that overlaps a hole panics.
func (l *LinkedList) Free(addr, size, align uintptr) {
	size, _ = fallbackLayout(size, align)
	end := addr + size
	if !l.Contains(addr) || end > l.end || end < addr {
		panic(errInvalidFree)
	}

	var (
		prev     uintptr
		prevNext = &l.first
	)
	for *prevNext != 0 && *prevNext < addr {
		prev = *prevNext
		prevNext = &holeAt(prev).next
	}
	next := *prevNext

	if (prev != 0 && prev+holeAt(prev).size > addr) || (next != 0 && end > next) {
		panic(errInvalidFree)
	}

	// Merge with the following hole.
	h := holeAt(addr)
	h.size = size
	h.next = next
	if next != 0 && end == next {
		h.size += holeAt(next).size
		h.next = holeAt(next).next
	}

	// Merge with the preceding hole.
	if prev != 0 && prev+holeAt(prev).size == addr {
		holeAt(prev).size += h.size
		holeAt(prev).next = h.next
		return
	}

	*prevNext = addr
}

// FreeBytes returns the number of free bytes and the number of holes.
func (l *LinkedList) FreeBytes() (free uintptr, holes int) {
	for cur := l.first; cur != 0; cur = holeAt(cur).next {
		free += holeAt(cur).size
		holes++
	}
	return free, holes
}

// fallbackLayout rounds a request to the hole granularity.
func fallbackLayout(size, align uintptr) (uintptr, uintptr) {
	if size == 0 {
		size = 1
	}
	size = (size + holeGranularity - 1) &^ (holeGranularity - 1)
	return size, max(align, holeGranularity)
}
