package mm

import (
	"gokernel/kernel"
	"iter"
)

var (
	// ErrUnalignedAddress is returned when a frame or page is constructed
	// from an address that is not aligned to the page size.
	ErrUnalignedAddress = &kernel.Error{Module: "mm", Message: "address is not aligned to the page size", Kind: kernel.KindPrecondition}

	// ErrEmptyPageRange is returned when a page range is constructed with a
	// zero page count.
	ErrEmptyPageRange = &kernel.Error{Module: "mm", Message: "page range must contain at least one page", Kind: kernel.KindPrecondition}
)

// PageSizer is implemented by the marker types that select the granularity
// of frames and pages. Size must always return a power of two.
type PageSizer interface {
	Size() uintptr
}

// Size4KiB selects the default 4KiB page granularity.
type Size4KiB struct{}

// Size implements PageSizer.
func (Size4KiB) Size() uintptr { return uintptr(4 * Kb) }

// Size2MiB selects the 2MiB (huge) page granularity.
type Size2MiB struct{}

// Size implements PageSizer.
func (Size2MiB) Size() uintptr { return uintptr(2 * Mb) }

// Size1GiB selects the 1GiB (giant) page granularity.
type Size1GiB struct{}

// Size implements PageSizer.
func (Size1GiB) Size() uintptr { return uintptr(Gb) }

// SizeOf returns the size in bytes for page size S.
func SizeOf[S PageSizer]() uintptr {
	var s S
	return s.Size()
}

// Frame describes a physical memory region of S.Size() bytes identified by
// its aligned start address.
type Frame[S PageSizer] struct {
	start PhysAddr
}

// FrameContaining returns the frame that contains the given physical
// address. Non-aligned addresses are rounded down to the frame start.
func FrameContaining[S PageSizer](addr PhysAddr) Frame[S] {
	return Frame[S]{start: addr.AlignDown(SizeOf[S]())}
}

// FrameFromStart returns the frame that begins at addr or ErrUnalignedAddress
// if addr is not aligned to the frame size.
func FrameFromStart[S PageSizer](addr PhysAddr) (Frame[S], *kernel.Error) {
	if !addr.IsAligned(SizeOf[S]()) {
		return Frame[S]{}, ErrUnalignedAddress
	}
	return Frame[S]{start: addr}, nil
}

// Start returns the physical address of the first byte in the frame.
func (f Frame[S]) Start() PhysAddr { return f.start }

// Size returns the frame size in bytes.
func (f Frame[S]) Size() uintptr { return SizeOf[S]() }

// Next returns the frame that immediately follows f.
func (f Frame[S]) Next() Frame[S] {
	return Frame[S]{start: f.start.Add(SizeOf[S]())}
}

// Page describes a virtual memory region of S.Size() bytes identified by its
// aligned start address.
type Page[S PageSizer] struct {
	start VirtAddr
}

// PageContaining returns the page that contains the given virtual address.
// Non-aligned addresses are rounded down to the page start.
func PageContaining[S PageSizer](addr VirtAddr) Page[S] {
	return Page[S]{start: addr.AlignDown(SizeOf[S]())}
}

// PageFromStart returns the page that begins at addr or ErrUnalignedAddress
// if addr is not aligned to the page size.
func PageFromStart[S PageSizer](addr VirtAddr) (Page[S], *kernel.Error) {
	if !addr.IsAligned(SizeOf[S]()) {
		return Page[S]{}, ErrUnalignedAddress
	}
	return Page[S]{start: addr}, nil
}

// Start returns the virtual address of the first byte in the page.
func (p Page[S]) Start() VirtAddr { return p.start }

// Size returns the page size in bytes.
func (p Page[S]) Size() uintptr { return SizeOf[S]() }

// Add returns the page located n pages after p. It panics if the result
// overflows the address space.
func (p Page[S]) Add(n uintptr) Page[S] {
	size := SizeOf[S]()
	if n > (^uintptr(0))/size {
		panic(errAddressOverflow)
	}
	return Page[S]{start: p.start.Add(n * size)}
}

// Compare returns -1, 0 or +1 depending on whether p starts before, at, or
// after other.
func (p Page[S]) Compare(other Page[S]) int {
	switch {
	case p.start < other.start:
		return -1
	case p.start > other.start:
		return 1
	default:
		return 0
	}
}

// PageRange describes an inclusive sequence of contiguous pages.
type PageRange[S PageSizer] struct {
	first Page[S]
	count uintptr
}

// NewPageRange returns a range of count pages beginning at start. It
// returns ErrEmptyPageRange if count is zero.
func NewPageRange[S PageSizer](start Page[S], count uintptr) (PageRange[S], *kernel.Error) {
	if count == 0 {
		return PageRange[S]{}, ErrEmptyPageRange
	}

	// Ensure that the last page is addressable.
	_ = start.Add(count - 1)

	return PageRange[S]{first: start, count: count}, nil
}

// Len returns the number of pages in the range.
func (r PageRange[S]) Len() uintptr { return r.count }

// First returns the first page in the range.
func (r PageRange[S]) First() Page[S] { return r.first }

// Last returns the last page in the range.
func (r PageRange[S]) Last() Page[S] { return r.first.Add(r.count - 1) }

// Bytes returns the size of the range in bytes.
func (r PageRange[S]) Bytes() uintptr { return r.count * SizeOf[S]() }

// Pages returns an iterator that yields the pages in the range in ascending
// address order. Each call returns a fresh iterator.
func (r PageRange[S]) Pages() iter.Seq[Page[S]] {
	return func(yield func(Page[S]) bool) {
		page := r.first
		for i := uintptr(0); i < r.count; i++ {
			if !yield(page) {
				return
			}
			if i+1 < r.count {
				page = page.Add(1)
			}
		}
	}
}
