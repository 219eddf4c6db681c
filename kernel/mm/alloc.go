package mm

import (
	"gokernel/kernel"
	"gokernel/kernel/sync"
)

var (
	frameAllocatorLock sync.Spinlock

	// frameAllocator points to the frame allocator registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocator[Size4KiB]

	errNoFrameAllocator  = &kernel.Error{Module: "mm", Message: "frame allocator not initialized", Kind: kernel.KindPrecondition}
	errFrameAllocatorSet = &kernel.Error{Module: "mm", Message: "frame allocator already initialized", Kind: kernel.KindPrecondition}
)

// FrameAllocator is implemented by physical frame allocators. Allocators
// that can also reclaim frames are expected to expose that capability via a
// separate interface so callers that only allocate remain unchanged.
type FrameAllocator[S PageSizer] interface {
	AllocFrame() (Frame[S], *kernel.Error)
}

// FrameAllocatorFn adapts a function to the FrameAllocator interface.
type FrameAllocatorFn func() (Frame[Size4KiB], *kernel.Error)

// AllocFrame implements FrameAllocator.
func (fn FrameAllocatorFn) AllocFrame() (Frame[Size4KiB], *kernel.Error) {
	return fn()
}

// SetFrameAllocator registers the frame allocator that will be used by the
// vmm code when new physical frames need to be allocated. Registering a
// second allocator panics; passing nil clears the registration.
func SetFrameAllocator(alloc FrameAllocator[Size4KiB]) {
	frameAllocatorLock.Acquire()
	defer frameAllocatorLock.Release()

	if alloc != nil && frameAllocator != nil {
		panic(errFrameAllocatorSet)
	}
	frameAllocator = alloc
}

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame[Size4KiB], *kernel.Error) {
	frameAllocatorLock.Acquire()
	alloc := frameAllocator
	frameAllocatorLock.Release()

	if alloc == nil {
		return Frame[Size4KiB]{}, errNoFrameAllocator
	}
	return alloc.AllocFrame()
}
