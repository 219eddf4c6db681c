// Package heap implements the kernel heap: a fixed-size block allocator for
// small requests backed by a first-fit linked list allocator for large
// requests and for refilling the block lists.
//
// The allocator never calls into the Go runtime allocator and only logs via
// kfmt so it can run before the runtime heap is available.
package heap

import (
	"gokernel/kernel"
	"gokernel/kernel/kfmt"
	"gokernel/kernel/sync"
	"unsafe"
)

var (
	errAlreadyInitialized = &kernel.Error{Module: "heap", Message: "heap allocator already initialized", Kind: kernel.KindPrecondition}
	errNotInitialized     = &kernel.Error{Module: "heap", Message: "heap allocator not initialized", Kind: kernel.KindPrecondition}
	errInvalidLayout      = &kernel.Error{Module: "heap", Message: "alignment must be a non-zero power of two", Kind: kernel.KindLayout}
	errInvalidFree        = &kernel.Error{Module: "heap", Message: "freed block overlaps free memory or lies outside the heap", Kind: kernel.KindPrecondition}
	errKernelHeapSet      = &kernel.Error{Module: "heap", Message: "kernel heap already registered", Kind: kernel.KindPrecondition}

	// ErrOutOfMemory is passed to the allocation error handler when the
	// kernel heap cannot satisfy a request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory", Kind: kernel.KindExhaustion}
)

var (
	kernelHeapLock sync.Spinlock

	// kernelHeap is the allocator registered via SetKernelHeap.
	kernelHeap *Allocator

	// allocErrorHandler is invoked by New and Vec when an allocation fails.
	allocErrorHandler = defaultAllocErrorHandler
)

// SetKernelHeap registers the allocator that serves the package-level
// allocation functions. Registering a second allocator panics; passing nil
// clears the registration.
func SetKernelHeap(a *Allocator) {
	kernelHeapLock.Acquire()
	defer kernelHeapLock.Release()

	if a != nil && kernelHeap != nil {
		panic(errKernelHeapSet)
	}
	kernelHeap = a
}

// KernelHeap returns the registered kernel heap or nil.
func KernelHeap() *Allocator {
	kernelHeapLock.Acquire()
	defer kernelHeapLock.Release()

	return kernelHeap
}

// SetAllocErrorHandler replaces the function invoked when New or Vec cannot
// allocate memory. Passing nil restores the default handler which reports the
// error through kfmt.Panic.
func SetAllocErrorHandler(fn func(*kernel.Error)) {
	if fn == nil {
		fn = defaultAllocErrorHandler
	}
	allocErrorHandler = fn
}

func defaultAllocErrorHandler(err *kernel.Error) {
	kfmt.Panic(err)
}

// Alloc allocates size bytes aligned to align from the kernel heap. It
// returns nil if no kernel heap is registered or if the request cannot be
// satisfied.
func Alloc(size, align uintptr) unsafe.Pointer {
	a := KernelHeap()
	if a == nil {
		return nil
	}
	return a.Alloc(size, align)
}

// Free releases a block obtained by Alloc. The size and align arguments must
// match the ones used for the allocation.
func Free(ptr unsafe.Pointer, size, align uintptr) {
	a := KernelHeap()
	if a == nil {
		panic(errNotInitialized)
	}
	a.Free(ptr, size, align)
}
