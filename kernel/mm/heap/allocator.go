package heap

import (
	"gokernel/kernel/kfmt"
	"gokernel/kernel/mm"
	"gokernel/kernel/sync"
	"unsafe"
)

// minBlockSize is the size of the smallest block class.
const minBlockSize = 8

// A free block stores the address of the next free block of its class so the
// smallest class must be able to hold a pointer.
const _ = uint(minBlockSize - unsafe.Sizeof(uintptr(0)))

// BlockSizes lists the block classes served by the fixed-size block
// allocator. Each size is a power of two and also the alignment of the
// blocks in its class.
var BlockSizes = [...]uintptr{minBlockSize, 16, 32, 64, 128, 256, 512, 1024, 2048}

// Stats describes the state of an Allocator.
type Stats struct {
	// Allocs and Frees count successful Alloc and Free calls.
	Allocs, Frees uint64

	// FailedAllocs counts Alloc calls that returned nil.
	FailedAllocs uint64

	// FreeBlocks is the number of cached blocks for each block class.
	FreeBlocks [len(BlockSizes)]int

	// FallbackFree is the number of free bytes in the fallback allocator
	// and FallbackHoles the number of holes they are split into.
	FallbackFree  uintptr
	FallbackHoles int
}

// Allocator is the kernel heap allocator. Requests up to the largest block
// class are served from per-class free lists; empty lists are refilled one
// block at a time from the fallback LinkedList allocator, which also serves
// all larger requests. Blocks returned to a class list are never handed back
// to the fallback allocator.
type Allocator struct {
	mutex       sync.Spinlock
	initialized bool

	listHeads [len(BlockSizes)]uintptr
	fallback  LinkedList

	allocs, frees, failedAllocs uint64
}

// Init sets up the allocator to manage [start, start+size). The region must
// be mapped. Calling Init more than once panics.
func (a *Allocator) Init(start mm.VirtAddr, size uintptr) {
	a.mutex.Acquire()
	defer a.mutex.Release()

	if a.initialized {
		panic(errAlreadyInitialized)
	}

	a.fallback.Init(start, size)
	a.initialized = true
	kfmt.Logf(kfmt.LevelDebug, "heap", "managing [0x%x - 0x%x]\n", uintptr(start), uintptr(start)+size)
}

// Alloc returns a block of at least size bytes aligned to align or nil if
// the request cannot be satisfied. Zero-sized requests return a unique
// minimal block. Alloc panics if align is not a power of two or if the
// allocator has not been initialized.
func (a *Allocator) Alloc(size, align uintptr) unsafe.Pointer {
	if !mm.IsPowerOfTwo(align) {
		panic(errInvalidLayout)
	}

	a.mutex.Acquire()
	defer a.mutex.Release()

	if !a.initialized {
		panic(errNotInitialized)
	}

	var addr uintptr
	if class := classIndex(size, align); class >= 0 {
		if addr = a.listHeads[class]; addr != 0 {
			a.listHeads[class] = *(*uintptr)(unsafe.Pointer(addr))
		} else {
			blockSize := BlockSizes[class]
			addr = a.fallback.Alloc(blockSize, blockSize)
		}
	} else {
		addr = a.fallback.Alloc(size, align)
	}

	if addr == 0 {
		a.failedAllocs++
		kfmt.Logf(kfmt.LevelWarn, "heap", "unable to allocate %d bytes (align %d)\n", size, align)
		return nil
	}

	a.allocs++
	return unsafe.Pointer(addr)
}

// Free returns a block obtained by Alloc. The size and align arguments must
// match the ones used for the allocation. Freeing nil is a no-op.
func (a *Allocator) Free(ptr unsafe.Pointer, size, align uintptr) {
	if ptr == nil {
		return
	}
	if !mm.IsPowerOfTwo(align) {
		panic(errInvalidLayout)
	}

	a.mutex.Acquire()
	defer a.mutex.Release()

	addr := uintptr(ptr)
	if !a.fallback.Contains(addr) {
		panic(errInvalidFree)
	}

	if class := classIndex(size, align); class >= 0 {
		*(*uintptr)(ptr) = a.listHeads[class]
		a.listHeads[class] = addr
	} else {
		a.fallback.Free(addr, size, align)
	}

	a.frees++
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	a.mutex.Acquire()
	defer a.mutex.Release()

	stats := Stats{Allocs: a.allocs, Frees: a.frees, FailedAllocs: a.failedAllocs}
	for class, head := range a.listHeads {
		for cur := head; cur != 0; cur = *(*uintptr)(unsafe.Pointer(cur)) {
			stats.FreeBlocks[class]++
		}
	}
	stats.FallbackFree, stats.FallbackHoles = a.fallback.FreeBytes()
	return stats
}

// classIndex returns the index of the smallest block class that can hold a
// block with the requested layout or -1 if the request must be served by the
// fallback allocator.
func classIndex(size, align uintptr) int {
	required := max(size, align)
	for index, blockSize := range BlockSizes {
		if required <= blockSize {
			return index
		}
	}
	return -1
}
