package pmm

import (
	"gokernel/kernel"
	"gokernel/kernel/kfmt"
	"gokernel/kernel/mm"
	"gokernel/kernel/sync"
)

// BootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator implementation uses the memory region information provided by
// the bootloader to detect free memory blocks and return the next available
// free frame. Allocations are tracked via an internal cursor that contains
// the last allocated frame. The cursor only ever moves forward so a frame is
// never handed out twice.
//
// Due to the way that the allocator works, it is not possible to free
// allocated frames. Once the kernel is properly initialized, the allocated
// blocks can be handed over to a more advanced memory allocator that does
// support freeing.
type BootMemAllocator struct {
	mutex       sync.Spinlock
	initialized bool

	// regions points to the memory map supplied to Init. The allocator
	// does not copy it so it must remain valid for the allocator lifetime.
	regions []mm.MemoryRegion

	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// usableFrames is the number of frames that the allocator can hand out.
	usableFrames uint64

	// lastAllocFrame tracks the start address of the last allocated frame.
	// It is only meaningful when allocCount > 0.
	lastAllocFrame mm.PhysAddr

	// Keep track of kernel location so we exclude this region. The frame
	// bounds are page-aligned and kernelEndFrame is exclusive.
	kernelStartAddr, kernelEndAddr   uintptr
	kernelStartFrame, kernelEndFrame mm.PhysAddr
}

// FrameStats describes the frame usage of a BootMemAllocator.
type FrameStats struct {
	// Allocated is the number of frames handed out so far.
	Allocated uint64

	// Usable is the total number of frames that the allocator manages.
	Usable uint64
}

// Init sets up the allocator to serve frames from the usable regions in the
// supplied memory map while skipping over the frames occupied by the kernel
// image [kernelStart, kernelEnd). Calling Init more than once panics.
func (alloc *BootMemAllocator) Init(regions []mm.MemoryRegion, kernelStart, kernelEnd uintptr) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if alloc.initialized {
		panic(errAlreadyInitialized)
	}

	alloc.regions = regions
	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd

	// round down kernel start to the nearest page and round up kernel end
	// to the nearest page.
	if kernelEnd > kernelStart {
		alloc.kernelStartFrame = mm.PhysAddr(kernelStart).AlignDown(mm.PageSize)
		alloc.kernelEndFrame = mm.PhysAddr(kernelEnd).AlignUp(mm.PageSize)
	}

	alloc.usableFrames = 0
	for index := range regions {
		start, end, ok := usableFrameBounds(&regions[index])
		if !ok {
			continue
		}

		frames := uint64(end-start) >> mm.PageShift
		if overlapStart, overlapEnd := max(start, alloc.kernelStartFrame), min(end, alloc.kernelEndFrame); overlapStart < overlapEnd {
			frames -= uint64(overlapEnd-overlapStart) >> mm.PageShift
		}
		alloc.usableFrames += frames
	}

	alloc.initialized = true
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the lowest free frame located after the last allocated frame.
//
// AllocFrame returns an error if no more memory can be allocated or if the
// allocator has not been initialized.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame[mm.Size4KiB], *kernel.Error) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if !alloc.initialized {
		return mm.Frame[mm.Size4KiB]{}, errNotInitialized
	}

	var cursor mm.PhysAddr
	if alloc.allocCount != 0 {
		if alloc.lastAllocFrame > mm.PhysAddr(^uintptr(0)-mm.PageSize) {
			return mm.Frame[mm.Size4KiB]{}, errBootAllocOutOfMemory
		}
		cursor = alloc.lastAllocFrame + mm.PhysAddr(mm.PageSize)
	}

	var (
		found     bool
		candidate mm.PhysAddr
	)

	for index := range alloc.regions {
		start, end, ok := usableFrameBounds(&alloc.regions[index])
		if !ok || end <= cursor {
			continue
		}

		next := max(start, cursor)

		// Jump over the kernel image if the next frame falls inside it.
		if next >= alloc.kernelStartFrame && next < alloc.kernelEndFrame {
			next = alloc.kernelEndFrame
		}

		// The above adjustment might push next outside of the region
		// end (e.g kernel ends at last page in the region)
		if next >= end {
			continue
		}

		if !found || next < candidate {
			candidate, found = next, true
		}
	}

	if !found {
		return mm.Frame[mm.Size4KiB]{}, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	alloc.lastAllocFrame = candidate
	return mm.FrameContaining[mm.Size4KiB](candidate), nil
}

// Stats returns the number of allocated and usable frames.
func (alloc *BootMemAllocator) Stats() FrameStats {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	return FrameStats{Allocated: alloc.allocCount, Usable: alloc.usableFrames}
}

// PrintMemoryMap outputs the memory map that was passed to Init together with
// the location of the kernel image.
func (alloc *BootMemAllocator) PrintMemoryMap() {
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "system memory map:\n")
	var totalFree mm.Size
	for _, region := range alloc.regions {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Start, region.End, region.Len(), region.Kind.String())

		if region.Kind == mm.RegionUsable {
			totalFree += mm.Size(region.Len())
		}
	}
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "kernel loaded at 0x%x - 0x%x\n", alloc.kernelStartAddr, alloc.kernelEndAddr)
	kfmt.Logf(kfmt.LevelInfo, "boot_mem_alloc", "size: %d bytes, reserved pages: %d\n",
		uint64(alloc.kernelEndAddr-alloc.kernelStartAddr),
		uint64(alloc.kernelEndFrame-alloc.kernelStartFrame)>>mm.PageShift,
	)
}

// usableFrameBounds returns the page-aligned [start, end) bounds of a usable
// region. Reported addresses may not be page-aligned; the start is rounded up
// and the end is rounded down. Regions that are not usable or are smaller
// than a single frame after rounding are rejected.
func usableFrameBounds(region *mm.MemoryRegion) (start, end mm.PhysAddr, ok bool) {
	if region.Kind != mm.RegionUsable || region.Len() < uint64(mm.PageSize) {
		return 0, 0, false
	}

	if region.Start > uint64(^uintptr(0)-mm.PageSize) {
		return 0, 0, false
	}

	start = mm.PhysAddr(region.Start).AlignUp(mm.PageSize)
	end = mm.PhysAddr(region.End).AlignDown(mm.PageSize)
	if end <= start {
		return 0, 0, false
	}

	return start, end, true
}
