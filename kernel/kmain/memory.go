package kmain

import (
	"gokernel/kernel"
	"gokernel/kernel/kfmt"
	"gokernel/kernel/mm"
	"gokernel/kernel/mm/heap"
	"gokernel/kernel/mm/pmm"
	"gokernel/kernel/mm/vmm"
	"gokernel/kernel/sync"
)

var (
	errNoMemoryMap         = &kernel.Error{Module: "kmain", Message: "bootloader did not supply a memory map", Kind: kernel.KindPrecondition}
	errInvalidHeapConfig   = &kernel.Error{Module: "kmain", Message: "heap range must be non-empty, page-aligned and must not wrap", Kind: kernel.KindPrecondition}
	errAlreadyInitialized  = &kernel.Error{Module: "kmain", Message: "memory subsystem already initialized", Kind: kernel.KindPrecondition}
	errMemoryAlreadyActive = &kernel.Error{Module: "kmain", Message: "kernel memory subsystem already active", Kind: kernel.KindPrecondition}
)

// BootInfo contains the information handed over by the bootloader and the
// rt0 code that is required for initializing the memory subsystem.
type BootInfo struct {
	// MemoryMap lists the physical memory regions reported by the
	// bootloader. It must remain valid for the lifetime of the kernel.
	MemoryMap []mm.MemoryRegion

	// PhysOffset is the virtual address at which all physical memory is
	// mapped.
	PhysOffset uintptr

	// KernelStart and KernelEnd are the physical bounds of the kernel image.
	KernelStart, KernelEnd uintptr
}

// MemorySubsystem owns the frame allocator, the kernel page table mapper and
// the kernel heap and brings them up in order.
type MemorySubsystem struct {
	stage Stage

	frames pmm.BootMemAllocator
	mapper *vmm.Mapper
	heap   heap.Allocator
}

// Stage returns the last stage that was reached.
func (s *MemorySubsystem) Stage() Stage { return s.stage }

// Frames returns the physical frame allocator.
func (s *MemorySubsystem) Frames() *pmm.BootMemAllocator { return &s.frames }

// Mapper returns the page table mapper or nil if the page table stage has
// not been reached.
func (s *MemorySubsystem) Mapper() *vmm.Mapper { return s.mapper }

// Heap returns the heap allocator. It is only usable once the subsystem has
// reached StageHeapAllocatorReady.
func (s *MemorySubsystem) Heap() *heap.Allocator { return &s.heap }

// Init runs the initialization stages in order: it sets up the frame
// allocator from the memory map, attaches a mapper to the page table that
// arch reports as active, maps the heap range with fresh frames and finally
// hands the range over to the heap allocator.
//
// Init stops at the first failing stage, moves the subsystem to StageFailed
// and returns the error. Calling Init more than once panics.
func (s *MemorySubsystem) Init(cfg Config, info BootInfo, arch vmm.Arch) *kernel.Error {
	if s.stage != StageUninitialized {
		panic(errAlreadyInitialized)
	}

	err := s.init(&cfg, &info, arch)
	if err != nil {
		kfmt.Logf(kfmt.LevelError, "kmain", "memory init failed after stage '%s': %s\n", s.stage.String(), err.Message)
		s.stage = StageFailed
	}
	return err
}

func (s *MemorySubsystem) init(cfg *Config, info *BootInfo, arch vmm.Arch) *kernel.Error {
	if len(info.MemoryMap) == 0 {
		return errNoMemoryMap
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	s.advance(StageMemoryMapObtained)

	s.frames.Init(info.MemoryMap, info.KernelStart, info.KernelEnd)
	s.frames.PrintMemoryMap()
	s.advance(StageFrameAllocatorReady)

	codec := cfg.Codec
	if codec == nil {
		codec = vmm.NativeCodec()
	}
	s.mapper = vmm.NewMapper(arch, codec, info.PhysOffset, &s.frames, cfg.RemapPolicy)
	s.advance(StagePageTableActive)

	pageCount := cfg.HeapSize >> mm.PageShift
	if _, err := s.mapper.AllocateRange(cfg.HeapStart, pageCount); err != nil {
		return err
	}
	s.advance(StageHeapRangeMapped)

	s.heap.Init(cfg.HeapStart, cfg.HeapSize)
	s.advance(StageHeapAllocatorReady)

	return nil
}

func (s *MemorySubsystem) advance(stage Stage) {
	s.stage = stage
	kfmt.Logf(kfmt.LevelDebug, "kmain", "memory init: %s\n", stage.String())
}

var (
	// memoryOnce guards the process-wide memory subsystem.
	memoryOnce sync.OneShot

	kernelMemory MemorySubsystem
)

// InitMemory initializes the process-wide memory subsystem and, on success,
// registers its frame allocator, mapper and heap as the kernel defaults used
// by mm.AllocFrame, the vmm package functions and the heap package functions.
// InitMemory may only be called once.
func InitMemory(cfg Config, info BootInfo, arch vmm.Arch) *kernel.Error {
	if !memoryOnce.Claim() {
		panic(errMemoryAlreadyActive)
	}

	if err := kernelMemory.Init(cfg, info, arch); err != nil {
		return err
	}

	mm.SetFrameAllocator(kernelMemory.Frames())
	vmm.SetKernelMapper(kernelMemory.Mapper())
	heap.SetKernelHeap(kernelMemory.Heap())

	stats := kernelMemory.Frames().Stats()
	kfmt.Logf(kfmt.LevelInfo, "kmain", "heap ready at 0x%x (%dKb), %d/%d frames in use\n",
		uintptr(cfg.HeapStart), cfg.HeapSize/1024, stats.Allocated, stats.Usable)
	return nil
}

// KernelMemory returns the process-wide memory subsystem.
func KernelMemory() *MemorySubsystem { return &kernelMemory }
