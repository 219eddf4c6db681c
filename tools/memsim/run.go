//go:build linux

package main

import (
	"unsafe"

	"gokernel/kernel"
	"gokernel/kernel/kmain"
	"gokernel/kernel/mm"
	"gokernel/kernel/mm/emu"
	"gokernel/kernel/mm/heap"
	"gokernel/kernel/mm/pmm"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Report summarizes a simulation run.
type Report struct {
	Stage kmain.Stage

	Frames pmm.FrameStats
	Heap   heap.Stats

	// HeapStart is the virtual address of the heap inside the emulated
	// machine window and HeapFrame the physical frame backing its first
	// page.
	HeapStart mm.VirtAddr
	HeapFrame mm.PhysAddr

	// LiveBlocks is the number of workload blocks that were still allocated
	// when their contents were verified.
	LiveBlocks int

	// VecSum is the sum of the elements pushed to the heap-backed vector.
	VecSum uint64
}

type block struct {
	ptr  unsafe.Pointer
	size uintptr
	fill byte
}

// Simulate boots the memory subsystem described by the scenario on an
// emulated machine and runs the heap workload against it.
func Simulate(s *Scenario, log *logrus.Entry) (*Report, error) {
	m, err := emu.New(emu.Config{
		PhysSize: uintptr(s.Machine.PhysSize),
		Codec:    s.Codec(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create emulated machine")
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.WithError(err).Warn("failed to release emulated machine")
		}
	}()

	heapStart, windowSize := m.Window()
	if s.Heap.Size > uint64(windowSize) {
		return nil, errors.Errorf("heap size 0x%x exceeds the emulated address window (0x%x)", s.Heap.Size, windowSize)
	}

	cfg := kmain.Config{
		HeapStart:   heapStart,
		HeapSize:    uintptr(s.Heap.Size),
		RemapPolicy: s.RemapPolicy(),
		Codec:       m.Codec(),
	}
	info := kmain.BootInfo{
		MemoryMap:   s.MemoryMap(),
		PhysOffset:  m.PhysOffset(),
		KernelStart: uintptr(s.Machine.KernelStart),
		KernelEnd:   uintptr(s.Machine.KernelEnd),
	}

	var mem kmain.MemorySubsystem
	report := &Report{HeapStart: heapStart}
	if kerr := mem.Init(cfg, info, m); kerr != nil {
		report.Stage, report.Frames = mem.Stage(), mem.Frames().Stats()
		return report, errors.Wrapf(kerr, "memory subsystem init failed (%s)", kerr.Kind.String())
	}
	report.Stage = mem.Stage()

	if report.HeapFrame, err = translate(mem.Mapper().Translate(heapStart)); err != nil {
		return report, err
	}
	log.WithFields(logrus.Fields{
		"heap_start": uintptr(heapStart),
		"heap_frame": uintptr(report.HeapFrame),
		"flushes":    m.Flushes(),
	}).Debug("heap mapped")

	heap.SetKernelHeap(mem.Heap())
	defer heap.SetKernelHeap(nil)

	var allocErr error
	heap.SetAllocErrorHandler(func(kerr *kernel.Error) { allocErr = kerr })
	defer heap.SetAllocErrorHandler(nil)

	if report.LiveBlocks, err = runBlocks(mem.Heap(), &s.Workload, log); err != nil {
		return report, err
	}
	if report.VecSum, err = runVec(s.Workload.VecLen); err != nil {
		return report, err
	}
	if allocErr != nil {
		return report, errors.Wrap(allocErr, "heap allocation failed")
	}

	report.Frames, report.Heap = mem.Frames().Stats(), mem.Heap().Stats()
	return report, nil
}

// translate converts a mapper lookup result into an error-interface result
// without tripping over typed nil pointers.
func translate(pa mm.PhysAddr, kerr *kernel.Error) (mm.PhysAddr, error) {
	if kerr != nil {
		return 0, errors.Wrap(kerr, "heap start is not mapped")
	}
	return pa, nil
}

// runBlocks allocates the workload blocks, frees every other one, allocates
// them again and finally checks that no block was corrupted.
func runBlocks(h *heap.Allocator, w *WorkloadConfig, log *logrus.Entry) (int, error) {
	align := uintptr(w.Align)
	blocks := make([]block, w.Blocks)

	alloc := func(i int) {
		size := uintptr(w.Sizes[i%len(w.Sizes)])
		b := block{ptr: h.Alloc(size, align), size: size, fill: byte(i)}
		if b.ptr != nil {
			fillBlock(b)
		}
		blocks[i] = b
	}

	for i := range blocks {
		alloc(i)
	}
	for i := 0; i < len(blocks); i += 2 {
		h.Free(blocks[i].ptr, blocks[i].size, align)
		blocks[i].ptr = nil
	}
	for i := 0; i < len(blocks); i += 2 {
		alloc(i)
	}

	var live, failed int
	for i, b := range blocks {
		if b.ptr == nil {
			failed++
			continue
		}
		if uintptr(b.ptr)%align != 0 {
			return live, errors.Errorf("block %d at 0x%x is not aligned to %d", i, uintptr(b.ptr), align)
		}
		if !checkBlock(b) {
			return live, errors.Errorf("block %d at 0x%x was corrupted", i, uintptr(b.ptr))
		}
		live++
	}
	if failed != 0 {
		log.WithField("failed", failed).Warn("heap could not satisfy all workload allocations")
	}

	for _, b := range blocks {
		h.Free(b.ptr, b.size, align)
	}
	return live, nil
}

func fillBlock(b block) {
	if b.size == 0 {
		return
	}
	kernel.Memset(uintptr(b.ptr), b.fill, b.size)
}

func checkBlock(b block) bool {
	for _, v := range unsafe.Slice((*byte)(b.ptr), b.size) {
		if v != b.fill {
			return false
		}
	}
	return true
}

// runVec pushes n consecutive integers to a heap-backed vector and returns
// their sum.
func runVec(n int) (uint64, error) {
	var v heap.Vec[uint64]
	defer v.Release()

	for i := 0; i < n; i++ {
		if !v.Push(uint64(i)) {
			return 0, errors.Errorf("vector push %d failed", i)
		}
	}

	var sum uint64
	for _, value := range v.Slice() {
		sum += value
	}
	if exp := uint64(n) * uint64(max(n-1, 0)) / 2; sum != exp {
		return sum, errors.Errorf("vector sum %d does not match expected %d", sum, exp)
	}
	return sum, nil
}
