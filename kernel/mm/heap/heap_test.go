//go:build linux

package heap

import (
	"gokernel/kernel"
	"gokernel/kernel/mm"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newArena returns size bytes of memory that is not managed by the Go
// runtime.
func newArena(t *testing.T, size uintptr) mm.VirtAddr {
	t.Helper()

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Munmap(mem) })

	return mm.VirtAddr(unsafe.Pointer(&mem[0]))
}

func newTestAllocator(t *testing.T, size uintptr) (*Allocator, mm.VirtAddr) {
	start := newArena(t, size)

	var a Allocator
	a.Init(start, size)
	return &a, start
}

func TestClassIndex(t *testing.T) {
	specs := []struct {
		size, align uintptr
		expClass    int
	}{
		{0, 1, 0},
		{1, 1, 0},
		{8, 8, 0},
		{9, 1, 1},
		{24, 8, 2},
		{16, 64, 3},
		{2048, 1, 8},
		{2049, 1, -1},
		{8, 4096, -1},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.expClass, classIndex(spec.size, spec.align), "spec %d", specIndex)
	}
}

func TestClassMonotonicity(t *testing.T) {
	prevBlock := uintptr(0)
	for size := uintptr(1); size <= BlockSizes[len(BlockSizes)-1]; size++ {
		class := classIndex(size, 1)
		require.True(t, class >= 0, "size %d", size)

		block := BlockSizes[class]
		require.True(t, block >= size, "size %d assigned to block %d", size, block)
		require.True(t, block >= prevBlock, "size %d assigned to smaller block %d than size %d", size, block, size-1)
		prevBlock = block
	}

	for i := 1; i < len(BlockSizes); i++ {
		assert.True(t, mm.IsPowerOfTwo(BlockSizes[i]))
		assert.True(t, BlockSizes[i] > BlockSizes[i-1])
	}
}

func TestAllocFreeReuse(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<20)

	specs := []struct {
		size, align uintptr
	}{
		{1, 1},
		{8, 8},
		{24, 8},
		{100, 4},
		{2048, 2048},
		{3000, 8},
		{8192, 4096},
	}

	for specIndex, spec := range specs {
		p1 := a.Alloc(spec.size, spec.align)
		require.NotNil(t, p1, "spec %d", specIndex)
		assert.Zero(t, uintptr(p1)&(spec.align-1), "[spec %d] misaligned block", specIndex)

		a.Free(p1, spec.size, spec.align)

		p2 := a.Alloc(spec.size, spec.align)
		assert.Equal(t, p1, p2, "[spec %d] expected freed block to be reused", specIndex)
		a.Free(p2, spec.size, spec.align)
	}

	stats := a.Stats()
	assert.Equal(t, uint64(2*len(specs)), stats.Allocs)
	assert.Equal(t, stats.Allocs, stats.Frees)
}

func TestBlockClassSharing(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<20)

	// A 24 byte request is served from the 32 byte class so a later 32
	// byte request reuses its block.
	p := a.Alloc(24, 8)
	require.NotNil(t, p)
	assert.Zero(t, uintptr(p)&31)
	a.Free(p, 24, 8)
	assert.Equal(t, 1, a.Stats().FreeBlocks[2])

	assert.Equal(t, p, a.Alloc(32, 32))
	assert.Equal(t, 0, a.Stats().FreeBlocks[2])

	// Distinct live blocks never overlap.
	var blocks []uintptr
	for i := 0; i < 64; i++ {
		b := a.Alloc(32, 8)
		require.NotNil(t, b)
		for _, other := range blocks {
			require.False(t, uintptr(b) < other+32 && other < uintptr(b)+32, "block 0x%x overlaps 0x%x", uintptr(b), other)
		}
		blocks = append(blocks, uintptr(b))
	}
}

func TestFallbackAllocation(t *testing.T) {
	const heapSize = 1 << 16
	a, start := newTestAllocator(t, heapSize)

	stats := a.Stats()
	assert.Equal(t, uintptr(heapSize), stats.FallbackFree)
	assert.Equal(t, 1, stats.FallbackHoles)

	p := a.Alloc(4096, 8)
	require.NotNil(t, p)
	assert.Equal(t, start, mm.VirtAddr(p))
	assert.Equal(t, uintptr(heapSize-4096), a.Stats().FallbackFree)

	// Larger than any block class; the request is served even though
	// every class list is empty.
	q := a.Alloc(2049, 1)
	require.NotNil(t, q)
	assert.Equal(t, start.Add(4096), mm.VirtAddr(q))

	a.Free(p, 4096, 8)
	a.Free(q, 2049, 1)

	stats = a.Stats()
	assert.Equal(t, uintptr(heapSize), stats.FallbackFree)
	assert.Equal(t, 1, stats.FallbackHoles)
}

func TestAllocatorExhaustion(t *testing.T) {
	a, _ := newTestAllocator(t, 4096)

	assert.Nil(t, a.Alloc(8192, 8))
	p := a.Alloc(4096, 16)
	require.NotNil(t, p)
	assert.Nil(t, a.Alloc(8, 8))

	stats := a.Stats()
	assert.Equal(t, uint64(2), stats.FailedAllocs)
	assert.Equal(t, uint64(1), stats.Allocs)
}

func TestAllocatorPreconditions(t *testing.T) {
	var a Allocator
	assert.PanicsWithValue(t, errNotInitialized, func() { a.Alloc(8, 8) })

	arena := newArena(t, 4096)
	a.Init(arena, 4096)
	assert.PanicsWithValue(t, errAlreadyInitialized, func() { a.Init(arena, 4096) })

	assert.PanicsWithValue(t, errInvalidLayout, func() { a.Alloc(8, 3) })
	assert.PanicsWithValue(t, errInvalidLayout, func() { a.Alloc(8, 0) })

	var outside uint64
	assert.PanicsWithValue(t, errInvalidFree, func() { a.Free(unsafe.Pointer(&outside), 8, 8) })

	// Freeing nil is allowed.
	a.Free(nil, 8, 8)
}

func TestAllocatorConcurrency(t *testing.T) {
	a, _ := newTestAllocator(t, 4<<20)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			size := uintptr(8 << (worker % 10))
			for i := 0; i < 500; i++ {
				p := a.Alloc(size, 8)
				if p == nil {
					t.Errorf("[worker %d] allocation %d failed", worker, i)
					return
				}
				*(*byte)(p) = byte(worker)
				a.Free(p, size, 8)
			}
		}(worker)
	}
	wg.Wait()

	stats := a.Stats()
	assert.Equal(t, stats.Allocs, stats.Frees)
}

func TestKernelHeap(t *testing.T) {
	defer SetKernelHeap(nil)
	defer SetAllocErrorHandler(nil)

	var handled []*kernel.Error
	SetAllocErrorHandler(func(err *kernel.Error) { handled = append(handled, err) })

	assert.Nil(t, Alloc(8, 8))
	assert.Nil(t, New[uint64]())
	assert.Equal(t, []*kernel.Error{ErrOutOfMemory}, handled)
	assert.PanicsWithValue(t, errNotInitialized, func() { Free(nil, 8, 8) })

	a, _ := newTestAllocator(t, 1<<20)
	SetKernelHeap(a)
	assert.Equal(t, a, KernelHeap())
	assert.PanicsWithValue(t, errKernelHeapSet, func() { SetKernelHeap(a) })

	type point struct{ x, y int64 }
	p := New[point]()
	require.NotNil(t, p)
	assert.Equal(t, point{}, *p)
	p.x, p.y = 3, 4
	Delete(p)

	// The block is reused by the next allocation of the same layout.
	assert.Equal(t, unsafe.Pointer(p), Alloc(unsafe.Sizeof(point{}), unsafe.Alignof(point{})))
}

func TestVec(t *testing.T) {
	defer SetKernelHeap(nil)

	a, _ := newTestAllocator(t, 8<<20)
	SetKernelHeap(a)

	var v Vec[uint64]
	for i := uint64(0); i < 1000; i++ {
		require.True(t, v.Push(i))
	}
	assert.Equal(t, 1000, v.Len())
	assert.True(t, v.Cap() >= 1000)

	var sum uint64
	for i := 0; i < v.Len(); i++ {
		sum += v.At(i)
	}
	assert.Equal(t, uint64(499500), sum)

	v.Set(0, 42)
	assert.Equal(t, uint64(42), v.Slice()[0])
	assert.PanicsWithValue(t, errIndexOutOfRange, func() { v.At(1000) })
	assert.PanicsWithValue(t, errIndexOutOfRange, func() { v.Set(-1, 0) })

	v.Release()
	assert.Zero(t, v.Len())
	assert.Nil(t, v.Slice())

	// Everything is returned to the allocator.
	stats := a.Stats()
	assert.Equal(t, stats.Allocs, stats.Frees)
}

func TestVecGrowFailure(t *testing.T) {
	defer SetKernelHeap(nil)
	defer SetAllocErrorHandler(nil)

	var handled int
	SetAllocErrorHandler(func(*kernel.Error) { handled++ })

	a, _ := newTestAllocator(t, 4096)
	SetKernelHeap(a)

	var v Vec[[512]byte]
	for v.Push([512]byte{}) {
	}
	assert.Equal(t, 1, handled)
	assert.True(t, v.Len() > 0)
	v.Release()
}
