package kmain

import (
	"bytes"
	"encoding/binary"
	"gokernel/kernel"
	"gokernel/kernel/cpu"
	"gokernel/kernel/kfmt"
	"gokernel/kernel/mm"
	"gokernel/kernel/mm/vmm"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLog redirects kfmt output to a buffer for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prevSink, prevLevel := kfmt.GetOutputSink(), kfmt.LogLevel()
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() {
		kfmt.SetOutputSink(prevSink)
		kfmt.SetLogLevel(prevLevel)
	})
	return &buf
}

type stubArch struct{}

func (stubArch) ActiveRootTable() mm.PhysAddr { return 0 }
func (stubArch) FlushTLBEntry(_ mm.VirtAddr)  {}

// multibootInfo returns a multiboot2 info block containing a memory map tag
// with the supplied (base, length, type) entries.
func multibootInfo(entries ...[3]uint64) []uint64 {
	const entrySize = 24

	mmapTagSize := 16 + entrySize*len(entries)
	raw := make([]byte, 8+mmapTagSize+8)
	le := binary.LittleEndian

	le.PutUint32(raw[0:], uint32(len(raw)))
	le.PutUint32(raw[8:], 6)
	le.PutUint32(raw[12:], uint32(mmapTagSize))
	le.PutUint32(raw[16:], entrySize)
	for i, entry := range entries {
		offset := 24 + i*entrySize
		le.PutUint64(raw[offset:], entry[0])
		le.PutUint64(raw[offset+8:], entry[1])
		le.PutUint32(raw[offset+16:], uint32(entry[2]))
	}
	// The end tag (type 0, size 8) is already zeroed.
	le.PutUint32(raw[len(raw)-4:], 8)

	// Tags must be 8-byte aligned.
	aligned := make([]uint64, len(raw)/8)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&aligned[0])), len(raw)), raw)
	return aligned
}

type kmainMocks struct {
	cfg        Config
	info       BootInfo
	arch       vmm.Arch
	initErr    *kernel.Error
	panics     []interface{}
	debugExits []uint32
}

func mockKmainDeps(t *testing.T, cfg Config) *kmainMocks {
	mocks := &kmainMocks{}

	origConfig, origInit, origArch, origExit, origPanic := configFn, initMemoryFn, nativeArchFn, debugExitFn, panicFn
	t.Cleanup(func() {
		configFn, initMemoryFn, nativeArchFn, debugExitFn, panicFn = origConfig, origInit, origArch, origExit, origPanic
		kfmt.SetHaltHandler(nil)
	})

	configFn = func() Config { return cfg }
	initMemoryFn = func(cfg Config, info BootInfo, arch vmm.Arch) *kernel.Error {
		mocks.cfg, mocks.info, mocks.arch = cfg, info, arch
		return mocks.initErr
	}
	nativeArchFn = func() vmm.Arch { return stubArch{} }
	debugExitFn = func(code uint32) { mocks.debugExits = append(mocks.debugExits, code) }
	panicFn = func(e interface{}) { mocks.panics = append(mocks.panics, e) }

	return mocks
}

func TestKmain(t *testing.T) {
	captureLog(t)
	mocks := mockKmainDeps(t, DefaultConfig())

	mbInfo := multibootInfo(
		[3]uint64{0, 0x9fc00, 1},
		[3]uint64{0x9fc00, 0x400, 2},
		[3]uint64{0x100000, 0x7ee0000, 1},
	)
	Kmain(uintptr(unsafe.Pointer(&mbInfo[0])), 0x100000, 0x200000)

	assert.Equal(t, []mm.MemoryRegion{
		{Start: 0, End: 0x9fc00, Kind: mm.RegionUsable},
		{Start: 0x9fc00, End: 0xa0000, Kind: mm.RegionReserved},
		{Start: 0x100000, End: 0x7fe0000, Kind: mm.RegionUsable},
	}, mocks.info.MemoryMap)
	assert.Equal(t, uintptr(0x100000), mocks.info.KernelStart)
	assert.Equal(t, uintptr(0x200000), mocks.info.KernelEnd)
	assert.Equal(t, physMemOffset, mocks.info.PhysOffset)
	assert.Equal(t, stubArch{}, mocks.arch)
	assert.Equal(t, DefaultConfig(), mocks.cfg)

	// The memory map is collected into static storage.
	assert.Equal(t, &memoryMap[0], &mocks.info.MemoryMap[0])

	assert.Equal(t, []interface{}{errKmainReturned}, mocks.panics)
	assert.Empty(t, mocks.debugExits)
}

func TestKmainInitFailure(t *testing.T) {
	captureLog(t)
	mocks := mockKmainDeps(t, DefaultConfig())
	mocks.initErr = errNoMemoryMap

	Kmain(0, 0, 0)

	assert.Empty(t, mocks.info.MemoryMap)
	assert.Equal(t, []interface{}{errNoMemoryMap}, mocks.panics)
}

func TestKmainExitOnFatal(t *testing.T) {
	captureLog(t)
	cfg := DefaultConfig()
	cfg.ExitOnFatal = true
	mocks := mockKmainDeps(t, cfg)

	Kmain(0, 0, 0)
	assert.Equal(t, []uint32{cpu.ExitSuccess}, mocks.debugExits)

	// Fatal errors signal the debug exit device instead of halting.
	kfmt.Panic(errNoMemoryMap)
	assert.Equal(t, []uint32{cpu.ExitSuccess, cpu.ExitFailure}, mocks.debugExits)
}

func TestKmainDropsExcessRegions(t *testing.T) {
	buf := captureLog(t)
	mocks := mockKmainDeps(t, DefaultConfig())

	entries := make([][3]uint64, maxMemoryRegions+2)
	for i := range entries {
		entries[i] = [3]uint64{uint64(i) * 0x10000, 0x10000, 1}
	}
	mbInfo := multibootInfo(entries...)
	Kmain(uintptr(unsafe.Pointer(&mbInfo[0])), 0, 0)

	require.Len(t, mocks.info.MemoryMap, maxMemoryRegions)
	assert.Contains(t, buf.String(), "ignoring 2 memory map entries")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, mm.VirtAddr(defaultHeapStart), cfg.HeapStart)
	assert.Equal(t, 8*uintptr(mm.Mb), cfg.HeapSize)
	assert.Equal(t, vmm.RemapError, cfg.RemapPolicy)
	assert.Nil(t, cfg.Codec)
	assert.False(t, cfg.ExitOnFatal)
	assert.Nil(t, cfg.validate())
}

func TestStageString(t *testing.T) {
	specs := []struct {
		stage  Stage
		expStr string
	}{
		{StageUninitialized, "uninitialized"},
		{StageMemoryMapObtained, "memory map obtained"},
		{StageFrameAllocatorReady, "frame allocator ready"},
		{StagePageTableActive, "page table active"},
		{StageHeapRangeMapped, "heap range mapped"},
		{StageHeapAllocatorReady, "heap allocator ready"},
		{StageFailed, "failed"},
		{Stage(0xff), "unknown"},
	}

	for specIndex, spec := range specs {
		assert.Equal(t, spec.expStr, spec.stage.String(), "spec %d", specIndex)
	}
}
