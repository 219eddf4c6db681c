//go:build linux

// Package emu provides an emulated machine that lets the memory subsystem run
// as an ordinary Linux process.
//
// Physical memory is a memfd that is mapped once into the process; its base
// address acts as the physical memory offset used by vmm.Mapper to reach page
// tables. A fixed virtual address window is reserved for the kernel mappings.
// The machine implements vmm.Arch: every TLB flush walks the page tables
// (the way the MMU would on a translation cache miss) and mirrors the result
// into the window by mapping (or unmapping) the backing slice of the memfd. Code that accesses mapped
// addresses inside the window therefore touches the emulated physical
// frames.
package emu

import (
	"gokernel/kernel/mm"
	"gokernel/kernel/mm/vmm"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultWindowStart is a virtual address that is canonical for both the
// Sv39 and the x86_64 paging schemes and is normally unused by Linux
// processes.
const DefaultWindowStart = uintptr(0x10_0000_0000)

// Config describes the layout of an emulated machine.
type Config struct {
	// PhysSize is the amount of emulated physical memory in bytes.
	PhysSize uintptr

	// WindowStart and WindowSize define the virtual address range where
	// mappings are mirrored. WindowStart defaults to DefaultWindowStart
	// and WindowSize to 1GiB.
	WindowStart, WindowSize uintptr

	// RootTable is the physical address of the page table that is
	// reported as active on start-up.
	RootTable mm.PhysAddr

	// Codec is the page table format understood by the software MMU. It
	// defaults to vmm.X86_64.
	Codec vmm.EntryCodec
}

// Machine is an emulated machine with a software MMU.
type Machine struct {
	mu sync.Mutex

	fd       int
	phys     []byte
	physSize uintptr

	windowStart, windowSize uintptr

	root  mm.PhysAddr
	codec vmm.EntryCodec

	// mirrored tracks the pages installed into the window by their start
	// address and size.
	mirrored map[mm.VirtAddr]uintptr
	flushes  int
}

// New creates an emulated machine. The caller must invoke Close to release
// the machine resources.
func New(cfg Config) (*Machine, error) {
	if cfg.PhysSize == 0 || !mm.VirtAddr(cfg.PhysSize).IsAligned(mm.PageSize) {
		return nil, errors.Errorf("physical memory size 0x%x must be a non-zero multiple of the page size", cfg.PhysSize)
	}
	if cfg.WindowStart == 0 {
		cfg.WindowStart = DefaultWindowStart
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = uintptr(mm.Gb)
	}
	if cfg.Codec == nil {
		cfg.Codec = vmm.X86_64{}
	}
	if uintptr(cfg.RootTable) >= cfg.PhysSize || !mm.VirtAddr(cfg.RootTable).IsAligned(mm.PageSize) {
		return nil, errors.Errorf("root table 0x%x is not a page inside physical memory", uintptr(cfg.RootTable))
	}

	fd, err := unix.MemfdCreate("emu-phys", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "creating physical memory file")
	}

	m := &Machine{
		fd:          fd,
		physSize:    cfg.PhysSize,
		windowStart: cfg.WindowStart,
		windowSize:  cfg.WindowSize,
		root:        cfg.RootTable,
		codec:       cfg.Codec,
		mirrored:    make(map[mm.VirtAddr]uintptr),
	}

	if err = unix.Ftruncate(fd, int64(cfg.PhysSize)); err != nil {
		_ = m.Close()
		return nil, errors.Wrapf(err, "sizing physical memory to 0x%x bytes", cfg.PhysSize)
	}

	if m.phys, err = unix.Mmap(fd, 0, int(cfg.PhysSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED); err != nil {
		_ = m.Close()
		return nil, errors.Wrap(err, "mapping physical memory")
	}

	if err = m.reserve(m.windowStart, m.windowSize, unix.MAP_FIXED_NOREPLACE); err != nil {
		m.windowSize = 0
		_ = m.Close()
		return nil, errors.Wrapf(err, "reserving virtual window at 0x%x", cfg.WindowStart)
	}

	return m, nil
}

// Close releases the emulated physical memory and the virtual window.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	if m.windowSize != 0 {
		if err := unix.MunmapPtr(unsafe.Pointer(m.windowStart), m.windowSize); err != nil {
			firstErr = errors.Wrap(err, "releasing virtual window")
		}
		m.windowSize = 0
	}
	if m.phys != nil {
		if err := unix.Munmap(m.phys); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "unmapping physical memory")
		}
		m.phys = nil
	}
	if m.fd >= 0 {
		if err := unix.Close(m.fd); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "closing physical memory file")
		}
		m.fd = -1
	}
	return firstErr
}

// PhysOffset returns the virtual address where emulated physical address 0
// is accessible.
func (m *Machine) PhysOffset() uintptr {
	return uintptr(unsafe.Pointer(&m.phys[0]))
}

// PhysSize returns the size of the emulated physical memory.
func (m *Machine) PhysSize() uintptr { return m.physSize }

// Phys returns the emulated physical memory.
func (m *Machine) Phys() []byte { return m.phys }

// Window returns the virtual address range where mappings are mirrored.
func (m *Machine) Window() (start mm.VirtAddr, size uintptr) {
	return mm.VirtAddr(m.windowStart), m.windowSize
}

// Codec returns the page table format understood by the software MMU.
func (m *Machine) Codec() vmm.EntryCodec { return m.codec }

// Flushes returns the number of FlushTLBEntry calls.
func (m *Machine) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// ActiveRootTable implements vmm.Arch.
func (m *Machine) ActiveRootTable() mm.PhysAddr {
	return m.root
}

// FlushTLBEntry implements vmm.Arch. Addresses outside the window, and pages
// that are backed by frames outside the emulated physical memory, are not
// mirrored.
func (m *Machine) FlushTLBEntry(addr mm.VirtAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushes++
	if !m.inWindow(uintptr(addr), 1) {
		return
	}

	m.dropMirror(addr)

	pa, size, ok := m.translate(addr)
	if !ok {
		return
	}

	start := addr.AlignDown(size)
	if !m.inWindow(uintptr(start), size) || uintptr(pa) >= m.physSize || size > m.physSize-uintptr(pa) {
		return
	}

	_, err := unix.MmapPtr(m.fd, int64(pa), unsafe.Pointer(uintptr(start)), size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED)
	if err != nil {
		panic(errors.Wrapf(err, "mirroring page 0x%x -> 0x%x", uintptr(start), uintptr(pa)))
	}
	m.mirrored[start] = size
}

// translate walks the page tables starting at the root table and returns the
// physical start address and size of the page that maps addr.
func (m *Machine) translate(addr mm.VirtAddr) (mm.PhysAddr, uintptr, bool) {
	var (
		levels = m.codec.Levels()
		table  = m.root
	)

	for level := 0; level < levels; level++ {
		shift := uint(mm.PageShift) + uint(levels-1-level)*9
		index := (uintptr(addr) >> shift) & (mm.PageSize/8 - 1)

		entry, ok := m.readEntry(table, index)
		if !ok || !m.codec.Present(entry) {
			return 0, 0, false
		}

		if m.codec.IsLeaf(entry, level) {
			size := uintptr(1) << shift
			return m.codec.Address(entry).AlignDown(size), size, true
		}

		table = m.codec.Address(entry)
	}

	return 0, 0, false
}

// readEntry loads a page table entry from emulated physical memory.
func (m *Machine) readEntry(table mm.PhysAddr, index uintptr) (uint64, bool) {
	offset := uintptr(table) + index*8
	if uintptr(table) >= m.physSize || offset+8 > m.physSize {
		return 0, false
	}
	return *(*uint64)(unsafe.Pointer(&m.phys[offset])), true
}

// dropMirror replaces any mirrored page that contains addr with an
// inaccessible reservation.
func (m *Machine) dropMirror(addr mm.VirtAddr) {
	for _, size := range []uintptr{mm.SizeOf[mm.Size4KiB](), mm.SizeOf[mm.Size2MiB](), mm.SizeOf[mm.Size1GiB]()} {
		start := addr.AlignDown(size)
		if mirroredSize, ok := m.mirrored[start]; ok && mirroredSize == size {
			if err := m.reserve(uintptr(start), size, unix.MAP_FIXED); err != nil {
				panic(errors.Wrapf(err, "dropping mirrored page 0x%x", uintptr(start)))
			}
			delete(m.mirrored, start)
			return
		}
	}
}

// reserve maps an inaccessible anonymous region at addr.
func (m *Machine) reserve(addr, size uintptr, fixedFlag int) error {
	got, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), size, unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE|fixedFlag)
	if err != nil {
		return err
	}
	if uintptr(got) != addr {
		_ = unix.MunmapPtr(got, size)
		return errors.Errorf("kernel placed reservation at 0x%x", uintptr(got))
	}
	return nil
}

func (m *Machine) inWindow(addr, size uintptr) bool {
	return addr >= m.windowStart && size <= m.windowSize && addr-m.windowStart <= m.windowSize-size
}
