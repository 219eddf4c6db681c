package vmm

import (
	"gokernel/kernel"
	"gokernel/kernel/mm"
	"gokernel/kernel/sync"
	"unsafe"
)

// AllocatePageFlags are the flags used by AllocatePage and AllocateRange.
const AllocatePageFlags = FlagPresent | FlagRW | FlagNoExecute

// Mapper manipulates the page tables rooted at the table that was active when
// the Mapper was created. Page tables are accessed through a linear mapping
// of all physical memory: the table stored at physical address pa is read
// and written at virtual address physOffset+pa.
type Mapper struct {
	mutex sync.Spinlock

	arch       Arch
	codec      EntryCodec
	physOffset uintptr
	root       mm.PhysAddr
	frames     mm.FrameAllocator[mm.Size4KiB]
	policy     RemapPolicy
}

// NewMapper returns a Mapper for the currently active root page table. The
// root table address is read from the arch exactly once. Frames for new
// intermediate tables and for AllocatePage are obtained from frames.
func NewMapper(arch Arch, codec EntryCodec, physOffset uintptr, frames mm.FrameAllocator[mm.Size4KiB], policy RemapPolicy) *Mapper {
	return &Mapper{
		arch:       arch,
		codec:      codec,
		physOffset: physOffset,
		root:       arch.ActiveRootTable(),
		frames:     frames,
		policy:     policy,
	}
}

// Root returns the physical address of the root page table.
func (m *Mapper) Root() mm.PhysAddr { return m.root }

// Codec returns the page table format used by the Mapper.
func (m *Mapper) Codec() EntryCodec { return m.codec }

// Policy returns the remap policy used by the Mapper.
func (m *Mapper) Policy() RemapPolicy { return m.policy }

// PhysToVirt returns the virtual address where the physical address pa can
// be accessed.
func (m *Mapper) PhysToVirt(pa mm.PhysAddr) mm.VirtAddr {
	return mm.VirtAddr(m.physOffset).Add(uintptr(pa))
}

// entry returns a pointer to the entry with the given index in the table
// stored at the supplied physical address.
func (m *Mapper) entry(table mm.PhysAddr, index uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(m.physOffset + uintptr(table) + index<<mm.PointerShift))
}

// walkResult describes the outcome of a page table walk.
type walkResult struct {
	// pte points to the last entry visited by the walk.
	pte *uint64

	// level is the table level of pte.
	level int
}

// pageTableWalker is invoked by walk for each entry along the path to a
// virtual address. If it returns false the walk is aborted.
type pageTableWalker func(level int, pte *uint64) bool

// walk performs a page table walk for the given virtual address. It calls the
// supplied walkFn with the page table entry that corresponds to each page
// table level and then descends into the table referenced by that entry.
// The walk stops after the last level, when walkFn returns false or when it
// reaches an entry that is either not present or a leaf.
func (m *Mapper) walk(addr mm.VirtAddr, walkFn pageTableWalker) walkResult {
	var (
		table = m.root
		res   walkResult
	)

	for level := 0; level < m.codec.Levels(); level++ {
		res.pte, res.level = m.entry(table, tableIndex(m.codec, addr, level)), level
		if !walkFn(level, res.pte) {
			break
		}

		if !m.codec.Present(*res.pte) || m.codec.IsLeaf(*res.pte, level) {
			break
		}

		table = m.codec.Address(*res.pte)
	}

	return res
}

// lookup returns the leaf entry that maps addr together with its level or
// ErrInvalidMapping if addr is not mapped.
func (m *Mapper) lookup(addr mm.VirtAddr) (*uint64, int, *kernel.Error) {
	if !m.codec.Canonical(addr) {
		return nil, 0, ErrNonCanonicalAddress
	}

	res := m.walk(addr, func(int, *uint64) bool { return true })
	if !m.codec.Present(*res.pte) || !m.codec.IsLeaf(*res.pte, res.level) {
		return nil, 0, ErrInvalidMapping
	}

	return res.pte, res.level, nil
}

// installTables walks the tables for addr down to the given leaf level,
// allocating and clearing any missing intermediate table, and returns a
// pointer to the leaf-level entry.
func (m *Mapper) installTables(addr mm.VirtAddr, leafLevel int) (*uint64, *kernel.Error) {
	var err *kernel.Error

	res := m.walk(addr, func(level int, pte *uint64) bool {
		if level == leafLevel {
			return false
		}

		if m.codec.Present(*pte) {
			if m.codec.IsLeaf(*pte, level) {
				err = errHugePageConflict
				return false
			}
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		tableFrame, allocErr := m.frames.AllocFrame()
		if allocErr != nil {
			err = allocErr
			return false
		}

		kernel.Memset(uintptr(m.PhysToVirt(tableFrame.Start())), 0, mm.PageSize)
		*pte = m.codec.TableEntry(tableFrame.Start())
		return true
	})

	if err != nil {
		return nil, err
	}

	return res.pte, nil
}

// MapTo establishes a mapping between a virtual page and a physical frame of
// the same size. Any missing intermediate tables are allocated from the
// Mapper's frame allocator. The translation cache entry for the page is
// flushed after the mapping is installed.
//
// If the page is already mapped the Mapper's RemapPolicy decides the outcome.
func MapTo[S mm.PageSizer](m *Mapper, page mm.Page[S], frame mm.Frame[S], flags PageTableEntryFlag) *kernel.Error {
	m.mutex.Acquire()
	defer m.mutex.Release()

	return mapTo(m, page, frame, flags)
}

// mapTo implements MapTo. The caller must hold m.mutex.
func mapTo[S mm.PageSizer](m *Mapper, page mm.Page[S], frame mm.Frame[S], flags PageTableEntryFlag) *kernel.Error {
	level := leafLevel[S](m.codec)
	if level < 0 {
		return errUnsupportedPageSize
	}

	if !m.codec.Canonical(page.Start()) || !m.codec.Canonical(page.Start().Add(page.Size()-1)) {
		return ErrNonCanonicalAddress
	}

	pte, err := m.installTables(page.Start(), level)
	if err != nil {
		return err
	}

	if m.codec.Present(*pte) {
		if !m.codec.IsLeaf(*pte, level) {
			return errHugePageConflict
		}

		switch m.policy {
		case RemapIdempotent:
			return nil
		case RemapOverwrite:
		default:
			return ErrAlreadyMapped
		}
	}

	*pte = m.codec.LeafEntry(frame.Start(), flags|FlagPresent, level != m.codec.Levels()-1)
	m.arch.FlushTLBEntry(page.Start())
	return nil
}

// Unmap removes the mapping for page and returns the frame it pointed to.
// The translation cache entry for the page is flushed. Intermediate tables
// are never released.
func Unmap[S mm.PageSizer](m *Mapper, page mm.Page[S]) (mm.Frame[S], *kernel.Error) {
	m.mutex.Acquire()
	defer m.mutex.Release()

	level := leafLevel[S](m.codec)
	if level < 0 {
		return mm.Frame[S]{}, errUnsupportedPageSize
	}

	pte, pteLevel, err := m.lookup(page.Start())
	if err != nil {
		return mm.Frame[S]{}, err
	}

	if pteLevel != level {
		return mm.Frame[S]{}, errPageSizeMismatch
	}

	frame := mm.FrameContaining[S](m.codec.Address(*pte))
	*pte = 0
	m.arch.FlushTLBEntry(page.Start())
	return frame, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (m *Mapper) Translate(addr mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	pa, size, err := m.TranslatePage(addr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pa.Add(uintptr(addr) & (size - 1)), nil
}

// TranslatePage returns the physical start address and size of the page that
// maps addr.
func (m *Mapper) TranslatePage(addr mm.VirtAddr) (mm.PhysAddr, uintptr, *kernel.Error) {
	m.mutex.Acquire()
	defer m.mutex.Release()

	pte, level, err := m.lookup(addr)
	if err != nil {
		return 0, 0, err
	}

	size := levelPageSize(m.codec, level)
	return m.codec.Address(*pte).AlignDown(size), size, nil
}

// Flags returns the flags of the mapping for addr.
func (m *Mapper) Flags(addr mm.VirtAddr) (PageTableEntryFlag, *kernel.Error) {
	m.mutex.Acquire()
	defer m.mutex.Release()

	pte, _, err := m.lookup(addr)
	if err != nil {
		return 0, err
	}

	return m.codec.Flags(*pte), nil
}

// IsMapped returns true if addr is backed by a mapping.
func (m *Mapper) IsMapped(addr mm.VirtAddr) bool {
	m.mutex.Acquire()
	defer m.mutex.Release()

	_, _, err := m.lookup(addr)
	return err == nil
}

// AllocatePage maps the 4KiB page containing addr to a freshly allocated
// frame using AllocatePageFlags.
//
// If the page is already mapped, the RemapPolicy is applied before a frame
// is requested so rejected or idempotent requests never consume a frame.
// Frame allocator failures are returned unchanged.
func (m *Mapper) AllocatePage(addr mm.VirtAddr) *kernel.Error {
	m.mutex.Acquire()
	defer m.mutex.Release()

	return m.allocatePage(mm.PageContaining[mm.Size4KiB](addr))
}

// allocatePage implements AllocatePage. The caller must hold m.mutex.
func (m *Mapper) allocatePage(page mm.Page[mm.Size4KiB]) *kernel.Error {
	if _, _, err := m.lookup(page.Start()); err == nil {
		switch m.policy {
		case RemapIdempotent:
			return nil
		case RemapOverwrite:
		default:
			return ErrAlreadyMapped
		}
	} else if err == ErrNonCanonicalAddress {
		return err
	}

	// Tables are installed before the data frame is requested so a failed
	// walk never leaves an allocated frame unmapped.
	pte, err := m.installTables(page.Start(), m.codec.Levels()-1)
	if err != nil {
		return err
	}

	frame, err := m.frames.AllocFrame()
	if err != nil {
		return err
	}

	*pte = m.codec.LeafEntry(frame.Start(), AllocatePageFlags|FlagPresent, false)
	m.arch.FlushTLBEntry(page.Start())
	return nil
}

// AllocateRange maps count consecutive 4KiB pages starting at the page that
// contains start to freshly allocated frames. It returns the number of bytes
// mapped (count * 4096). A zero count is rejected with mm.ErrEmptyPageRange.
//
// If an error occurs, the pages mapped before the failing page remain
// mapped.
func (m *Mapper) AllocateRange(start mm.VirtAddr, count uintptr) (uintptr, *kernel.Error) {
	pages, err := mm.NewPageRange(mm.PageContaining[mm.Size4KiB](start), count)
	if err != nil {
		return 0, err
	}

	m.mutex.Acquire()
	defer m.mutex.Release()

	for page := range pages.Pages() {
		if err = m.allocatePage(page); err != nil {
			return 0, err
		}
	}

	return pages.Bytes(), nil
}
