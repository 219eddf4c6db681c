package vmm

import "gokernel/kernel/mm"

const (
	// entriesPerTable is the number of entries in a page table for all
	// supported paging schemes. Each table occupies exactly one 4KiB frame.
	entriesPerTable = mm.PageSize >> mm.PointerShift

	// indexBits is the number of virtual address bits consumed by each
	// page table level.
	indexBits = 9
)

// EntryCodec describes a page table format: the number of levels and the
// encoding of the individual table entries. Entries are always 64 bits wide.
type EntryCodec interface {
	// Levels returns the number of page table levels.
	Levels() int

	// Canonical returns true if addr is a valid virtual address for this
	// paging scheme.
	Canonical(addr mm.VirtAddr) bool

	// TableEntry encodes an entry that points to the next-level table
	// stored at the given physical frame.
	TableEntry(table mm.PhysAddr) uint64

	// LeafEntry encodes an entry that maps a page to the physical frame
	// that starts at addr. The huge argument is true when the leaf is
	// installed above the last table level.
	LeafEntry(addr mm.PhysAddr, flags PageTableEntryFlag, huge bool) uint64

	// Present returns true if the entry is valid.
	Present(entry uint64) bool

	// IsLeaf returns true if a present entry found at the given level maps
	// a page instead of pointing to another table.
	IsLeaf(entry uint64, level int) bool

	// Address returns the physical address stored in the entry.
	Address(entry uint64) mm.PhysAddr

	// Flags decodes the architecture-neutral flags of an entry.
	Flags(entry uint64) PageTableEntryFlag
}

// tableIndex returns the index into the table at the given level that
// corresponds to addr.
func tableIndex(codec EntryCodec, addr mm.VirtAddr, level int) uintptr {
	return (uintptr(addr) >> levelShift(codec, level)) & (entriesPerTable - 1)
}

// levelShift returns the virtual address shift for the given level. The last
// level always selects a 4KiB page.
func levelShift(codec EntryCodec, level int) uint {
	return uint(mm.PageShift) + uint(codec.Levels()-1-level)*indexBits
}

// levelPageSize returns the size of the page mapped by a leaf entry at the
// given level.
func levelPageSize(codec EntryCodec, level int) uintptr {
	return uintptr(1) << levelShift(codec, level)
}

// leafLevel returns the table level where pages of size S are mapped or -1
// if the paging scheme cannot map pages of that size.
func leafLevel[S mm.PageSizer](codec EntryCodec) int {
	size := mm.SizeOf[S]()
	for level := codec.Levels() - 1; level >= 0; level-- {
		if levelPageSize(codec, level) == size {
			return level
		}
	}
	return -1
}

// signExtended returns true if all address bits above the given bit are
// copies of it.
func signExtended(addr mm.VirtAddr, bit uint) bool {
	upper := uintptr(addr) >> bit
	return upper == 0 || upper == ^uintptr(0)>>bit
}
