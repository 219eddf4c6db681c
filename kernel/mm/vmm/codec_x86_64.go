package vmm

import "gokernel/kernel/mm"

// Entry bits used by the x86_64 4-level paging scheme.
const (
	x86Present      = uint64(1) << 0
	x86RW           = uint64(1) << 1
	x86User         = uint64(1) << 2
	x86WriteThrough = uint64(1) << 3
	x86NoCache      = uint64(1) << 4
	x86Accessed     = uint64(1) << 5
	x86Dirty        = uint64(1) << 6
	x86HugePage     = uint64(1) << 7
	x86Global       = uint64(1) << 8
	x86NoExecute    = uint64(1) << 63

	// x86PhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	x86PhysPageMask = uint64(0x000ffffffffff000)
)

// x86FlagMap pairs each neutral flag with its x86_64 entry bit.
var x86FlagMap = [...]struct {
	flag PageTableEntryFlag
	bit  uint64
}{
	{FlagPresent, x86Present},
	{FlagRW, x86RW},
	{FlagUserAccessible, x86User},
	{FlagWriteThrough, x86WriteThrough},
	{FlagNoCache, x86NoCache},
	{FlagAccessed, x86Accessed},
	{FlagDirty, x86Dirty},
	{FlagHugePage, x86HugePage},
	{FlagGlobal, x86Global},
	{FlagNoExecute, x86NoExecute},
}

// X86_64 implements EntryCodec for the x86_64 4-level (PML4) paging scheme
// with 48-bit virtual addresses.
type X86_64 struct{}

// Levels implements EntryCodec.
func (X86_64) Levels() int { return 4 }

// Canonical implements EntryCodec. Bits 48-63 must be copies of bit 47.
func (X86_64) Canonical(addr mm.VirtAddr) bool { return signExtended(addr, 47) }

// TableEntry implements EntryCodec.
func (X86_64) TableEntry(table mm.PhysAddr) uint64 {
	return (uint64(table) & x86PhysPageMask) | x86Present | x86RW
}

// LeafEntry implements EntryCodec.
func (X86_64) LeafEntry(addr mm.PhysAddr, flags PageTableEntryFlag, huge bool) uint64 {
	entry := uint64(addr) & x86PhysPageMask
	for _, m := range x86FlagMap {
		if flags.HasFlags(m.flag) {
			entry |= m.bit
		}
	}

	entry &^= x86HugePage
	if huge {
		entry |= x86HugePage
	}
	return entry
}

// Present implements EntryCodec.
func (X86_64) Present(entry uint64) bool { return entry&x86Present != 0 }

// IsLeaf implements EntryCodec.
func (c X86_64) IsLeaf(entry uint64, level int) bool {
	return level == c.Levels()-1 || entry&x86HugePage != 0
}

// Address implements EntryCodec.
func (X86_64) Address(entry uint64) mm.PhysAddr {
	return mm.PhysAddr(entry & x86PhysPageMask)
}

// Flags implements EntryCodec.
func (X86_64) Flags(entry uint64) PageTableEntryFlag {
	var flags PageTableEntryFlag
	for _, m := range x86FlagMap {
		if entry&m.bit != 0 {
			flags |= m.flag
		}
	}
	return flags
}
