package vmm

import "gokernel/kernel/mm"

// Entry bits used by the RISC-V Sv39 paging scheme.
const (
	sv39Valid    = uint64(1) << 0
	sv39Read     = uint64(1) << 1
	sv39Write    = uint64(1) << 2
	sv39Exec     = uint64(1) << 3
	sv39User     = uint64(1) << 4
	sv39Global   = uint64(1) << 5
	sv39Accessed = uint64(1) << 6
	sv39Dirty    = uint64(1) << 7

	// sv39PPNShift is the position of the physical page number inside an
	// entry. The PPN is 44 bits wide.
	sv39PPNShift = 10
	sv39PPNMask  = uint64(1)<<44 - 1
)

// Sv39 implements EntryCodec for the RISC-V Sv39 3-level paging scheme with
// 39-bit virtual addresses.
//
// Sv39 has no dedicated caching attributes so FlagWriteThrough and FlagNoCache
// are ignored. Leaf entries are always readable; a page is executable unless
// FlagNoExecute is set. The accessed bit (and the dirty bit for writable
// pages) is pre-set on every leaf so that implementations that do not update
// them in hardware do not raise a fault on first access.
type Sv39 struct{}

// Levels implements EntryCodec.
func (Sv39) Levels() int { return 3 }

// Canonical implements EntryCodec. Bits 39-63 must be copies of bit 38.
func (Sv39) Canonical(addr mm.VirtAddr) bool { return signExtended(addr, 38) }

// TableEntry implements EntryCodec. Non-leaf entries only carry the valid
// bit; setting any of R/W/X would turn them into leaves.
func (Sv39) TableEntry(table mm.PhysAddr) uint64 {
	return sv39PPN(table) | sv39Valid
}

// LeafEntry implements EntryCodec. The page size is implied by the level so
// the huge argument does not affect the encoding.
func (Sv39) LeafEntry(addr mm.PhysAddr, flags PageTableEntryFlag, _ bool) uint64 {
	entry := sv39PPN(addr) | sv39Read | sv39Accessed
	if flags.HasFlags(FlagPresent) {
		entry |= sv39Valid
	}
	if flags.HasFlags(FlagRW) {
		entry |= sv39Write | sv39Dirty
	}
	if !flags.HasFlags(FlagNoExecute) {
		entry |= sv39Exec
	}
	if flags.HasFlags(FlagUserAccessible) {
		entry |= sv39User
	}
	if flags.HasFlags(FlagGlobal) {
		entry |= sv39Global
	}
	if flags.HasFlags(FlagDirty) {
		entry |= sv39Dirty
	}
	return entry
}

// Present implements EntryCodec.
func (Sv39) Present(entry uint64) bool { return entry&sv39Valid != 0 }

// IsLeaf implements EntryCodec. A valid entry with any of R/W/X set is a
// leaf regardless of its level.
func (Sv39) IsLeaf(entry uint64, _ int) bool {
	return entry&(sv39Read|sv39Write|sv39Exec) != 0
}

// Address implements EntryCodec.
func (Sv39) Address(entry uint64) mm.PhysAddr {
	return mm.PhysAddr(((entry >> sv39PPNShift) & sv39PPNMask) << mm.PageShift)
}

// Flags implements EntryCodec.
func (c Sv39) Flags(entry uint64) PageTableEntryFlag {
	var flags PageTableEntryFlag
	if entry&sv39Valid != 0 {
		flags |= FlagPresent
	}
	if entry&sv39Write != 0 {
		flags |= FlagRW
	}
	if entry&sv39User != 0 {
		flags |= FlagUserAccessible
	}
	if entry&sv39Global != 0 {
		flags |= FlagGlobal
	}
	if entry&sv39Accessed != 0 {
		flags |= FlagAccessed
	}
	if entry&sv39Dirty != 0 {
		flags |= FlagDirty
	}
	if c.IsLeaf(entry, 0) && entry&sv39Exec == 0 {
		flags |= FlagNoExecute
	}
	return flags
}

func sv39PPN(addr mm.PhysAddr) uint64 {
	return ((uint64(addr) >> mm.PageShift) & sv39PPNMask) << sv39PPNShift
}
