package vmm

// PageTableEntryFlag describes an architecture-neutral flag that can be
// applied to a page mapping. Each EntryCodec translates these flags to and
// from the bits used by its page table entry format.
type PageTableEntryFlag uint32

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThrough implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThrough

	// FlagNoCache prevents this page from being cached if set.
	FlagNoCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is reported by EntryCodec.Flags for leaf entries that
	// map a 2MiB or 1GiB page. Callers never need to set it; MapTo derives
	// it from the page size.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when switching page tables.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute
)

// HasFlags returns true if f has all the input flags set.
func (f PageTableEntryFlag) HasFlags(flags PageTableEntryFlag) bool {
	return f&flags == flags
}

// HasAnyFlag returns true if f has at least one of the input flags set.
func (f PageTableEntryFlag) HasAnyFlag(flags PageTableEntryFlag) bool {
	return f&flags != 0
}
