package mm

// RegionKind classifies a physical memory region reported by the bootloader.
type RegionKind uint32

const (
	// RegionUsable indicates that the memory region is available for use.
	RegionUsable RegionKind = iota + 1

	// RegionReserved indicates that the memory region is not available for use.
	RegionReserved

	// RegionAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	RegionAcpiReclaimable

	// RegionNvs indicates memory that must be preserved when hibernating.
	RegionNvs

	// RegionBadMemory indicates memory that has been flagged as defective.
	RegionBadMemory
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case RegionUsable:
		return "available"
	case RegionReserved:
		return "reserved"
	case RegionAcpiReclaimable:
		return "ACPI (reclaimable)"
	case RegionNvs:
		return "NVS"
	case RegionBadMemory:
		return "bad memory"
	default:
		return "unknown"
	}
}

// MemoryRegion describes a physical memory region [Start, End) and its type.
type MemoryRegion struct {
	Start, End uint64
	Kind       RegionKind
}

// Len returns the region length in bytes.
func (r MemoryRegion) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}
