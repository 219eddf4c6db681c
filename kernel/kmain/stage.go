package kmain

// Stage describes the progress of the memory subsystem initialization.
type Stage uint8

// The initialization stages in the order they are reached.
const (
	StageUninitialized Stage = iota
	StageMemoryMapObtained
	StageFrameAllocatorReady
	StagePageTableActive
	StageHeapRangeMapped
	StageHeapAllocatorReady

	// StageFailed is entered when any stage fails. It is terminal.
	StageFailed
)

// String implements fmt.Stringer for Stage.
func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageMemoryMapObtained:
		return "memory map obtained"
	case StageFrameAllocatorReady:
		return "frame allocator ready"
	case StagePageTableActive:
		return "page table active"
	case StageHeapRangeMapped:
		return "heap range mapped"
	case StageHeapAllocatorReady:
		return "heap allocator ready"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}
