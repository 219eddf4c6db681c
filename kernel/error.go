package kernel

// ErrorKind classifies a kernel Error so that callers (and the fatal handler)
// can tell runtime exhaustion apart from programming errors.
type ErrorKind uint8

const (
	// KindGeneric is used for errors that do not fall into any other category.
	KindGeneric ErrorKind = iota

	// KindExhaustion indicates that a finite resource (physical frames, heap
	// memory, virtual address space) has been used up.
	KindExhaustion

	// KindPrecondition indicates that an API was used out of order or with
	// invalid arguments (e.g. use before init, double init, empty ranges).
	KindPrecondition

	// KindLayout indicates an invalid size/alignment request.
	KindLayout

	// KindMapping indicates a page table inconsistency such as an existing
	// mapping or a huge page blocking a walk.
	KindMapping
)

// String implements fmt.Stringer for ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindExhaustion:
		return "exhaustion"
	case KindPrecondition:
		return "precondition"
	case KindLayout:
		return "layout"
	case KindMapping:
		return "mapping"
	default:
		return "generic"
	}
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the allocator may not be available when the error is
// raised so we cannot use errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// The error category.
	Kind ErrorKind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Fatal returns true if the error signals a condition that the kernel cannot
// recover from locally.
func (e *Error) Fatal() bool {
	return e.Kind == KindExhaustion || e.Kind == KindPrecondition
}
