package vmm

// RemapPolicy controls how the Mapper reacts when asked to map a page that
// is already mapped.
type RemapPolicy uint8

const (
	// RemapError rejects the request with ErrAlreadyMapped and leaves the
	// existing mapping untouched.
	RemapError RemapPolicy = iota

	// RemapOverwrite replaces the existing mapping. The frame that was
	// previously mapped is not reclaimed.
	RemapOverwrite

	// RemapIdempotent treats the request as satisfied by the existing
	// mapping. No frame is consumed and the mapping is left untouched.
	RemapIdempotent
)

// String implements fmt.Stringer for RemapPolicy.
func (p RemapPolicy) String() string {
	switch p {
	case RemapError:
		return "error"
	case RemapOverwrite:
		return "overwrite"
	case RemapIdempotent:
		return "idempotent"
	default:
		return "unknown"
	}
}

// ParseRemapPolicy returns the policy whose String() value matches name.
func ParseRemapPolicy(name string) (RemapPolicy, bool) {
	for _, p := range []RemapPolicy{RemapError, RemapOverwrite, RemapIdempotent} {
		if p.String() == name {
			return p, true
		}
	}
	return RemapError, false
}
