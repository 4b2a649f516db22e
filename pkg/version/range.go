package version

// Range is a version interval with independently strict or inclusive bounds.
// An empty bound is unbounded.
type Range struct {
	Min       string
	Max       string
	MinStrict bool
	MaxStrict bool
}

// Bound identifies which side of a Range rejected a version.
type Bound int

const (
	// BoundNone means the version is inside the range.
	BoundNone Bound = iota

	// BoundMin means the version is below the lower bound.
	BoundMin

	// BoundMax means the version is above the upper bound.
	BoundMax
)

// Check reports which bound, if any, rejects v.
func (r Range) Check(v string) Bound {
	if r.Min != "" {
		c := Compare(v, r.Min)
		if c < 0 || (r.MinStrict && c == 0) {
			return BoundMin
		}
	}
	if r.Max != "" {
		c := Compare(v, r.Max)
		if c > 0 || (r.MaxStrict && c == 0) {
			return BoundMax
		}
	}
	return BoundNone
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v string) bool {
	return r.Check(v) == BoundNone
}
