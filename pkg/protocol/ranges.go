package protocol

import (
	"fmt"
	"strings"
)

// Range is an inclusive interval of message numbers
type Range struct {
	Lower int64
	Upper int64
}

// NewRange returns the range [lower, upper]. It panics if lower is negative
// or greater than upper.
func NewRange(lower, upper int64) Range {
	if lower < 0 || lower > upper {
		panic(fmt.Sprintf("protocol: invalid range [%d,%d]", lower, upper))
	}
	return Range{Lower: lower, Upper: upper}
}

// Contains reports whether n falls inside the range
func (r Range) Contains(n int64) bool {
	return r.Lower <= n && n <= r.Upper
}

// Count returns how many numbers the range covers
func (r Range) Count() int64 {
	return r.Upper - r.Lower + 1
}

func (r Range) String() string {
	if r.Lower == r.Upper {
		return fmt.Sprintf("%d", r.Lower)
	}
	return fmt.Sprintf("%d-%d", r.Lower, r.Upper)
}

// RangeSet is an immutable, ascending set of disjoint, non-adjacent ranges.
// The zero value is the empty set.
type RangeSet struct {
	ranges []Range
}

// NewRangeSet merges ranges into a normalized set
func NewRangeSet(ranges ...Range) RangeSet {
	var s RangeSet
	for _, r := range ranges {
		s = s.MergeWith(r)
	}
	return s
}

// MergeWith returns the minimal disjoint cover of s and r. Overlapping or
// adjacent ranges coalesce.
func (s RangeSet) MergeWith(r Range) RangeSet {
	out := make([]Range, 0, len(s.ranges)+1)

	i := 0
	for ; i < len(s.ranges) && separated(s.ranges[i], r); i++ {
		out = append(out, s.ranges[i])
	}

	merged := r
	for ; i < len(s.ranges) && !separated(merged, s.ranges[i]); i++ {
		if s.ranges[i].Lower < merged.Lower {
			merged.Lower = s.ranges[i].Lower
		}
		if s.ranges[i].Upper > merged.Upper {
			merged.Upper = s.ranges[i].Upper
		}
	}

	out = append(out, merged)
	out = append(out, s.ranges[i:]...)
	return RangeSet{ranges: out}
}

// separated reports whether a ends before b with at least one number
// between them
func separated(a, b Range) bool {
	return a.Upper < b.Lower && a.Upper+1 != b.Lower
}

// Len returns the number of disjoint ranges
func (s RangeSet) Len() int {
	return len(s.ranges)
}

// At returns the i-th range in ascending order
func (s RangeSet) At(i int) Range {
	return s.ranges[i]
}

// Ranges returns a copy of the ranges
func (s RangeSet) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// IsEmpty reports whether the set covers nothing
func (s RangeSet) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Contains reports whether n is covered by the set
func (s RangeSet) Contains(n int64) bool {
	lo, hi := 0, len(s.ranges)
	for lo < hi {
		mid := (lo + hi) / 2
		switch r := s.ranges[mid]; {
		case n < r.Lower:
			hi = mid
		case n > r.Upper:
			lo = mid + 1
		default:
			return true
		}
	}
	return false
}

// Count returns the total number of message numbers covered
func (s RangeSet) Count() int64 {
	var n int64
	for _, r := range s.ranges {
		n += r.Count()
	}
	return n
}

// Highest returns the range with the largest upper bound
func (s RangeSet) Highest() (Range, bool) {
	if len(s.ranges) == 0 {
		return Range{}, false
	}
	return s.ranges[len(s.ranges)-1], true
}

// Equal reports whether both sets cover the same numbers
func (s RangeSet) Equal(other RangeSet) bool {
	if len(s.ranges) != len(other.ranges) {
		return false
	}
	for i := range s.ranges {
		if s.ranges[i] != other.ranges[i] {
			return false
		}
	}
	return true
}

func (s RangeSet) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
