// Package rangeset implements half-open block ranges, coalesced range sets and
// the request/accessibility bookkeeping of buffered result channels.
package rangeset

import (
	"fmt"
	"sort"
	"strings"
)

// Range is the half-open block interval [Start, Stop). ID tags the range with the
// entity or transaction it belongs to and takes no part in comparisons.
type Range struct {
	Start int64
	Stop  int64
	ID    uint64
}

// New returns [start, stop), swapping the bounds if they are reversed
func New(start, stop int64) Range {
	if stop < start {
		start, stop = stop, start
	}
	return Range{Start: start, Stop: stop}
}

// WithID returns a copy of r tagged with id
func (r Range) WithID(id uint64) Range {
	r.ID = id
	return r
}

// Len returns the number of blocks in r
func (r Range) Len() int64 {
	if r.Stop <= r.Start {
		return 0
	}
	return r.Stop - r.Start
}

// Empty reports whether r holds no blocks
func (r Range) Empty() bool {
	return r.Stop <= r.Start
}

// Equal compares bounds only
func (r Range) Equal(o Range) bool {
	return r.Start == o.Start && r.Stop == o.Stop
}

// Contains reports whether o lies within r. An empty o is contained by any non-empty r.
func (r Range) Contains(o Range) bool {
	if r.Empty() {
		return false
	}
	if o.Empty() {
		return true
	}
	return o.Start >= r.Start && o.Stop <= r.Stop
}

// Overlaps reports whether r and o share a block
func (r Range) Overlaps(o Range) bool {
	return !r.Empty() && !o.Empty() && r.Start < o.Stop && o.Start < r.Stop
}

// Touches reports whether r and o overlap or are adjacent
func (r Range) Touches(o Range) bool {
	return !r.Empty() && !o.Empty() && r.Start <= o.Stop && o.Start <= r.Stop
}

// Intersect returns the common part of r and o, keeping r's id
func (r Range) Intersect(o Range) Range {
	out := Range{Start: max(r.Start, o.Start), Stop: min(r.Stop, o.Stop), ID: r.ID}
	if out.Empty() {
		return Range{ID: r.ID}
	}
	return out
}

// Hull returns the smallest range covering r and o. Empty operands are ignored.
func (r Range) Hull(o Range) Range {
	switch {
	case o.Empty():
		return r
	case r.Empty():
		return Range{Start: o.Start, Stop: o.Stop, ID: r.ID}
	}
	return Range{Start: min(r.Start, o.Start), Stop: max(r.Stop, o.Stop), ID: r.ID}
}

// Subtract returns the parts of r not covered by o, zero, one or two ranges
func (r Range) Subtract(o Range) []Range {
	if !r.Overlaps(o) {
		if r.Empty() {
			return nil
		}
		return []Range{r}
	}
	var out []Range
	if r.Start < o.Start {
		out = append(out, Range{Start: r.Start, Stop: o.Start, ID: r.ID})
	}
	if o.Stop < r.Stop {
		out = append(out, Range{Start: o.Stop, Stop: r.Stop, ID: r.ID})
	}
	return out
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.Stop)
}

// Set is an ordered list of disjoint, non-adjacent ranges
type Set struct {
	ranges []Range
}

// NewSet builds a coalesced set from rs
func NewSet(rs ...Range) Set {
	var s Set
	s.Add(rs...)
	return s
}

// Ranges returns a copy of the ranges in ascending order
func (s Set) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Len returns the number of disjoint ranges
func (s Set) Len() int {
	return len(s.ranges)
}

// Empty reports whether the set holds no blocks
func (s Set) Empty() bool {
	return len(s.ranges) == 0
}

// Blocks returns the total number of blocks covered
func (s Set) Blocks() int64 {
	var n int64
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Hull returns the range spanning the whole set
func (s Set) Hull() Range {
	if len(s.ranges) == 0 {
		return Range{}
	}
	return Range{Start: s.ranges[0].Start, Stop: s.ranges[len(s.ranges)-1].Stop}
}

// Clear removes every range
func (s *Set) Clear() {
	s.ranges = nil
}

// Add merges rs into the set, coalescing overlapping and adjacent ranges
func (s *Set) Add(rs ...Range) {
	for _, r := range rs {
		if !r.Empty() {
			s.ranges = append(s.ranges, r)
		}
	}
	s.normalize()
}

// Merge adds every range of o
func (s *Set) Merge(o Set) {
	s.Add(o.ranges...)
}

func (s *Set) normalize() {
	if len(s.ranges) < 2 {
		return
	}
	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i].Start < s.ranges[j].Start })
	out := s.ranges[:1]
	for _, r := range s.ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.Stop {
			if r.Stop > last.Stop {
				last.Stop = r.Stop
			}
			continue
		}
		out = append(out, r)
	}
	s.ranges = out
}

// Exclude removes the blocks of rs from the set
func (s *Set) Exclude(rs ...Range) {
	for _, x := range rs {
		if x.Empty() {
			continue
		}
		var out []Range
		for _, r := range s.ranges {
			out = append(out, r.Subtract(x)...)
		}
		s.ranges = out
	}
}

// Covers reports whether a single range of the set contains r
func (s Set) Covers(r Range) bool {
	if r.Empty() {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Stop >= r.Stop })
	return i < len(s.ranges) && s.ranges[i].Contains(r)
}

func (s Set) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
