package ranges

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidCount is returned when the number of parts is not positive.
	ErrInvalidCount = errors.New("ranges: part count must be positive")

	// ErrInvalidSize is returned for a negative total or a non-positive range size.
	ErrInvalidSize = errors.New("ranges: invalid size")

	// ErrNotCovering is returned by Verify when a set of ranges has a gap,
	// an overlap, or does not span the whole address space.
	ErrNotCovering = errors.New("ranges: ranges do not cover the address space")
)

// Range is a half-open byte interval [Start, End).
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// Empty reports whether the range holds no bytes.
func (r Range) Empty() bool {
	return r.End == r.Start
}

// Valid reports whether 0 <= Start <= End.
func (r Range) Valid() bool {
	return r.Start >= 0 && r.Start <= r.End
}

// Within reports whether the range lies inside [0, total).
func (r Range) Within(total int64) bool {
	return r.Valid() && r.End <= total
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Split divides [0, total) into n contiguous ranges.
//
// Every range but the last has length total/n; the last one ends at total and
// absorbs the remainder.
func Split(total int64, n int) ([]Range, error) {
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: total %d", ErrInvalidSize, total)
	}

	size := total / int64(n)
	out := make([]Range, n)

	var start int64
	for i := 0; i < n; i++ {
		end := min(start+size, total)
		if i == n-1 {
			end = total
		}
		out[i] = Range{Start: start, End: end}
		start = end
	}
	return out, nil
}

// Fixed divides [0, total) into ranges of at most size bytes. The last range
// holds whatever is left. A zero total yields no ranges.
func Fixed(total, size int64) ([]Range, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: range size %d", ErrInvalidSize, size)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: total %d", ErrInvalidSize, total)
	}

	out := make([]Range, 0, (total+size-1)/size)
	for start := int64(0); start < total; start += size {
		out = append(out, Range{Start: start, End: min(start+size, total)})
	}
	return out, nil
}

// Verify checks that rs are disjoint and cover [0, total) with no gaps.
// The input order does not matter; rs is not modified.
func Verify(total int64, rs []Range) error {
	sorted := make([]Range, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	var next int64
	for _, r := range sorted {
		if !r.Valid() {
			return fmt.Errorf("%w: invalid range %s", ErrNotCovering, r)
		}
		switch {
		case r.Start > next:
			return fmt.Errorf("%w: gap at [%d,%d)", ErrNotCovering, next, r.Start)
		case r.Start < next:
			return fmt.Errorf("%w: overlap at %s", ErrNotCovering, r)
		}
		next = r.End
	}
	if next != total {
		return fmt.Errorf("%w: covered [0,%d), want [0,%d)", ErrNotCovering, next, total)
	}
	return nil
}
