// Package ranges partitions a byte address space into half-open ranges.
//
// A [Range] covers [Start, End). The ranges returned by [Split] and [Fixed]
// are ordered, pairwise disjoint, and their union is exactly [0, total):
// each range starts where the previous one ended.
//
//	rs, err := ranges.Split(10, 3)
//	// [0,3) [3,6) [6,10)
//
// The last range absorbs the remainder of an uneven division. When there are
// more parts than bytes some ranges are empty (Start == End); empty ranges are
// valid and callers should treat them as no-ops.
package ranges
