// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"slices"
)

// Region is an axis-aligned box of indices of a tensor: for each axis, the indices [Start[axis], Start[axis]+Dims[axis]).
type Region struct {
	Start []int
	Dims  []int
}

// FullRegion returns the region covering a whole tensor with the given dimensions.
func FullRegion(dims []int) Region {
	return Region{Start: make([]int, len(dims)), Dims: slices.Clone(dims)}
}

// Rank of the region.
func (r Region) Rank() int { return len(r.Dims) }

// End returns the exclusive end index on the given axis.
func (r Region) End(axis int) int { return r.Start[axis] + r.Dims[axis] }

// Size returns the number of elements in the region.
func (r Region) Size() int {
	size := 1
	for _, dim := range r.Dims {
		size *= dim
	}
	return size
}

// IsEmpty returns whether the region holds no elements.
func (r Region) IsEmpty() bool {
	return slices.Contains(r.Dims, 0)
}

// Equal returns whether both regions cover the same indices.
func (r Region) Equal(other Region) bool {
	return slices.Equal(r.Start, other.Start) && slices.Equal(r.Dims, other.Dims)
}

// Intersect returns the intersection of both regions, and whether it is non-empty.
// Both regions must have the same rank.
func (r Region) Intersect(other Region) (Region, bool) {
	result := Region{Start: make([]int, r.Rank()), Dims: make([]int, r.Rank())}
	for axis := range r.Rank() {
		start := max(r.Start[axis], other.Start[axis])
		end := min(r.End(axis), other.End(axis))
		if end <= start {
			return Region{}, false
		}
		result.Start[axis] = start
		result.Dims[axis] = end - start
	}
	return result, true
}

// Offset returns the start of r relative to the origin (start) of other.
func (r Region) Offset(origin Region) []int {
	offset := make([]int, r.Rank())
	for axis := range offset {
		offset[axis] = r.Start[axis] - origin.Start[axis]
	}
	return offset
}

// String implements fmt.Stringer.
func (r Region) String() string {
	parts := make([]string, r.Rank())
	for axis := range parts {
		parts[axis] = fmt.Sprintf("%d:%d", r.Start[axis], r.End(axis))
	}
	return fmt.Sprintf("%v", parts)
}
