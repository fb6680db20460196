// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"
	"slices"

	"github.com/pkg/errors"
)

// CopyRegion copies the box of dimensions `dims` starting at `srcStart` in `src` to the position `dstStart`
// of `dst`.
//
// Both tensors must have the same dtype and rank, and the box must fit in both.
// This is the primitive used to move shards in and out of host arrays: dst is changed in place, so it should
// only be used on tensors still being assembled.
func CopyRegion(dst *Tensor, dstStart []int, src *Tensor, srcStart []int, dims []int) error {
	if dst.DType() != src.DType() {
		return errors.Errorf("CopyRegion: dtype mismatch, dst is %s and src is %s", dst.DType(), src.DType())
	}
	rank := dst.Rank()
	if src.Rank() != rank || len(dstStart) != rank || len(srcStart) != rank || len(dims) != rank {
		return errors.Errorf("CopyRegion: rank mismatch, dst %s, src %s, dstStart=%v, srcStart=%v, dims=%v",
			dst.Shape(), src.Shape(), dstStart, srcStart, dims)
	}
	for axis := range rank {
		if dims[axis] < 0 || dstStart[axis] < 0 || srcStart[axis] < 0 ||
			dstStart[axis]+dims[axis] > dst.shape.Dimensions[axis] ||
			srcStart[axis]+dims[axis] > src.shape.Dimensions[axis] {
			return errors.Errorf("CopyRegion: region dims=%v out of bounds on axis %d "+
				"(dst %s at %v, src %s at %v)", dims, axis, dst.Shape(), dstStart, src.Shape(), srcStart)
		}
	}
	dstV, srcV := reflect.ValueOf(dst.flat), reflect.ValueOf(src.flat)
	if rank == 0 {
		dstV.Index(0).Set(srcV.Index(0))
		return nil
	}
	if slices.Contains(dims, 0) {
		return nil
	}

	// Copy one contiguous run (along the last axis) at a time.
	dstStrides, srcStrides := dst.shape.Strides(), src.shape.Strides()
	runLen := dims[rank-1]
	idx := make([]int, rank-1)
	for {
		dstOffset, srcOffset := dstStart[rank-1], srcStart[rank-1]
		for axis, ii := range idx {
			dstOffset += (dstStart[axis] + ii) * dstStrides[axis]
			srcOffset += (srcStart[axis] + ii) * srcStrides[axis]
		}
		reflect.Copy(dstV.Slice(dstOffset, dstOffset+runLen), srcV.Slice(srcOffset, srcOffset+runLen))

		axis := rank - 2
		for ; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < dims[axis] {
				break
			}
			idx[axis] = 0
		}
		if axis < 0 {
			return nil
		}
	}
}
