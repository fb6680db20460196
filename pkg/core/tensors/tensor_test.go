// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	data := []int32{1, 2, 3, 4, 5, 6}
	tensor := FromFlatDataAndDimensions(data, 2, 3)
	assert.Equal(t, dtypes.Int32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.Equal(t, [][]int32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())

	// Data must have been copied.
	data[0] = 100
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, MustCopyFlatData[int32](tensor))

	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2}, {3, 5}, {7, 11}})
	assert.Equal(t, "(Float32)[3 2]", tensor.Shape().String())
	assert.Equal(t, [][]float32{{1, 2}, {3, 5}, {7, 11}}, tensor.Value())

	scalar := FromValue(int8(7))
	assert.Equal(t, 0, scalar.Rank())
	assert.Equal(t, int8(7), scalar.Value())

	// Go int is stored as Int64.
	ints := FromValue([]int{3, 2, 1})
	assert.Equal(t, dtypes.Int64, ints.DType())
	assert.Equal(t, []int64{3, 2, 1}, ints.Value())

	require.Panics(t, func() { _ = FromValue([][]int32{{1, 2}, {3}}) })
	require.Panics(t, func() { _ = FromValue(nil) })
}

func TestIota(t *testing.T) {
	assert.Equal(t, []int32{4, 5, 6, 7}, Iota[int32](4, 4).Value())
	assert.Equal(t, []float64{0, 1, 2}, Iota[float64](0, 3).Value())
	assert.Equal(t, []int64{10, 11}, Iota(10, 2).Value())
}

func TestConstFlatData(t *testing.T) {
	tensor := FromScalarAndDimensions(float32(0.5), 3)
	var sum float32
	require.NoError(t, ConstFlatData(tensor, func(flat []float32) {
		for _, v := range flat {
			sum += v
		}
	}))
	assert.Equal(t, float32(1.5), sum)
	require.Error(t, ConstFlatData(tensor, func(flat []int32) {}))
}

func TestEqual(t *testing.T) {
	a := FromValue([]float32{1, 2, float32(math.NaN())})
	b := a.Clone()
	assert.True(t, a.Equal(b), "bit-for-bit equality must hold for identical NaNs")
	assert.False(t, FromValue([]float32{0}).Equal(FromValue([]float32{float32(math.Copysign(0, -1))})))
	assert.False(t, a.Equal(FromValue([]float64{1, 2, 3})))
	assert.False(t, a.Equal(nil))

	halfs := FromValue([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)})
	assert.Equal(t, dtypes.Float16, halfs.DType())
	assert.True(t, halfs.Equal(halfs.Clone()))
}

func TestString(t *testing.T) {
	assert.Equal(t, "Tensor(Int32)[2]: [1 2]", FromValue([]int32{1, 2}).String())
	assert.Equal(t, "Tensor(Int32)[100]", FromShape(Iota[int32](0, 100).Shape()).String())
}
