// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a host-resident `Tensor`, a multidimensional array stored in the memory of the
// worker process that owns it.
//
// Tensors are the "host arrays" of this module: the per-process shard of a batch that is converted to and
// from a global array distributed across a device mesh (see package distributed). They are also used as the
// device-local buffers (shards) held by the array engine.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and a copy of the flattened values. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): works with the scalar supported `DType`s as well as with any arbitrary
//     multidimensional slice of them. Slices of rank > 1 must be regular. Example:
//
//     t := FromValue([][]float32{{1,2}, {3, 5}, {7, 11}})
//
// A Tensor is always stored as a flat slice (row-major) of the Go type of its DType.
// Tensors are treated as immutable by the conversions in this module: they are never changed in place.
package tensors

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array stored in host memory, defined by its shape (a dtypes.DType and
// its axes' dimensions) and its content, stored as a flat (1D) slice of values.
type Tensor struct {
	shape shapes.Shape

	// flat is a []T, where T is the Go type of shape.DType.
	flat any
}

// newTensor allocates a zero-initialized tensor.
func newTensor(shape shapes.Shape) *Tensor {
	size := shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size)
	return &Tensor{shape: shape.Clone(), flat: flatV.Interface()}
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	return newTensor(shape)
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with a copy of the flattened
// values given in `data`.
// The data is copied, so the caller is free to reuse it.
//
// It panics if len(data) doesn't match the size of the given dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data has %d elements, but shape requires %d",
			shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: convertFlat(data, dtype.GoType())}
}

// convertFlat returns a copy of data as a slice of goType: they differ for Go types that are stored as
// another dtype, like int stored as Int64.
func convertFlat[T dtypes.Supported](data []T, goType reflect.Type) any {
	if reflect.TypeFor[T]() == goType {
		flat := make([]T, len(data))
		copy(flat, data)
		return flat
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(goType), len(data), len(data))
	for ii, value := range data {
		flatV.Index(ii).Set(reflect.ValueOf(value).Convert(goType))
	}
	return flatV.Interface()
}

// FromScalarAndDimensions creates a Tensor with the given dimensions, filled with the scalar value given.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	data := make([]T, shape.Size())
	for ii := range data {
		data[ii] = value
	}
	return &Tensor{shape: shape, flat: convertFlat(data, shape.DType.GoType())}
}

// Number is the set of Go numeric types that can be generated by Iota.
type Number interface {
	int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// Iota returns a 1D tensor with the values `start, start+1, ..., start+n-1`.
func Iota[T Number](start T, n int) *Tensor {
	data := make([]T, n)
	for ii := range data {
		data[ii] = start + T(ii)
	}
	return FromFlatDataAndDimensions(data, n)
}

// FromValue returns a Tensor constructed from a scalar or a (multidimensional) slice of a supported type.
// Multidimensional slices must be regular: all sub-slices of an axis must have the same length.
//
// It panics if value is not supported.
func FromValue(value any) *Tensor {
	t, err := fromValue(value)
	if err != nil {
		panic(err)
	}
	return t
}

func fromValue(value any) (*Tensor, error) {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return nil, errors.New("tensors.FromValue(nil) is not supported")
	}
	var dims []int
	baseV := v
	for baseV.Kind() == reflect.Slice {
		dims = append(dims, baseV.Len())
		if baseV.Len() == 0 {
			break
		}
		baseV = baseV.Index(0)
	}
	elemType := v.Type()
	for elemType.Kind() == reflect.Slice {
		elemType = elemType.Elem()
	}
	dtype := dtypes.FromGoType(elemType)
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("tensors.FromValue(%T): unsupported element type %s", value, elemType)
	}
	t := newTensor(shapes.Make(dtype, dims...))
	flatV := reflect.ValueOf(t.flat)
	goType := dtype.GoType()
	if t.shape.Rank() == 0 {
		flatV.Index(0).Set(v.Convert(goType))
		return t, nil
	}
	pos := 0
	var copyRecursive func(v reflect.Value, axis int) error
	copyRecursive = func(v reflect.Value, axis int) error {
		if v.Len() != dims[axis] {
			return errors.Errorf("tensors.FromValue(%T): irregular slice, axis %d has lengths %d and %d",
				value, axis, dims[axis], v.Len())
		}
		if axis == len(dims)-1 {
			// Element-wise conversion handles Go types aliased to another dtype, like int -> Int64.
			for ii := range v.Len() {
				flatV.Index(pos).Set(v.Index(ii).Convert(goType))
				pos++
			}
			return nil
		}
		for ii := range v.Len() {
			if err := copyRecursive(v.Index(ii), axis+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := copyRecursive(v, 0); err != nil {
		return nil, err
	}
	return t, nil
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used by the tensor's data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
//
// The slice is owned by the Tensor and must not be changed.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// ConstFlatData is the generic version of Tensor.ConstFlatData.
// It returns an error if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		return errors.Errorf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	flat, ok := t.flat.([]T)
	if !ok {
		return errors.Errorf("ConstFlatData[%T]: tensor's data is stored as %T", flat, t.flat)
	}
	accessFn(flat)
	return nil
}

// CopyFlatData returns a copy of the flat data of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) ([]T, error) {
	var flatCopy []T
	err := ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy, err
}

// MustCopyFlatData returns a copy of the flat data of the tensor.
// It panics if T doesn't match the tensor's dtype.
func MustCopyFlatData[T dtypes.Supported](t *Tensor) []T {
	flat, err := CopyFlatData[T](t)
	if err != nil {
		panic(err)
	}
	return flat
}

// ConstBytes calls accessFn with the data as a bytes slice.
// The slice is owned by the Tensor and must not be changed.
func (t *Tensor) ConstBytes(accessFn func(data []byte)) {
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() == 0 {
		accessFn(nil)
		return
	}
	element0 := flatV.Index(0)
	sizeBytes := uintptr(flatV.Len()) * element0.Type().Size()
	accessFn(unsafe.Slice((*byte)(element0.Addr().UnsafePointer()), sizeBytes))
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := newTensor(t.shape)
	reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(t.flat))
	return clone
}

// Equal checks whether t and otherTensor have the same shape and bit-for-bit the same content.
// Notice for floating point values this differs from the usual comparison: NaN values with the
// same bits are equal, and 0 and -0 are not.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if t == nil || otherTensor == nil {
		return false
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	t.ConstBytes(func(data0 []byte) {
		otherTensor.ConstBytes(func(data1 []byte) {
			equal = string(data0) == string(data1)
		})
	})
	return equal
}

// Value returns a multidimensional slice (or a scalar) with a copy of the tensor's values.
// E.g.: a tensor of shape (Int32)[2 3] returns a [][]int32.
func (t *Tensor) Value() any {
	flatV := reflect.ValueOf(t.flat)
	if t.shape.Rank() == 0 {
		return flatV.Index(0).Interface()
	}
	return nestedValue(flatV, t.shape.Dimensions).Interface()
}

func nestedValue(flatV reflect.Value, dims []int) reflect.Value {
	if len(dims) == 1 {
		slice := reflect.MakeSlice(flatV.Type(), dims[0], dims[0])
		reflect.Copy(slice, flatV)
		return slice
	}
	sliceType := flatV.Type()
	for range len(dims) - 1 {
		sliceType = reflect.SliceOf(sliceType)
	}
	subSize := 1
	for _, dim := range dims[1:] {
		subSize *= dim
	}
	slice := reflect.MakeSlice(sliceType, dims[0], dims[0])
	for ii := range dims[0] {
		slice.Index(ii).Set(nestedValue(flatV.Slice(ii*subSize, (ii+1)*subSize), dims[1:]))
	}
	return slice
}

// maxStringSize is the largest tensor whose values are included in String.
const maxStringSize = 64

// String implements fmt.Stringer.
// Small tensors include their values.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor<nil>"
	}
	if t.Size() > maxStringSize {
		return fmt.Sprintf("Tensor%s", t.shape)
	}
	return fmt.Sprintf("Tensor%s: %v", t.shape, t.Value())
}
