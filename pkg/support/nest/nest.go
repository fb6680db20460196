// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nest implements the Nest generic container, used to hold nested batches of arrays: a value, or
// a map of string to nests, or a slice of nests, to arbitrary depth.
//
// Traversal is always depth-first and deterministic: map entries are visited in sorted key order and slice
// elements in index order. Each leaf is identified by its Path, the sequence of keys (or indices, for
// slices) leading to it.
package nest

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hostarray/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Nest is a "sum type" (a union) of a value T itself, a map of string to Nest[T], a slice of Nest[T] or an
// invalid Nest[T] (the zero value). It is only one of those and accessing the wrong instance will panic.
type Nest[T any] struct {
	nestType  Type
	value     T
	slice     []*Nest[T]
	stringMap map[string]*Nest[T]
}

//go:generate stringer -type=Type

// Type of Nest.
type Type uint8

const (
	InvalidNest Type = iota
	ValueNest
	SliceNest
	MapNest
)

// Path identifies a leaf in a Nest: one segment per level, either a map key or, for slices, the decimal
// index of the element.
type Path []string

// String returns the path segments joined by "/".
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Item is a leaf of a Nest along with its Path.
type Item[T any] struct {
	Path  Path
	Value T
}

// Value creates a new Nest that contains the given value.
func Value[T any](value T) *Nest[T] {
	return &Nest[T]{
		nestType: ValueNest,
		value:    value,
	}
}

// Map creates a new Nest with the given map of sub-nests -- it is not copied, it's the same underlying map.
func Map[T any](stringMap map[string]*Nest[T]) *Nest[T] {
	if stringMap == nil {
		stringMap = make(map[string]*Nest[T])
	}
	return &Nest[T]{
		nestType:  MapNest,
		stringMap: stringMap,
	}
}

// MapOfValues creates a one-level Nest map with a value leaf for each entry of values.
func MapOfValues[T any](values map[string]T) *Nest[T] {
	stringMap := make(map[string]*Nest[T], len(values))
	for key, value := range values {
		stringMap[key] = Value(value)
	}
	return Map(stringMap)
}

// Slice creates a new Nest that is a slice of the given sub-nests.
func Slice[T any](elements ...*Nest[T]) *Nest[T] {
	return &Nest[T]{
		nestType: SliceNest,
		slice:    elements,
	}
}

// SliceOfValues creates a one-level Nest slice with a value leaf for each of values.
func SliceOfValues[T any](values ...T) *Nest[T] {
	return Slice(xslices.Map(values, Value[T])...)
}

// Type returns the type of the Nest.
func (n *Nest[T]) Type() Type {
	return n.nestType
}

// IsValue returns whether the Nest holds a single value.
func (n *Nest[T]) IsValue() bool {
	return n.nestType == ValueNest
}

// IsSlice returns whether the Nest is storing a slice.
func (n *Nest[T]) IsSlice() bool {
	return n.nestType == SliceNest
}

// IsMap returns whether the Nest is storing a map.
func (n *Nest[T]) IsMap() bool {
	return n.nestType == MapNest
}

// Value returns the value stored in the Nest. It panics if the Nest is not a ValueNest.
func (n *Nest[T]) Value() T {
	if n.nestType != ValueNest {
		exceptions.Panicf("Nest[T=%T].Value() called, but the Nest is a container of type %s", n.value, n.nestType)
	}
	return n.value
}

// Slice returns the slice contained in the Nest. It panics if the Nest is not of SliceNest type.
func (n *Nest[T]) Slice() []*Nest[T] {
	if n.nestType != SliceNest {
		exceptions.Panicf("Nest[T=%T].Slice() called, but the Nest is a container of type %s", n.value, n.nestType)
	}
	return n.slice
}

// Map returns a reference to the underlying map. It panics if the Nest is not of MapNest type.
func (n *Nest[T]) Map() map[string]*Nest[T] {
	if n.nestType != MapNest {
		exceptions.Panicf("Nest[T=%T].Map() called, but the Nest is a container of type %s", n.value, n.nestType)
	}
	return n.stringMap
}

// Set the sub-nest for the given key. It panics if the Nest is not of MapNest type.
func (n *Nest[T]) Set(key string, child *Nest[T]) {
	n.Map()[key] = child
}

// SetValue sets a value leaf for the given key. It panics if the Nest is not of MapNest type.
func (n *Nest[T]) SetValue(key string, value T) {
	n.Set(key, Value(value))
}

// Get returns the sub-nest at the given path. An empty path returns the Nest itself.
func (n *Nest[T]) Get(path ...string) (*Nest[T], error) {
	current := n
	for ii, segment := range path {
		switch current.nestType {
		case MapNest:
			child, found := current.stringMap[segment]
			if !found {
				return nil, errors.Errorf("nest path %q: key %q not found", Path(path[:ii+1]), segment)
			}
			current = child
		case SliceNest:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(current.slice) {
				return nil, errors.Errorf("nest path %q: invalid index %q for slice of length %d",
					Path(path[:ii+1]), segment, len(current.slice))
			}
			current = current.slice[idx]
		default:
			return nil, errors.Errorf("nest path %q: cannot index into a %s", Path(path[:ii+1]), current.nestType)
		}
	}
	return current, nil
}

// Leaf returns the value at the given path, or an error if the path doesn't lead to a value.
func (n *Nest[T]) Leaf(path ...string) (value T, err error) {
	var leaf *Nest[T]
	leaf, err = n.Get(path...)
	if err != nil {
		return
	}
	if !leaf.IsValue() {
		err = errors.Errorf("nest path %q is a %s, not a value", Path(path), leaf.nestType)
		return
	}
	return leaf.value, nil
}

// EnumerateWithPath all values stored in a Nest, depth-first in a deterministic order, and call `fn` with the
// path to the element and the corresponding value. If fn returns an error, EnumerateWithPath will exit
// immediately and return the corresponding error.
//
// The path given to fn is owned by the caller, fn can keep it.
func (n *Nest[T]) EnumerateWithPath(fn func(path Path, value T) error) error {
	return n.enumerate(nil, fn)
}

func (n *Nest[T]) enumerate(prefix Path, fn func(path Path, value T) error) error {
	switch n.nestType {
	case InvalidNest:
		return errors.Errorf("Nest[%T].EnumerateWithPath() at path %q of InvalidNest", n.value, prefix)
	case ValueNest:
		return fn(slices.Clone(prefix), n.value)
	case SliceNest:
		for ii, child := range n.slice {
			if err := child.enumerate(append(prefix, strconv.Itoa(ii)), fn); err != nil {
				return err
			}
		}
		return nil
	case MapNest:
		for _, key := range xslices.SortedKeys(n.stringMap) {
			if err := n.stringMap[key].enumerate(append(prefix, key), fn); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Errorf("Nest[%T].EnumerateWithPath() of unknown type %s (%d)", n.value, n.nestType, n.nestType)
}

// FlattenItems returns the (path, value) pairs of all leaves, in deterministic depth-first order.
// It returns nil for an invalid Nest.
func (n *Nest[T]) FlattenItems() []Item[T] {
	var items []Item[T]
	err := n.EnumerateWithPath(func(path Path, value T) error {
		items = append(items, Item[T]{Path: path, Value: value})
		return nil
	})
	if err != nil {
		return nil
	}
	return items
}

// Flatten returns the values of all leaves, in the same order as FlattenItems.
func (n *Nest[T]) Flatten() []T {
	return xslices.Map(n.FlattenItems(), func(item Item[T]) T { return item.Value })
}

// NumLeaves returns the number of values stored in the Nest.
func (n *Nest[T]) NumLeaves() int {
	count := 0
	_ = n.EnumerateWithPath(func(Path, T) error {
		count++
		return nil
	})
	return count
}

// IsEmpty returns whether the Nest holds no values: it's invalid, or it only has empty containers.
func (n *Nest[T]) IsEmpty() bool {
	return n.NumLeaves() == 0
}

// Unflatten creates a Nest[T2] with the structure of nestShape, using the given flat values, in the order
// used by Flatten.
func Unflatten[T1, T2 any](nestShape *Nest[T1], flatValues []T2) (*Nest[T2], error) {
	if numLeaves := nestShape.NumLeaves(); numLeaves != len(flatValues) {
		return nil, errors.Errorf("Unflatten(): nest has %d leaves, but %d values were given",
			numLeaves, len(flatValues))
	}
	idx := 0
	return MapValues(nestShape, func(_ Path, _ T1) (T2, error) {
		value := flatValues[idx]
		idx++
		return value, nil
	})
}

// MapValues creates a Nest[T2] with the same structure as n, with each leaf value converted by fn.
// Leaves are converted in the same order as FlattenItems.
//
// It is all-or-nothing: at the first error returned by fn it stops and returns that error.
func MapValues[T1, T2 any](n *Nest[T1], fn func(path Path, value T1) (T2, error)) (*Nest[T2], error) {
	return mapValues(n, nil, fn)
}

func mapValues[T1, T2 any](n *Nest[T1], prefix Path, fn func(path Path, value T1) (T2, error)) (*Nest[T2], error) {
	switch n.nestType {
	case ValueNest:
		value, err := fn(slices.Clone(prefix), n.value)
		if err != nil {
			return nil, err
		}
		return Value(value), nil
	case SliceNest:
		elements := make([]*Nest[T2], len(n.slice))
		for ii, child := range n.slice {
			var err error
			elements[ii], err = mapValues(child, append(prefix, strconv.Itoa(ii)), fn)
			if err != nil {
				return nil, err
			}
		}
		return Slice(elements...), nil
	case MapNest:
		stringMap := make(map[string]*Nest[T2], len(n.stringMap))
		for _, key := range xslices.SortedKeys(n.stringMap) {
			child, err := mapValues(n.stringMap[key], append(prefix, key), fn)
			if err != nil {
				return nil, err
			}
			stringMap[key] = child
		}
		return Map(stringMap), nil
	}
	return nil, errors.Errorf("MapValues() at path %q of %s", prefix, n.nestType)
}
