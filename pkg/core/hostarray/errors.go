// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostarray

import (
	"fmt"

	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/gomlx/hostarray/pkg/support/nest"
	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is matched (with errors.Is) by every *ShapeMismatchError.
	ErrShapeMismatch = errors.New("leaf shape mismatch")

	// ErrPartitionMismatch is matched (with errors.Is) by every *PartitionMismatchError.
	ErrPartitionMismatch = errors.New("partition mismatch")

	// ErrIndivisible is the same as distributed.ErrIndivisible, for convenience.
	ErrIndivisible = distributed.ErrIndivisible
)

// ShapeMismatchError is returned when a leaf of a batch has no leading batch axis, or when its leading dimension
// is not consistent with the other leaves.
type ShapeMismatchError struct {
	Path  nest.Path
	Shape shapes.Shape

	// Expected leading dimension. Not set for leaves without a batch axis.
	Expected int
}

// Error implements error.
func (e *ShapeMismatchError) Error() string {
	if e.Shape.Rank() == 0 {
		return fmt.Sprintf("leaf %q has shape %s, without a leading batch axis", e.Path, e.Shape)
	}
	return fmt.Sprintf("leaf %q has shape %s: leading (batch) dimension %d is not consistent with the other "+
		"leaves of the batch, expected %d", e.Path, e.Shape, e.Shape.Dimensions[0], e.Expected)
}

// Is implements the interface used by errors.Is.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// PartitionMismatchError is returned when the sharding of a global array, or the layout of the devices of the
// mesh among the processes, doesn't match what the partition policy requires.
type PartitionMismatchError struct {
	Path   nest.Path
	Policy distributed.PartitionPolicy
	Reason string
}

// Error implements error.
func (e *PartitionMismatchError) Error() string {
	return fmt.Sprintf("leaf %q doesn't match partition %s: %s", e.Path, e.Policy, e.Reason)
}

// Is implements the interface used by errors.Is.
func (e *PartitionMismatchError) Is(target error) bool {
	return target == ErrPartitionMismatch
}
