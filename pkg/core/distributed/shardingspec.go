// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"slices"
	"strings"

	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/gomlx/hostarray/pkg/support/sets"
	"github.com/pkg/errors"
)

// ShardingSpec (also known as PartitionSpec in JAX) defines how a logical tensor is sharded (partitioned) across
// a DeviceMesh.
//
// The definition is per axis of the logical tensor, and not per axis of the Mesh, a common confusion.
// If not all axes of the Tensor are defined, the tail axes are considered simply to be replicated across the whole
// mesh.
//
// Each tensor axis can be replicated or sharded across one or more mesh axes. Mesh axes not used by any
// tensor axis hold replicas.
//
// Example:
//
//	mesh := NewDeviceMesh([]int{2, 2}, []string{"data", "model"})
//
//	// Input's "batch" axis is sharded across the "data" axis of the mesh.
//	inputSharding, err := BuildSpec(mesh).S("data").Done()
//
//	// First axis is replicated, second is shared across "model" devices
//	variableSharding, err := BuildSpec(mesh).R().S("model").Done()
//
//	// Second axis is sharded across both "data" and "model" devices.
//	largeWeights, err := BuildSpec(mesh).R().S("data", "model").Done()
type ShardingSpec struct {
	Mesh *DeviceMesh
	Axes []AxisSpec
}

// AxisSpec specifies how a tensor axis is to be sharded (or replicated).
// See details in ShardingSpec.
//
// It's a list of mesh axes names, in order. An empty list means the axis is replicated.
type AxisSpec []string

// ReplicatedAxis is a special AxisSpec that means the tensor axis is replicated.
var ReplicatedAxis = AxisSpec(nil)

// NewShardingSpec creates a new ShardingSpec for a tensor, defined over the given mesh axes.
//
// It takes an axisSpec for each axis of the tensor (omitted axes are assumed to be replicated).
//
// There is also the BuildSpec function for a more ergonomic spec creation.
func NewShardingSpec(mesh *DeviceMesh, axisSpec ...AxisSpec) (*ShardingSpec, error) {
	s := &ShardingSpec{mesh, axisSpec}
	err := s.Validate()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewReplicatedShardingSpec creates a new ShardingSpec that is replicated across all mesh axes.
// It's the simplest sharding spec.
func NewReplicatedShardingSpec(mesh *DeviceMesh) *ShardingSpec {
	return &ShardingSpec{mesh, nil}
}

// Validate the spec returning an error if something is invalid.
func (s *ShardingSpec) Validate() error {
	if s.Mesh == nil {
		return errors.New("ShardingSpec has no mesh")
	}
	meshAxesUsed := sets.Make[string]()
	for axisIdx, tensorAxisSpec := range s.Axes {
		for _, axisName := range tensorAxisSpec {
			if _, ok := s.Mesh.nameToAxis[axisName]; !ok {
				return errors.Errorf("ShardingSpec axis #%d refers to unknown mesh axis %q", axisIdx, axisName)
			}
			if !meshAxesUsed.InsertNew(axisName) {
				return errors.Errorf("mesh axis %q used more than once in ShardingSpec", axisName)
			}
		}
	}
	return nil
}

// Rank returns the number of tensor axes this ShardingSpec describes.
func (s *ShardingSpec) Rank() int {
	return len(s.Axes)
}

// IsReplicated returns true if the tensor is fully replicated
// (i.e., not sharded along any axis).
func (s *ShardingSpec) IsReplicated() bool {
	for _, meshAxes := range s.Axes {
		if len(meshAxes) > 0 {
			return false
		}
	}
	return true
}

// Equal returns whether s and other describe the same sharding over the same mesh.
//
// Trailing replicated axes are not significant: a spec with axes [S(data)] equals one with [S(data), R, R].
func (s *ShardingSpec) Equal(other *ShardingSpec) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Mesh != other.Mesh {
		return false
	}
	rank := max(len(s.Axes), len(other.Axes))
	for axis := range rank {
		if !slices.Equal(s.axisSpec(axis), other.axisSpec(axis)) {
			return false
		}
	}
	return true
}

func (s *ShardingSpec) axisSpec(axis int) AxisSpec {
	if axis >= len(s.Axes) {
		return ReplicatedAxis
	}
	return s.Axes[axis]
}

// String returns a human-readable string representation of the ShardingSpec.
func (s *ShardingSpec) String() string {
	if s == nil {
		return "ShardingSpec<nil>"
	}
	var sb strings.Builder
	sb.WriteString("ShardingSpec{mesh=" + s.Mesh.name + ", axes=[")
	for i, axisSpec := range s.Axes {
		if i > 0 {
			sb.WriteString(", ")
		}
		if len(axisSpec) == 0 {
			sb.WriteString("R")
		} else {
			sb.WriteString("S(" + strings.Join(axisSpec, ",") + ")")
		}
	}
	sb.WriteString("]}")
	return sb.String()
}

// SpecBuilder is a more ergonomic way of building SharingSpec.
type SpecBuilder struct {
	spec *ShardingSpec
}

// BuildSpec is a more ergonomic way of building SharingSpec.
//
// Example:
//
//	spec, err := distributed.BuildSpec(mesh).R().S("model").Done()
func BuildSpec(mesh *DeviceMesh) *SpecBuilder {
	return &SpecBuilder{spec: &ShardingSpec{Mesh: mesh}}
}

// R adds a replicated axis to the ShardingSpec being built.
func (b *SpecBuilder) R() *SpecBuilder {
	b.spec.Axes = append(b.spec.Axes, ReplicatedAxis)
	return b
}

// S adds a sharded axis along the meshAxes to the ShardingSpec being built.
func (b *SpecBuilder) S(meshAxes ...string) *SpecBuilder {
	b.spec.Axes = append(b.spec.Axes, slices.Clone(meshAxes))
	return b
}

// Done builds the ShardingSpec according to the builder specification.
func (b *SpecBuilder) Done() (*ShardingSpec, error) {
	err := b.spec.Validate()
	if err != nil {
		return nil, err
	}
	return b.spec, nil
}

// NumDevicesShardingAxis returns the number of devices that will be used to shard the tensor along the given
// tensor axis. If the axis is replicated, it returns 1.
//
// Notice this is about the tensor axis, not the mesh axis. A tensor axis can be sharded across multiple mesh axes.
func (s *ShardingSpec) NumDevicesShardingAxis(axis int) int {
	size := 1
	for _, meshAxis := range s.axisSpec(axis) {
		size *= s.Mesh.axesSizes[s.Mesh.nameToAxis[meshAxis]]
	}
	return size
}

// ReplicaGroups returns the groups of devices holding the same region of a tensor sharded with this spec:
// those differing only in their coordinates on the mesh axes not used by the spec.
func (s *ShardingSpec) ReplicaGroups() ([][]int, error) {
	used := sets.Make[string]()
	for _, axisSpec := range s.Axes {
		used.Insert(axisSpec...)
	}
	var replicaAxes []string
	for _, meshAxis := range s.Mesh.axesNames {
		if !used.Has(meshAxis) {
			replicaAxes = append(replicaAxes, meshAxis)
		}
	}
	return s.Mesh.ComputeReplicaGroups(replicaAxes)
}

// LogicalShapeForShard calculates the logical shape of a tensor given its shard shape and the sharding specification.
//
// The shard shape is assumed to be the shape of the tensor on a single device.
// The logical shape is the shape of the full tensor across all devices.
//
// If the sharding spec is nil it returns the shard shape as is.
func (s *ShardingSpec) LogicalShapeForShard(shardShape shapes.Shape) shapes.Shape {
	if s == nil || len(s.Axes) == 0 {
		return shardShape
	}
	logicalShape := shardShape.Clone()
	for axis := range min(len(s.Axes), shardShape.Rank()) {
		logicalShape.Dimensions[axis] *= s.NumDevicesShardingAxis(axis)
	}
	return logicalShape
}

// ShardShape calculates the shard shape of a tensor given its logical shape and the sharding specification.
//
// The logical shape is the shape of the full tensor across all devices.
// The shard shape is the shape of the tensor on a single device.
//
// If the sharding spec has more axes than the logical shape, or if the logical shape is not divisible by the
// sharding spec, it returns an invalid shape.
func (s *ShardingSpec) ShardShape(logicalShape shapes.Shape) shapes.Shape {
	if s == nil {
		return logicalShape
	}
	var invalidShape shapes.Shape // The default shape is invalid.
	if s.Rank() > logicalShape.Rank() {
		return invalidShape
	}
	shardDims := make([]int, logicalShape.Rank())
	for i, dim := range logicalShape.Dimensions {
		numShards := s.NumDevicesShardingAxis(i)
		if dim%numShards != 0 {
			return invalidShape
		}
		shardDims[i] = dim / numShards
	}
	return shapes.Make(logicalShape.DType, shardDims...)
}

// DeviceRegion returns the region of a tensor with the given logical shape that is stored in the device.
//
// Along a tensor axis sharded over mesh axes (a1, a2, ...), the shard index of a device is its coordinates on
// those mesh axes, in row-major order. It returns an error if the logical shape is not divisible by the spec.
func (s *ShardingSpec) DeviceRegion(device int, logicalShape shapes.Shape) (Region, error) {
	shardShape := s.ShardShape(logicalShape)
	if !shardShape.Ok() {
		return Region{}, errors.Errorf("logical shape %s is not divisible by %s", logicalShape, s)
	}
	coords, err := s.Mesh.DeviceCoordinates(device)
	if err != nil {
		return Region{}, err
	}
	region := Region{
		Start: make([]int, logicalShape.Rank()),
		Dims:  slices.Clone(shardShape.Dimensions),
	}
	for axis := range s.Rank() {
		shardIdx := 0
		for _, meshAxis := range s.Axes[axis] {
			meshAxisIdx := s.Mesh.nameToAxis[meshAxis]
			shardIdx = shardIdx*s.Mesh.axesSizes[meshAxisIdx] + coords[meshAxisIdx]
		}
		region.Start[axis] = shardIdx * region.Dims[axis]
	}
	return region, nil
}
