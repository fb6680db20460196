// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed defines the following objects related to cross-device and cross-process arrays:
//
//   - DeviceMesh: expresses the topology of a set of devices, in terms of axis and their sizes, and which
//     worker process owns each device. Topology is its read-only view from one process.
//   - ShardingSpec: defines how a logical tensor is sharded across a DeviceMesh.
//   - PartitionPolicy: how a global batch is split among worker processes.
//   - Tensor: a logical (global) tensor distributed across multiple devices organized as a DeviceMesh.
//   - Engine: the array engine that builds global tensors from local data, and returns a process' shards.
package distributed

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/gomlx/hostarray/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Tensor is a logical tensor distributed across multiple devices organized as a DeviceMesh.
//
// Each worker process holds its own handle of the logical tensor, with the shards of the devices it
// can address. The shards are host tensors, and are not changed after the Tensor is created.
type Tensor struct {
	// spec defines how this tensor is sharded across the mesh.
	spec *ShardingSpec

	// shape is the logical (global) shape.
	shape shapes.Shape

	// shards holds the physical tensor data for each addressable device.
	shards map[int]*tensors.Tensor
}

// New creates a new Tensor handle with the given logical shape, from the shards of (some of) its devices.
//
// Each shard must have the shard shape given by the spec.
func New(spec *ShardingSpec, shape shapes.Shape, shards map[int]*tensors.Tensor) (*Tensor, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid ShardingSpec")
	}
	shardShape := spec.ShardShape(shape)
	if !shardShape.Ok() {
		return nil, errors.Errorf("logical shape %s can't be sharded with %s", shape, spec)
	}
	if len(shards) == 0 {
		return nil, errors.Errorf("distributed.New(%s): no shards given", shape)
	}
	for device, shard := range shards {
		if device < 0 || device >= spec.Mesh.NumDevices() {
			return nil, errors.Errorf("shard for device #%d is not part of %s", device, spec.Mesh)
		}
		if !shard.Shape().Equal(shardShape) {
			return nil, errors.Errorf("shard for device #%d has shape %s, but %s requires %s",
				device, shard.Shape(), spec, shardShape)
		}
	}
	return &Tensor{
		spec:   spec,
		shape:  shape.Clone(),
		shards: maps.Clone(shards),
	}, nil
}

// Mesh returns the DeviceMesh for this tensor.
func (dt *Tensor) Mesh() *DeviceMesh {
	return dt.spec.Mesh
}

// ShardingSpec returns the sharding specification for this tensor.
func (dt *Tensor) ShardingSpec() *ShardingSpec {
	return dt.spec
}

// Shape returns the logical, unsharded shape of the tensor.
func (dt *Tensor) Shape() shapes.Shape {
	return dt.shape
}

// ShardShape returns the shape of each of the shards.
func (dt *Tensor) ShardShape() shapes.Shape {
	return dt.spec.ShardShape(dt.shape)
}

// Devices returns the devices with shards in this handle, in increasing order.
func (dt *Tensor) Devices() []int {
	return slices.Sorted(maps.Keys(dt.shards))
}

// Shard returns the shard of the given device, or nil if the device is not addressable by this handle.
func (dt *Tensor) Shard(device int) *tensors.Tensor {
	return dt.shards[device]
}

// Shards returns a copy of the map of device to shard.
func (dt *Tensor) Shards() map[int]*tensors.Tensor {
	return maps.Clone(dt.shards)
}

// String implements fmt.Stringer.
func (dt *Tensor) String() string {
	return fmt.Sprintf("distributed.Tensor(%s, %s, devices=%v)", dt.shape, dt.spec, dt.Devices())
}

// MapShards returns a new Tensor with fn applied to each of the shards, with the same sharding.
//
// All new shards must have the same shape, and the new logical shape is derived from it with the
// ShardingSpec. It is the per-device step of an SPMD computation.
func (dt *Tensor) MapShards(fn func(device int, shard *tensors.Tensor) (*tensors.Tensor, error)) (*Tensor, error) {
	newShards := make(map[int]*tensors.Tensor, len(dt.shards))
	var shardShape shapes.Shape
	for _, device := range dt.Devices() {
		newShard, err := fn(device, dt.shards[device])
		if err != nil {
			return nil, errors.WithMessagef(err, "MapShards() on device #%d", device)
		}
		if !shardShape.Ok() {
			shardShape = newShard.Shape()
		} else if !shardShape.Equal(newShard.Shape()) {
			return nil, errors.Errorf("MapShards(): device #%d returned shard shaped %s, previous shards were %s",
				device, newShard.Shape(), shardShape)
		}
		newShards[device] = newShard
	}
	return New(dt.spec, dt.spec.LogicalShapeForShard(shardShape), newShards)
}

// ProcessRegion returns the region of a tensor with the given logical shape that is addressable by a process:
// the bounding box of the regions of the devices it owns.
//
// It returns an error if those regions don't exactly tile the box (e.g. the devices owned by the process are
// not contiguous along a sharded axis).
func ProcessRegion(mesh *DeviceMesh, process int, spec *ShardingSpec, shape shapes.Shape) (Region, error) {
	devices := mesh.ProcessDevices(process)
	if len(devices) == 0 {
		return Region{}, errors.Errorf("process %d owns no devices in %s", process, mesh)
	}
	var distinct []Region
	for _, device := range devices {
		region, err := spec.DeviceRegion(device, shape)
		if err != nil {
			return Region{}, err
		}
		if !slices.ContainsFunc(distinct, region.Equal) {
			distinct = append(distinct, region)
		}
	}
	box := distinct[0]
	box.Start, box.Dims = slices.Clone(box.Start), slices.Clone(box.Dims)
	for _, region := range distinct[1:] {
		for axis := range box.Rank() {
			end := max(box.End(axis), region.End(axis))
			box.Start[axis] = min(box.Start[axis], region.Start[axis])
			box.Dims[axis] = end - box.Start[axis]
		}
	}
	// Shards of a ShardingSpec are either identical or disjoint, so they tile the box iff their sizes add up.
	covered := 0
	for _, region := range distinct {
		covered += region.Size()
	}
	if covered != box.Size() {
		return Region{}, errors.Errorf("devices %v of process %d hold regions that don't form a contiguous box "+
			"of %s sharded with %s", devices, process, shape, spec)
	}
	return box, nil
}

// Assemble rebuilds the full logical tensor from the handles of all processes.
//
// Every region of the tensor must be present in at least one handle, and replicated shards must agree.
// It is meant for tests and inspection: real deployments would never gather a global array in one process.
func Assemble(handles ...*Tensor) (*tensors.Tensor, error) {
	if len(handles) == 0 {
		return nil, errors.New("Assemble() requires at least one handle")
	}
	first := handles[0]
	shards := make(map[int]*tensors.Tensor)
	for ii, handle := range handles {
		if !handle.shape.Equal(first.shape) || !handle.spec.Equal(first.spec) {
			return nil, errors.Errorf("Assemble(): handle #%d (%s) is not compatible with handle #0 (%s)",
				ii, handle, first)
		}
		for device, shard := range handle.shards {
			if previous, found := shards[device]; found && !previous.Equal(shard) {
				return nil, errors.Errorf("Assemble(): handles disagree on the shard of device #%d", device)
			}
			shards[device] = shard
		}
	}
	groups, err := first.spec.ReplicaGroups()
	if err != nil {
		return nil, err
	}
	result := tensors.FromShape(first.shape)
	origin := make([]int, first.shape.Rank())
	for _, group := range groups {
		var replica *tensors.Tensor
		var replicaDevice int
		for _, device := range group {
			shard, found := shards[device]
			if !found {
				continue
			}
			if replica == nil {
				replica, replicaDevice = shard, device
			} else if !replica.Equal(shard) {
				return nil, errors.Errorf("Assemble(): replicas on devices #%d and #%d differ", replicaDevice, device)
			}
		}
		if replica == nil {
			return nil, errors.Errorf("Assemble(): no shard given for any of the replica devices %v", group)
		}
		region, err := first.spec.DeviceRegion(replicaDevice, first.shape)
		if err != nil {
			return nil, err
		}
		err = tensors.CopyRegion(result, region.Start, replica, origin, region.Dims)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
