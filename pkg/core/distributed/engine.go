// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/gomlx/hostarray/pkg/core/tensors"
)

// Shard is the piece of a distributed Tensor stored in one device.
type Shard struct {
	// Device where the shard is stored.
	Device int

	// Region of the logical tensor held by the shard.
	Region Region

	// Data of the shard, shaped Region.Dims.
	Data *tensors.Tensor
}

// Engine is the array engine used by one worker process to create and read global (distributed) tensors.
//
// Engines are bound to a worker process, and their methods are called from that process only.
type Engine interface {
	// Topology of the device mesh, as seen by the worker process.
	Topology() Topology

	// BuildGlobal creates the process' handle of a global tensor with the given logical shape and sharding,
	// from the local data of the process.
	//
	// The local data must be the region of the global tensor addressable by the process (see ProcessRegion):
	// the element at index i of local is the element at index ProcessRegion().Start+i of the global tensor.
	//
	// All processes must call it collectively, in the same order, with the same spec and globalShape.
	BuildGlobal(local *tensors.Tensor, spec *ShardingSpec, globalShape shapes.Shape) (*Tensor, error)

	// LocalShards returns the shards of the global tensor addressable by the process, ordered by device.
	LocalShards(t *Tensor) ([]Shard, error)
}
