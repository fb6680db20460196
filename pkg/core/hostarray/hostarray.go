// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hostarray converts batches between their host-local form, where each worker process holds in its
// memory only the part of the batch it is responsible for, and their global form, a logical array spanning the
// devices of all processes of a device mesh.
//
// Batches are nests (see package nest) of tensors, and all leaves are converted with the same partition policy
// (see distributed.PartitionPolicy), unless a per-leaf policy is configured:
//
//   - distributed.PartitionFull: each process holds a disjoint contiguous shard of the global batch, in process
//     order. The global batch size is numProcesses times the process batch size.
//   - distributed.PartitionReplicated: every process holds the whole global batch.
//
// A round trip, GlobalToHost(HostToGlobal(x, policy), policy), returns x bit-for-bit.
//
// Example, from each worker process:
//
//	globalBatch, err := hostarray.HostToGlobal(engine, batch, distributed.PartitionFull)
//	... run the distributed computation ...
//	localOutputs, err := hostarray.GlobalToHost(engine, outputs, distributed.PartitionFull)
//
// Conversions are collective: all processes must make them in the same order, with the same batch structure,
// policy and configuration.
package hostarray

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/gomlx/hostarray/pkg/core/tensors"
	"github.com/gomlx/hostarray/pkg/support/nest"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Converter converts batches between host-local and global arrays for one worker process.
//
// It is configured with a builder pattern and holds no state across calls. Example:
//
//	globalBatch, err := hostarray.New(engine).Partition(distributed.PartitionReplicated).HostToGlobal(batch)
type Converter struct {
	engine     distributed.Engine
	policy     distributed.PartitionPolicy
	batchAxes  []string
	leafPolicy func(path nest.Path) distributed.PartitionPolicy

	// globalBatchSize, if > 0, is the expected global batch size.
	globalBatchSize int
}

// New creates a Converter using the given array engine, with the default distributed.PartitionFull policy,
// over all the axes of the mesh.
func New(engine distributed.Engine) *Converter {
	return &Converter{engine: engine}
}

// Partition sets the policy used for all leaves. The default is distributed.PartitionFull.
func (c *Converter) Partition(policy distributed.PartitionPolicy) *Converter {
	c.policy = policy
	return c
}

// BatchAxes sets the mesh axes over which the batch axis is sharded with distributed.PartitionFull.
// The default (or if called with no axes) is to use all the mesh axes.
func (c *Converter) BatchAxes(meshAxes ...string) *Converter {
	c.batchAxes = slices.Clone(meshAxes)
	return c
}

// LeafPartition sets a function that chooses the policy for each leaf of the batch, given its path.
// It takes precedence over Partition. Set to nil to use the same policy for all leaves.
//
// All leaves must still agree on the global batch size.
func (c *Converter) LeafPartition(fn func(path nest.Path) distributed.PartitionPolicy) *Converter {
	c.leafPolicy = fn
	return c
}

// GlobalBatchSize sets the expected global batch size for HostToGlobal. It is validated against the partition
// policy before any leaf is looked at, and the leaves must have the matching leading dimension.
// By default (or if set to 0), the global batch size is derived from the leading dimension of the first leaf.
func (c *Converter) GlobalBatchSize(globalBatchSize int) *Converter {
	c.globalBatchSize = globalBatchSize
	return c
}

func (c *Converter) policyFor(path nest.Path) distributed.PartitionPolicy {
	if c.leafPolicy != nil {
		return c.leafPolicy(path)
	}
	return c.policy
}

// String implements fmt.Stringer.
func (c *Converter) String() string {
	topology := c.engine.Topology()
	policy := c.policy.String()
	if c.leafPolicy != nil {
		policy = "per-leaf"
	}
	return fmt.Sprintf("hostarray.Converter(process %d/%d, partition=%s, batchAxes=%v)",
		topology.ProcessIndex(), topology.NumProcesses(), policy, c.batchAxes)
}

// leafPlan is the validated conversion of one leaf.
type leafPlan struct {
	policy      distributed.PartitionPolicy
	spec        *distributed.ShardingSpec
	globalShape shapes.Shape
}

// planHostToGlobal validates all leaves of the batch, and returns their conversion plan in traversal order,
// and the global batch size.
func (c *Converter) planHostToGlobal(batch *nest.Nest[*tensors.Tensor]) ([]leafPlan, int, error) {
	topology := c.engine.Topology()
	numProcesses, processIdx := topology.NumProcesses(), topology.ProcessIndex()
	globalBatch, source := c.globalBatchSize, "configured"
	if globalBatch > 0 && c.leafPolicy == nil {
		if err := distributed.ValidatePartition(c.policy, globalBatch, numProcesses); err != nil {
			return nil, 0, err
		}
	}
	var plans []leafPlan
	err := batch.EnumerateWithPath(func(path nest.Path, local *tensors.Tensor) error {
		policy := c.policyFor(path)
		shape := local.Shape()
		if shape.Rank() == 0 {
			return errors.WithStack(&ShapeMismatchError{Path: path, Shape: shape})
		}
		if globalBatch <= 0 {
			globalBatch = distributed.GlobalBatchSize(policy, shape.Dimensions[0], numProcesses)
			source = fmt.Sprintf("set by leaf %q", path)
		}
		processBatch, err := distributed.ProcessBatchSize(policy, globalBatch, numProcesses)
		if err != nil {
			return errors.WithMessagef(err, "leaf %q (global batch size %d %s)", path, globalBatch, source)
		}
		if shape.Dimensions[0] != processBatch {
			return errors.WithStack(&ShapeMismatchError{Path: path, Shape: shape, Expected: processBatch})
		}

		globalShape := shape.WithDim(0, globalBatch)
		spec, err := c.leafSpec(path, policy, globalShape)
		if err != nil {
			return err
		}
		region, err := distributed.ProcessRegion(topology.Mesh(), processIdx, spec, globalShape)
		if err != nil {
			return errors.WithStack(&PartitionMismatchError{Path: path, Policy: policy, Reason: err.Error()})
		}
		start, end := policy.ProcessRows(processIdx, numProcesses, globalBatch)
		if region.Start[0] != start || region.End(0) != end {
			return errors.WithStack(&PartitionMismatchError{Path: path, Policy: policy,
				Reason: fmt.Sprintf("process %d is assigned rows [%d, %d) of the global batch, but its devices hold "+
					"rows [%d, %d) with %s", processIdx, start, end, region.Start[0], region.End(0), spec)})
		}
		plans = append(plans, leafPlan{policy: policy, spec: spec, globalShape: globalShape})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return plans, globalBatch, nil
}

// HostToGlobal converts a batch of host-local arrays (the part of the batch held by this process) into global
// arrays, preserving the structure of the batch.
//
// All leaves are validated before any global array is built. Errors:
//
//   - *ShapeMismatchError if a leaf has no batch axis, or if the leading dimensions of the leaves are not
//     consistent (with each other, or with the configured global batch size).
//   - *distributed.IndivisibleError if the global batch can't be partitioned among the processes (or among
//     the batch shards of the mesh) with PartitionFull.
//   - *PartitionMismatchError if the devices owned by this process don't hold the rows the policy assigns to it.
//
// It is all-or-nothing: if any leaf fails, no result is returned.
func (c *Converter) HostToGlobal(batch *nest.Nest[*tensors.Tensor]) (*nest.Nest[*distributed.Tensor], error) {
	plans, globalBatch, err := c.planHostToGlobal(batch)
	if err != nil {
		return nil, err
	}
	var leafIdx int
	var memory uintptr
	result, err := nest.MapValues(batch, func(path nest.Path, local *tensors.Tensor) (*distributed.Tensor, error) {
		plan := plans[leafIdx]
		leafIdx++
		global, err := c.engine.BuildGlobal(local, plan.spec, plan.globalShape)
		if err != nil {
			return nil, errors.WithMessagef(err, "HostToGlobal() of leaf %q", path)
		}
		memory += local.Memory()
		klog.V(2).Infof("HostToGlobal(%s): leaf %q local %s -> global %s",
			plan.policy, path, local.Shape(), plan.globalShape)
		return global, nil
	})
	if err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("%s: converted %d leaves to global arrays (global batch size %d, %s of host data)",
			c, len(plans), globalBatch, humanize.Bytes(uint64(memory)))
	}
	return result, nil
}

// leafSpec returns the sharding implied by the policy for a leaf, checking that the global batch can be split
// among the batch shards of the mesh.
func (c *Converter) leafSpec(path nest.Path, policy distributed.PartitionPolicy, globalShape shapes.Shape) (
	*distributed.ShardingSpec, error) {
	topology := c.engine.Topology()
	spec, err := policy.ShardingSpec(topology.Mesh(), globalShape.Rank(), c.batchAxes...)
	if err != nil {
		return nil, errors.WithMessagef(err, "leaf %q", path)
	}
	globalBatch := globalShape.Dimensions[0]
	if numShards := spec.NumDevicesShardingAxis(0); globalBatch%numShards != 0 {
		return nil, errors.WithMessagef(errors.WithStack(&distributed.IndivisibleError{
			GlobalBatchSize: globalBatch,
			NumProcesses:    topology.NumProcesses(),
			NumShards:       numShards,
		}), "leaf %q", path)
	}
	return spec, nil
}

// GlobalToHost converts a batch of global arrays back into the host-local arrays of this process: the rows of the
// global batch the policy assigns to it, preserving the structure of the batch.
//
// Errors:
//
//   - *ShapeMismatchError if a leaf has no batch axis.
//   - *distributed.IndivisibleError if the global batch can't be partitioned with PartitionFull.
//   - *PartitionMismatchError if a global array is not sharded as the policy requires, or if the shards
//     addressable by this process don't cover its rows. It never returns partial or misaligned data.
//
// It is all-or-nothing: if any leaf fails, no result is returned.
func (c *Converter) GlobalToHost(batch *nest.Nest[*distributed.Tensor]) (*nest.Nest[*tensors.Tensor], error) {
	topology := c.engine.Topology()
	numProcesses, processIdx := topology.NumProcesses(), topology.ProcessIndex()
	var memory uintptr
	result, err := nest.MapValues(batch, func(path nest.Path, global *distributed.Tensor) (*tensors.Tensor, error) {
		policy := c.policyFor(path)
		shape := global.Shape()
		if shape.Rank() == 0 {
			return nil, errors.WithStack(&ShapeMismatchError{Path: path, Shape: shape})
		}
		globalBatch := shape.Dimensions[0]
		if err := distributed.ValidatePartition(policy, globalBatch, numProcesses); err != nil {
			return nil, errors.WithMessagef(err, "leaf %q", path)
		}
		spec, err := c.leafSpec(path, policy, shape)
		if err != nil {
			return nil, err
		}
		if !spec.Equal(global.ShardingSpec()) {
			return nil, errors.WithStack(&PartitionMismatchError{Path: path, Policy: policy,
				Reason: fmt.Sprintf("global array is sharded with %s, expected %s", global.ShardingSpec(), spec)})
		}

		start, end := policy.ProcessRows(processIdx, numProcesses, globalBatch)
		entitled := distributed.FullRegion(shape.Dimensions)
		entitled.Start[0], entitled.Dims[0] = start, end-start
		shards, err := c.engine.LocalShards(global)
		if err != nil {
			return nil, errors.WithMessagef(err, "GlobalToHost() of leaf %q", path)
		}
		local := tensors.FromShape(shape.WithDim(0, end-start))
		var copied []distributed.Region
		covered := 0
		for _, shard := range shards {
			inter, ok := shard.Region.Intersect(entitled)
			if !ok || slices.ContainsFunc(copied, inter.Equal) {
				continue
			}
			err = tensors.CopyRegion(local, inter.Offset(entitled), shard.Data, inter.Offset(shard.Region), inter.Dims)
			if err != nil {
				return nil, errors.WithMessagef(err, "GlobalToHost() of leaf %q, shard of device #%d", path, shard.Device)
			}
			copied = append(copied, inter)
			covered += inter.Size()
		}
		if covered != entitled.Size() {
			return nil, errors.WithStack(&PartitionMismatchError{Path: path, Policy: policy,
				Reason: fmt.Sprintf("the shards addressable by process %d hold only %d of the %d elements of its "+
					"rows [%d, %d)", processIdx, covered, entitled.Size(), start, end)})
		}
		memory += local.Memory()
		klog.V(2).Infof("GlobalToHost(%s): leaf %q global %s -> local %s", policy, path, shape, local.Shape())
		return local, nil
	})
	if err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("%s: converted %d leaves to host arrays (%s of host data)",
			c, result.NumLeaves(), humanize.Bytes(uint64(memory)))
	}
	return result, nil
}

// HostToGlobal converts a batch of host-local arrays into global arrays, using the given partition policy
// over all the axes of the mesh. See Converter.HostToGlobal.
func HostToGlobal(engine distributed.Engine, batch *nest.Nest[*tensors.Tensor], policy distributed.PartitionPolicy) (
	*nest.Nest[*distributed.Tensor], error) {
	return New(engine).Partition(policy).HostToGlobal(batch)
}

// GlobalToHost converts a batch of global arrays into the host-local arrays of this process, using the given
// partition policy over all the axes of the mesh. See Converter.GlobalToHost.
func GlobalToHost(engine distributed.Engine, batch *nest.Nest[*distributed.Tensor], policy distributed.PartitionPolicy) (
	*nest.Nest[*tensors.Tensor], error) {
	return New(engine).Partition(policy).GlobalToHost(batch)
}
