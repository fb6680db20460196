// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/gomlx/hostarray/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Process is one simulated worker process of a Cluster. It implements distributed.Engine.
//
// A Process is only valid during the Cluster.Run that created it, and must only be used by the goroutine
// running it.
type Process struct {
	run      *run
	ctx      context.Context
	topology *distributed.ProcessMesh

	// numCollectives is the number of collective calls made so far, used as the sequence number of the next.
	numCollectives int
}

var _ distributed.Engine = (*Process)(nil)

// Index of the process in the cluster.
func (p *Process) Index() int { return p.topology.ProcessIndex() }

// Topology implements distributed.Engine.
func (p *Process) Topology() distributed.Topology { return p.topology }

// String implements fmt.Stringer.
func (p *Process) String() string {
	return fmt.Sprintf("%s process %d", p.run.cluster, p.Index())
}

// BuildGlobal implements distributed.Engine.
//
// It is a collective call: it waits for all processes to call it, and fails with ErrCollectiveMismatch if
// they don't agree on spec and globalShape.
func (p *Process) BuildGlobal(local *tensors.Tensor, spec *distributed.ShardingSpec, globalShape shapes.Shape) (
	*distributed.Tensor, error) {
	mesh := p.topology.Mesh()
	if spec == nil || spec.Mesh != mesh {
		return nil, errors.Errorf("%s: BuildGlobal() with %s, which is not over the cluster mesh %s", p, spec, mesh)
	}
	seq := p.numCollectives
	p.numCollectives++
	key := fmt.Sprintf("shape=%s, spec=%s", globalShape, spec)
	if err := p.run.rendezvous(p.ctx, seq, p.Index(), "BuildGlobal", key); err != nil {
		return nil, err
	}

	region, err := distributed.ProcessRegion(mesh, p.Index(), spec, globalShape)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: BuildGlobal()", p)
	}
	if local.DType() != globalShape.DType || !slices.Equal(local.Shape().Dimensions, region.Dims) {
		return nil, errors.Errorf("%s: BuildGlobal() got local data shaped %s, but the process holds the region %s "+
			"of the global shape %s", p, local.Shape(), region, globalShape)
	}

	devices := p.topology.AddressableDevices()
	shardShape := spec.ShardShape(globalShape)
	shards := make([]*tensors.Tensor, len(devices))
	err = p.run.cluster.pool.Run(len(devices), func(i int) error {
		deviceRegion, err := spec.DeviceRegion(devices[i], globalShape)
		if err != nil {
			return err
		}
		shard := tensors.FromShape(shardShape)
		err = tensors.CopyRegion(shard, make([]int, shard.Rank()), local, deviceRegion.Offset(region), deviceRegion.Dims)
		if err != nil {
			return errors.WithMessagef(err, "copying shard of device #%d", devices[i])
		}
		shards[i] = shard
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: BuildGlobal()", p)
	}
	shardsMap := make(map[int]*tensors.Tensor, len(devices))
	for i, device := range devices {
		shardsMap[device] = shards[i]
	}
	if klog.V(2).Enabled() {
		klog.Infof("%s: built global %s from local %s, %d shards of %s each", p, globalShape, local.Shape(),
			len(devices), humanize.Bytes(uint64(shardShape.Memory())))
	}
	return distributed.New(spec, globalShape, shardsMap)
}

// LocalShards implements distributed.Engine.
func (p *Process) LocalShards(t *distributed.Tensor) ([]distributed.Shard, error) {
	if t.Mesh() != p.topology.Mesh() {
		return nil, errors.Errorf("%s: LocalShards() of %s, which is not over the cluster mesh", p, t)
	}
	devices := p.topology.AddressableDevices()
	shards := make([]distributed.Shard, 0, len(devices))
	for _, device := range devices {
		data := t.Shard(device)
		if data == nil {
			return nil, errors.Errorf("%s: LocalShards() of %s: missing shard of addressable device #%d",
				p, t, device)
		}
		region, err := t.ShardingSpec().DeviceRegion(device, t.Shape())
		if err != nil {
			return nil, err
		}
		shards = append(shards, distributed.Shard{Device: device, Region: region, Data: data})
	}
	return shards, nil
}
