// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/core/shapes"
	"github.com/gomlx/hostarray/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion(t *testing.T) {
	a := distributed.Region{Start: []int{0, 2}, Dims: []int{4, 4}}
	b := distributed.Region{Start: []int{2, 0}, Dims: []int{4, 3}}
	inter, ok := a.Intersect(b)
	require.True(t, ok)
	assert.Equal(t, []int{2, 2}, inter.Start)
	assert.Equal(t, []int{2, 1}, inter.Dims)
	assert.Equal(t, []int{2, 0}, inter.Offset(a))
	assert.Equal(t, 2, inter.Size())
	assert.Equal(t, "[2:4 2:3]", inter.String())

	_, ok = a.Intersect(distributed.Region{Start: []int{4, 0}, Dims: []int{1, 10}})
	assert.False(t, ok)

	full := distributed.FullRegion([]int{3, 0})
	assert.True(t, full.IsEmpty())
	assert.True(t, full.Equal(distributed.Region{Start: []int{0, 0}, Dims: []int{3, 0}}))
}

// rowsOf returns a copy of rows [start, end) of x.
func rowsOf(x *tensors.Tensor, start, end int) (*tensors.Tensor, error) {
	rows := tensors.FromShape(x.Shape().WithDim(0, end-start))
	srcStart := make([]int, x.Rank())
	srcStart[0] = start
	if err := tensors.CopyRegion(rows, make([]int, x.Rank()), x, srcStart, rows.Shape().Dimensions); err != nil {
		return nil, err
	}
	return rows, nil
}

// shardRows builds the shards of x sharded along axis 0 with spec, for the given devices.
func shardRows(t *testing.T, spec *distributed.ShardingSpec, x *tensors.Tensor, devices ...int) map[int]*tensors.Tensor {
	t.Helper()
	shards := make(map[int]*tensors.Tensor)
	for _, device := range devices {
		region, err := spec.DeviceRegion(device, x.Shape())
		require.NoError(t, err)
		shard, err := rowsOf(x, region.Start[0], region.End(0))
		require.NoError(t, err)
		shards[device] = shard
	}
	return shards
}

func TestTensor(t *testing.T) {
	mesh := must.M1(distributed.NewDeviceMesh([]int{2, 2}, []string{"data", "model"}))
	require.NoError(t, mesh.SetNumProcesses(2))
	x := tensors.FromValue([][]int32{{0, 1}, {2, 3}, {4, 5}, {6, 7}})

	t.Run("New", func(t *testing.T) {
		spec := must.M1(distributed.BuildSpec(mesh).S("data").Done())
		dt, err := distributed.New(spec, x.Shape(), shardRows(t, spec, x, 0, 1))
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, dt.Devices())
		assert.Equal(t, []int{2, 2}, dt.ShardShape().Dimensions)
		assert.True(t, x.Shape().Equal(dt.Shape()))
		assert.Same(t, mesh, dt.Mesh())
		assert.Nil(t, dt.Shard(3))
		assert.Len(t, dt.Shards(), 2)

		_, err = distributed.New(spec, x.Shape(), map[int]*tensors.Tensor{0: x})
		require.ErrorContains(t, err, "requires")
		_, err = distributed.New(spec, x.Shape(), nil)
		require.Error(t, err)
		_, err = distributed.New(spec, shapes.Make(dtypes.Int32, 3, 2), shardRows(t, spec, x, 0))
		require.Error(t, err)
	})

	t.Run("Assemble", func(t *testing.T) {
		spec := must.M1(distributed.BuildSpec(mesh).S("data").Done())
		h0 := must.M1(distributed.New(spec, x.Shape(), shardRows(t, spec, x, 0, 1)))
		h1 := must.M1(distributed.New(spec, x.Shape(), shardRows(t, spec, x, 2, 3)))
		assembled, err := distributed.Assemble(h0, h1)
		require.NoError(t, err)
		assert.True(t, x.Equal(assembled))

		// One replica of each region is enough.
		partial := must.M1(distributed.New(spec, x.Shape(), shardRows(t, spec, x, 1, 2)))
		assembled, err = distributed.Assemble(partial)
		require.NoError(t, err)
		assert.True(t, x.Equal(assembled))

		_, err = distributed.Assemble(h0)
		require.ErrorContains(t, err, "no shard given")

		// Replicas that disagree.
		shards := shardRows(t, spec, x, 0, 1)
		shards[1] = tensors.FromValue([][]int32{{9, 9}, {9, 9}})
		bad := must.M1(distributed.New(spec, x.Shape(), shards))
		_, err = distributed.Assemble(bad, h1)
		require.ErrorContains(t, err, "differ")
	})

	t.Run("MapShards", func(t *testing.T) {
		spec := must.M1(distributed.BuildSpec(mesh).S("data", "model").Done())
		dt := must.M1(distributed.New(spec, x.Shape(), shardRows(t, spec, x, 0, 1, 2, 3)))
		doubled, err := dt.MapShards(func(_ int, shard *tensors.Tensor) (*tensors.Tensor, error) {
			flat := must.M1(tensors.CopyFlatData[int32](shard))
			for ii := range flat {
				flat[ii] *= 2
			}
			return tensors.FromFlatDataAndDimensions(flat, shard.Shape().Dimensions...), nil
		})
		require.NoError(t, err)
		assembled := must.M1(distributed.Assemble(doubled))
		assert.Equal(t, [][]int32{{0, 2}, {4, 6}, {8, 10}, {12, 14}}, assembled.Value())

		// Shards reduced to one row each: the logical shape follows.
		spec = must.M1(distributed.BuildSpec(mesh).S("data").Done())
		dt = must.M1(distributed.New(spec, x.Shape(), shardRows(t, spec, x, 0, 1, 2, 3)))
		firstRows, err := dt.MapShards(func(_ int, shard *tensors.Tensor) (*tensors.Tensor, error) {
			return rowsOf(shard, 0, 1)
		})
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, firstRows.Shape().Dimensions)
		assert.Equal(t, [][]int32{{0, 1}, {4, 5}}, must.M1(distributed.Assemble(firstRows)).Value())
	})

	t.Run("ProcessRegion", func(t *testing.T) {
		shape := shapes.Make(dtypes.Float32, 8, 3)
		spec := must.M1(distributed.PartitionFull.ShardingSpec(mesh, 2))
		region, err := distributed.ProcessRegion(mesh, 1, spec, shape)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 0}, region.Start)
		assert.Equal(t, []int{4, 3}, region.Dims)

		spec = must.M1(distributed.PartitionReplicated.ShardingSpec(mesh, 2))
		region, err = distributed.ProcessRegion(mesh, 1, spec, shape)
		require.NoError(t, err)
		assert.True(t, region.Equal(distributed.FullRegion([]int{8, 3})))

		// Process owning devices 0 and 3: rows [0,2) and [6,8) don't form a box.
		other := must.M1(distributed.NewDeviceMesh([]int{2, 2}, []string{"data", "model"}))
		require.NoError(t, other.SetDeviceProcesses(0, 1, 1, 0))
		spec = must.M1(distributed.PartitionFull.ShardingSpec(other, 2))
		_, err = distributed.ProcessRegion(other, 0, spec, shape)
		require.ErrorContains(t, err, "contiguous")
	})
}
