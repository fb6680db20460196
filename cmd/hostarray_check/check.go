// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/core/distributed/cluster"
	"github.com/gomlx/hostarray/pkg/core/hostarray"
	"github.com/gomlx/hostarray/pkg/core/tensors"
	"github.com/gomlx/hostarray/pkg/support/nest"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Result of a check run.
type Result struct {
	Config       Config
	ClusterID    string
	NumDevices   int
	ProcessBatch int

	// NumLeaves converted back to host per process and step, including the derived "y".
	NumLeaves int

	// HostMemory held by each process per step, and GlobalMemory of the logical global batch.
	HostMemory, GlobalMemory uintptr
	Elapsed                  time.Duration
}

// runCheck runs cfg.Steps round trips of a batch through HostToGlobal and GlobalToHost on a simulated cluster.
//
// At each step every process converts a batch {"x", "features"} to global arrays, derives the global y = 2*x,
// converts {"x", "features", "y"} back, and checks the values it gets. The global x is also reassembled from
// the shards of all processes and compared with the expected global batch.
//
// onStep, if not nil, is called after each successful step.
func runCheck(ctx context.Context, cfg Config, onStep func(step int)) (*Result, error) {
	mesh, err := cfg.DeviceMesh()
	if err != nil {
		return nil, err
	}
	c, err := cluster.New(mesh)
	if err != nil {
		return nil, err
	}
	c.SetMaxParallelism(cfg.Parallelism)
	processBatch, err := distributed.ProcessBatchSize(cfg.Partition, cfg.Batch, cfg.Processes)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Config:       cfg,
		ClusterID:    c.ID(),
		NumDevices:   mesh.NumDevices(),
		ProcessBatch: processBatch,
	}
	start := time.Now()
	for step := range cfg.Steps {
		globalX := make([]*distributed.Tensor, cfg.Processes)
		numLeaves := make([]int, cfg.Processes)
		hostMemory := make([]uintptr, cfg.Processes)
		err := c.Run(ctx, func(ctx context.Context, p *cluster.Process) error {
			idx := p.Index()
			var err error
			globalX[idx], numLeaves[idx], hostMemory[idx], err = checkStep(cfg, p, step, processBatch)
			return err
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d", step)
		}
		assembled, err := distributed.Assemble(globalX...)
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d: assembling global x", step)
		}
		if want := tensors.Iota(int32(step*cfg.Batch), cfg.Batch); !want.Equal(assembled) {
			return nil, errors.Errorf("step %d: global x is %s, wanted %s", step, assembled, want)
		}
		res.NumLeaves, res.HostMemory = numLeaves[0], hostMemory[0]
		klog.V(1).Infof("%s: step %d checked", c, step)
		if onStep != nil {
			onStep(step)
		}
	}
	res.Elapsed = time.Since(start)
	res.GlobalMemory = res.HostMemory
	if cfg.Partition == distributed.PartitionFull {
		res.GlobalMemory *= uintptr(cfg.Processes)
	}
	return res, nil
}

// stepBatch returns the host batch of process idx at step: x is the global row number offset by step*batch,
// and features[row, col] = x[row] + col/1000.
func stepBatch(cfg Config, idx, step, processBatch int) *nest.Nest[*tensors.Tensor] {
	start, _ := cfg.Partition.ProcessRows(idx, cfg.Processes, cfg.Batch)
	x := tensors.Iota(int32(step*cfg.Batch+start), processBatch)
	batch := nest.MapOfValues(map[string]*tensors.Tensor{"x": x})
	if cfg.Features > 0 {
		data := make([]float32, 0, processBatch*cfg.Features)
		for _, value := range tensors.MustCopyFlatData[int32](x) {
			for col := range cfg.Features {
				data = append(data, float32(value)+float32(col)/1000)
			}
		}
		batch.SetValue("features", tensors.FromFlatDataAndDimensions(data, processBatch, cfg.Features))
	}
	return batch
}

func double(_ int, shard *tensors.Tensor) (*tensors.Tensor, error) {
	data, err := tensors.CopyFlatData[int32](shard)
	if err != nil {
		return nil, err
	}
	for ii := range data {
		data[ii] *= 2
	}
	return tensors.FromFlatDataAndDimensions(data, shard.Shape().Dimensions...), nil
}

// checkStep runs one round trip on process p. It returns the global x, and the number of leaves and the memory
// of the batch converted back to host.
func checkStep(cfg Config, p *cluster.Process, step, processBatch int) (
	globalX *distributed.Tensor, numLeaves int, memory uintptr, err error) {
	batch := stepBatch(cfg, p.Index(), step, processBatch)
	conv := hostarray.New(p).
		Partition(cfg.Partition).
		BatchAxes(cfg.BatchAxes...).
		GlobalBatchSize(cfg.Batch)
	globals, err := conv.HostToGlobal(batch)
	if err != nil {
		return
	}
	globalX, err = globals.Leaf("x")
	if err != nil {
		return
	}
	y, err := globalX.MapShards(double)
	if err != nil {
		return
	}
	globals.SetValue("y", y)
	locals, err := conv.GlobalToHost(globals)
	if err != nil {
		return
	}

	x := must.M1(batch.Leaf("x"))
	batch.SetValue("y", must.M1(double(0, x)))
	for _, item := range batch.FlattenItems() {
		var got *tensors.Tensor
		got, err = locals.Leaf(item.Path...)
		if err != nil {
			return
		}
		if !item.Value.Equal(got) {
			err = errors.Errorf("%s: leaf %q after round trip is %s, wanted %s", p, item.Path, got, item.Value)
			return
		}
		numLeaves++
		memory += got.Memory()
	}
	return
}
