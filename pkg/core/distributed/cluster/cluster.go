// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cluster implements an in-process distributed.Engine: a simulated cluster of worker processes,
// each running in its own goroutine and owning a subset of the devices of a DeviceMesh.
//
// Devices are plain host memory: building a global tensor copies the local data of a process into the
// shards of the devices it owns. Engine calls that are collective (BuildGlobal) synchronize all processes,
// and fail if the processes disagree on their arguments, like a real multi-host runtime would.
//
// Example:
//
//	mesh, _ := distributed.NewDeviceMesh([]int{4, 2}, []string{"data", "model"})
//	_ = mesh.SetNumProcesses(4)
//	c, _ := cluster.New(mesh)
//	err := c.Run(ctx, func(ctx context.Context, p *cluster.Process) error {
//		global, err := hostarray.HostToGlobal(p, batch, distributed.PartitionFull)
//		...
//	})
package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hostarray/internal/workerspool"
	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrCollectiveMismatch is returned (wrapped) to every participant of a collective call when the processes
// don't agree on its arguments.
var ErrCollectiveMismatch = errors.New("processes disagree on collective call")

// Cluster of simulated worker processes sharing a DeviceMesh.
type Cluster struct {
	id   string
	mesh *distributed.DeviceMesh
	pool *workerspool.Pool
}

// New creates a Cluster with one worker process per process of the mesh (see DeviceMesh.SetNumProcesses).
//
// The mesh configuration must not be changed afterwards.
func New(mesh *distributed.DeviceMesh) (*Cluster, error) {
	if mesh == nil {
		return nil, errors.New("cluster.New(nil): a DeviceMesh is required")
	}
	c := &Cluster{
		id:   uuid.NewString(),
		mesh: mesh,
		pool: workerspool.New(),
	}
	klog.V(1).Infof("%s: created with %s", c, mesh)
	return c, nil
}

// ID uniquely identifies the cluster in logs.
func (c *Cluster) ID() string { return c.id }

// Mesh returns the device mesh of the cluster.
func (c *Cluster) Mesh() *distributed.DeviceMesh { return c.mesh }

// NumProcesses in the cluster.
func (c *Cluster) NumProcesses() int { return c.mesh.NumProcesses() }

// SetMaxParallelism sets the number of shards copied in parallel by each process.
// Set to 0 to copy shards sequentially, or -1 for no limit. It defaults to the number of CPUs.
//
// It must not be called while the cluster is running.
func (c *Cluster) SetMaxParallelism(maxParallelism int) *Cluster {
	c.pool.SetMaxParallelism(maxParallelism)
	return c
}

// String implements fmt.Stringer.
func (c *Cluster) String() string {
	return fmt.Sprintf("<Cluster id=%s>", c.id)
}

// Run fn concurrently on every worker process, and waits for all of them to finish.
//
// The context passed to fn is cancelled as soon as one process fails (returns an error or panics), which
// interrupts the other processes waiting on collective calls. It returns the first error.
func (c *Cluster) Run(ctx context.Context, fn func(ctx context.Context, p *Process) error) error {
	r := &run{
		cluster:     c,
		collectives: make(map[int]*collective),
	}
	g, gctx := errgroup.WithContext(ctx)
	for idx := range c.NumProcesses() {
		topology, err := c.mesh.AtProcess(idx)
		if err != nil {
			return err
		}
		p := &Process{run: r, ctx: gctx, topology: topology}
		g.Go(func() error {
			var err error
			exception := exceptions.Try(func() {
				err = fn(gctx, p)
			})
			if exception != nil {
				if panicErr, ok := exception.(error); ok {
					err = errors.WithMessage(panicErr, "panic")
				} else {
					err = errors.Errorf("panic: %v", exception)
				}
			}
			if err != nil {
				klog.V(1).Infof("%s: process %d failed: %v", c, idx, err)
				return errors.WithMessagef(err, "%s process %d", c, idx)
			}
			return nil
		})
	}
	return g.Wait()
}

// run holds the state of one Cluster.Run: the pending collective calls, keyed by their sequence number.
type run struct {
	cluster     *Cluster
	mu          sync.Mutex
	collectives map[int]*collective
}

// collective is one collective call: each process describes its arguments with a key, and all keys must match.
type collective struct {
	key          string
	firstProcess int
	arrived      int
	err          error
	done         chan struct{}
}

// rendezvous blocks until all processes have made their collective call number seq, and returns an error wrapping
// ErrCollectiveMismatch if their keys differ.
func (r *run) rendezvous(ctx context.Context, seq, process int, name, key string) error {
	r.mu.Lock()
	c, found := r.collectives[seq]
	if !found {
		c = &collective{key: key, firstProcess: process, done: make(chan struct{})}
		r.collectives[seq] = c
	} else if c.err == nil && c.key != key {
		c.err = errors.Wrapf(ErrCollectiveMismatch, "%s call #%d: process %d called with %s, process %d with %s",
			name, seq, c.firstProcess, c.key, process, key)
	}
	c.arrived++
	if c.arrived == r.cluster.NumProcesses() {
		delete(r.collectives, seq)
		close(c.done)
	}
	r.mu.Unlock()

	// A completed collective takes precedence over a cancellation triggered by another participant's result.
	select {
	case <-c.done:
		return c.err
	default:
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s call #%d interrupted while waiting for the other processes", name, seq)
	}
}
