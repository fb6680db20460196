// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_Run(t *testing.T) {
	for _, parallelism := range []int{-1, 0, 1, 3} {
		pool := New()
		pool.SetMaxParallelism(parallelism)
		assert.Equal(t, parallelism, pool.MaxParallelism())

		var running, maxRunning atomic.Int32
		var sum atomic.Int64
		err := pool.Run(20, func(i int) error {
			current := running.Add(1)
			for {
				previous := maxRunning.Load()
				if current <= previous || maxRunning.CompareAndSwap(previous, current) {
					break
				}
			}
			runtime.Gosched()
			sum.Add(int64(i))
			running.Add(-1)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(190), sum.Load())
		if parallelism >= 1 {
			assert.LessOrEqual(t, int(maxRunning.Load()), parallelism)
		}
		if parallelism == 0 {
			assert.Equal(t, int32(1), maxRunning.Load())
		}
	}
}

func TestPool_RunErrors(t *testing.T) {
	pool := New()
	err := pool.Run(10, func(i int) error {
		if i == 7 || i == 3 {
			return errors.Errorf("task %d failed", i)
		}
		return nil
	})
	require.ErrorContains(t, err, "task 3 failed")
	require.NoError(t, pool.Run(0, func(int) error { return errors.New("never called") }))
}
