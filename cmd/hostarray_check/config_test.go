// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/core/hostarray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDecode(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Decode(strings.NewReader(`
mesh: [2, 2, 2]
axes: [data, model, pipeline]
partition: replicated
batch_axes: [data]
`)))
	assert.Equal(t, []int{2, 2, 2}, cfg.Mesh)
	assert.Equal(t, []string{"data", "model", "pipeline"}, cfg.Axes)
	assert.Equal(t, distributed.PartitionReplicated, cfg.Partition)
	assert.Equal(t, []string{"data"}, cfg.BatchAxes)
	// Not present: unchanged.
	assert.Equal(t, 4, cfg.Processes)
	assert.Equal(t, 16, cfg.Batch)
	require.NoError(t, cfg.Validate())

	// Empty document.
	require.NoError(t, cfg.Decode(strings.NewReader("")))

	require.Error(t, cfg.Decode(strings.NewReader("partition: sideways\n")))
	require.Error(t, cfg.Decode(strings.NewReader("meshes: [1]\n")), "unknown fields must fail")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Axes = []string{"data"}
	require.ErrorContains(t, cfg.Validate(), "axes names")

	cfg = DefaultConfig()
	cfg.Steps = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Partition = distributed.PartitionPolicy(7)
	require.Error(t, cfg.Validate())
}

func TestConfigFromFlags(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "check.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("processes: 2\nbatch: 8\nsteps: 3\n"), 0o644))

	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	flagSet.Int("batch", 0, "")
	require.NoError(t, flagSet.Parse([]string{"-batch=32"}))
	*flagConfig = configPath
	*flagBatch = 32
	defer func() {
		*flagConfig = ""
		*flagBatch = defaults.Batch
	}()

	cfg, err := configFromFlags(flagSet)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Processes)
	assert.Equal(t, 3, cfg.Steps)
	assert.Equal(t, 32, cfg.Batch, "flags explicitly set take precedence over the config file")

	*flagConfig = configPath + ".missing"
	_, err = configFromFlags(flagSet)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunCheck(t *testing.T) {
	for _, policy := range distributed.PartitionPolicyValues() {
		t.Run(policy.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mesh = []int{2, 2}
			cfg.Processes = 2
			cfg.Batch = 8
			cfg.Partition = policy
			cfg.Features = 3
			cfg.Steps = 3
			var steps []int
			res, err := runCheck(context.Background(), cfg, func(step int) { steps = append(steps, step) })
			require.NoError(t, err)
			assert.Equal(t, []int{0, 1, 2}, steps)
			assert.Equal(t, 4, res.NumDevices)
			assert.Equal(t, 3, res.NumLeaves)
			if policy == distributed.PartitionFull {
				assert.Equal(t, 4, res.ProcessBatch)
				assert.Equal(t, 2*res.HostMemory, res.GlobalMemory)
			} else {
				assert.Equal(t, 8, res.ProcessBatch)
				assert.Equal(t, res.HostMemory, res.GlobalMemory)
			}
			// x and y are int32, features are 3 float32 per row.
			assert.Equal(t, uintptr(res.ProcessBatch*(4+4+3*4)), res.HostMemory)
			out := report(res)
			assert.Contains(t, out, policy.String())
			assert.Contains(t, out, res.ClusterID)
		})
	}
}

func TestRunCheckFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch = 6 // Not divisible by the 4 processes.
	_, err := runCheck(context.Background(), cfg, nil)
	require.ErrorIs(t, err, hostarray.ErrIndivisible)

	cfg = DefaultConfig()
	cfg.Mesh = []int{2, 2}
	cfg.BatchAxes = []string{"data"}
	_, err = runCheck(context.Background(), cfg, nil)
	require.ErrorIs(t, err, hostarray.ErrPartitionMismatch)

	cfg = DefaultConfig()
	cfg.Processes = 3
	_, err = runCheck(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "divide")
}

func TestReport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mesh = []int{2, 2}
	cfg.Processes = 2
	cfg.Batch = 8
	cfg.BatchAxes = []string{"data"}
	res, err := runCheck(context.Background(), cfg, nil)
	require.NoError(t, err)

	out := report(res)
	for _, want := range []string{"Round trip check passed", "partition", "full", "process batch", "global batch",
		"batch axes", "data", "2 x 2 (data,model)"} {
		assert.Contains(t, out, want)
	}
	lines := strings.Split(out, "\n")
	var processBatchRow string
	for _, line := range lines {
		if strings.Contains(line, "process batch") {
			processBatchRow = line
		}
	}
	assert.Contains(t, processBatchRow, "4", "process batch row: %q", processBatchRow)
}
