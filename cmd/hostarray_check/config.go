// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"os"
	"runtime"

	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of a check: the topology of the simulated cluster and the batch converted at each step.
//
// It can be loaded from a YAML file, and individual fields overridden by flags.
type Config struct {
	Mesh      []int    `yaml:"mesh"`
	Axes      []string `yaml:"axes"`
	Processes int      `yaml:"processes"`

	// Batch is the global batch size.
	Batch     int                         `yaml:"batch"`
	Partition distributed.PartitionPolicy `yaml:"partition"`
	BatchAxes []string                    `yaml:"batch_axes"`

	// Features, if > 0, adds a (batch, features) float32 leaf to the batch.
	Features int `yaml:"features"`
	Steps    int `yaml:"steps"`

	// Parallelism of the shard copies within each process: 0 for sequential, -1 for unlimited.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig is a 4x1 mesh with 4 processes, converting a global batch of 16 with PartitionFull.
func DefaultConfig() Config {
	return Config{
		Mesh:        []int{4, 1},
		Axes:        []string{"data", "model"},
		Processes:   4,
		Batch:       16,
		Partition:   distributed.PartitionFull,
		Steps:       1,
		Parallelism: runtime.NumCPU(),
	}
}

// Decode YAML from r into the config. Fields not present are left unchanged, unknown fields are an error.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decoding YAML config")
	}
	return nil
}

// Load the YAML config file at path into the config. A leading "~" in path is replaced by the home directory.
// See Decode.
func (c *Config) Load(path string) error {
	path, err := fsutil.ResolveExistingFile(path)
	if err != nil {
		return errors.WithMessage(err, "loading config")
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening config file %q", path)
	}
	defer func() { _ = f.Close() }()
	return errors.WithMessagef(c.Decode(f), "config file %q", path)
}

// Validate returns an error if the config can't describe a check.
// Whether the topology and batch are compatible is only found out when running it.
func (c *Config) Validate() error {
	if len(c.Mesh) != len(c.Axes) {
		return errors.Errorf("mesh %v has %d axes, but %d axes names were given (%v)",
			c.Mesh, len(c.Mesh), len(c.Axes), c.Axes)
	}
	if c.Processes < 1 || c.Batch < 1 || c.Steps < 1 {
		return errors.Errorf("processes (%d), batch (%d) and steps (%d) must be positive",
			c.Processes, c.Batch, c.Steps)
	}
	if c.Features < 0 {
		return errors.Errorf("features must be >= 0, got %d", c.Features)
	}
	if !c.Partition.IsAPartitionPolicy() {
		return errors.Errorf("invalid partition %s", c.Partition)
	}
	return nil
}

// DeviceMesh creates the device mesh described by the config, with its devices split among the processes.
func (c *Config) DeviceMesh() (*distributed.DeviceMesh, error) {
	mesh, err := distributed.NewDeviceMesh(c.Mesh, c.Axes)
	if err != nil {
		return nil, err
	}
	if err := mesh.SetNumProcesses(c.Processes); err != nil {
		return nil, err
	}
	return mesh, nil
}
