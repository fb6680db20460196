// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// hostarray_check runs round trips of batches between host-local and global arrays on a simulated cluster,
// checks the values every process gets back, and prints a report.
//
// Example:
//
//	hostarray_check -mesh=4,2 -processes=2 -batch=32 -partition=full -features=8 -steps=100
//
// The topology and batch can also be given in a YAML file with -config, with the flags taking precedence:
//
//	mesh: [8, 1]
//	axes: [data, model]
//	processes: 4
//	batch: 16
//	partition: replicated
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/gomlx/hostarray/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	defaults = DefaultConfig()

	flagConfig = flag.String("config", "", "YAML file with the configuration of the check. "+
		"Flags explicitly set take precedence over it.")
	flagMesh = xslices.Flag(nil, "mesh", defaults.Mesh,
		"Comma-separated sizes of the axes of the device mesh.", strconv.Atoi)
	flagAxes = xslices.Flag(nil, "axes", defaults.Axes,
		"Comma-separated names of the axes of the device mesh.", parseString)
	flagProcesses = flag.Int("processes", defaults.Processes,
		"Number of worker processes. Each owns a contiguous block of the devices of the mesh.")
	flagBatch     = flag.Int("batch", defaults.Batch, "Global batch size.")
	flagPartition = defaults.Partition
	flagBatchAxes = xslices.Flag(nil, "batch_axes", defaults.BatchAxes,
		"Comma-separated mesh axes the batch is sharded over with -partition=full. Defaults to all axes.",
		parseString)
	flagFeatures = flag.Int("features", defaults.Features,
		"If > 0, adds a float32 leaf shaped (batch, features) to the batch.")
	flagSteps       = flag.Int("steps", defaults.Steps, "Number of round trips to run.")
	flagParallelism = flag.Int("parallelism", defaults.Parallelism,
		"Number of shards copied in parallel by each process: 0 for sequential, -1 for unlimited.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar.")
)

func init() {
	flag.TextVar(&flagPartition, "partition", defaults.Partition,
		fmt.Sprintf("Partition policy of the batch, one of %s.", strings.Join(distributed.PartitionPolicyStrings(), ", ")))
}

func parseString(s string) (string, error) { return s, nil }

// configFromFlags returns the default config, overwritten by the -config file, overwritten by the flags
// explicitly set.
func configFromFlags(flagSet *flag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	if *flagConfig != "" {
		if err := cfg.Load(*flagConfig); err != nil {
			return cfg, err
		}
	}
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mesh":
			cfg.Mesh = *flagMesh
		case "axes":
			cfg.Axes = *flagAxes
		case "processes":
			cfg.Processes = *flagProcesses
		case "batch":
			cfg.Batch = *flagBatch
		case "partition":
			cfg.Partition = flagPartition
		case "batch_axes":
			cfg.BatchAxes = *flagBatchAxes
		case "features":
			cfg.Features = *flagFeatures
		case "steps":
			cfg.Steps = *flagSteps
		case "parallelism":
			cfg.Parallelism = *flagParallelism
		}
	})
	return cfg, cfg.Validate()
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'hostarray_check -help'.", flag.Args())
		os.Exit(1)
	}
	cfg := must.M1(configFromFlags(flag.CommandLine))

	var onStep func(step int)
	var pBar *progress
	if *flagProgress {
		pBar = newProgress(cfg.Steps)
		onStep = pBar.onStep
	}
	res, err := runCheck(context.Background(), cfg, onStep)
	if pBar != nil {
		pBar.done()
	}
	if err != nil {
		klog.Errorf("Round trip check failed: %+v", err)
		os.Exit(1)
	}
	fmt.Println(report(res))
}
