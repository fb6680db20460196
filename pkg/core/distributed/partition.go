// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"slices"

	"github.com/pkg/errors"
)

// PartitionPolicy is an enumeration of how a global batch is partitioned among the worker processes,
// along its leading (batch) axis.
//
// The same policy must be used by every process for a given conversion.
type PartitionPolicy int

//go:generate go tool enumer -type PartitionPolicy -trimprefix=Partition -transform=lower -text -output=gen_partitionpolicy_enumer.go partition.go

const (
	// PartitionFull is the default policy: each process holds a disjoint contiguous shard of the global batch.
	// Process p holds the rows [p*processBatch, (p+1)*processBatch), with processBatch = global/numProcesses.
	PartitionFull PartitionPolicy = iota

	// PartitionReplicated means every process holds the whole global batch.
	PartitionReplicated
)

// ValidatePartition checks that a global batch of globalBatchSize rows can be partitioned among numProcesses
// with the given policy.
//
// For PartitionFull the global batch size must be divisible by the number of processes, otherwise it returns
// an *IndivisibleError. PartitionReplicated imposes no constraint.
func ValidatePartition(policy PartitionPolicy, globalBatchSize, numProcesses int) error {
	if globalBatchSize <= 0 || numProcesses <= 0 {
		return errors.Errorf("ValidatePartition(%s): global batch size (%d) and number of processes (%d) must be positive",
			policy, globalBatchSize, numProcesses)
	}
	switch policy {
	case PartitionFull:
		if globalBatchSize%numProcesses != 0 {
			return errors.WithStack(&IndivisibleError{GlobalBatchSize: globalBatchSize, NumProcesses: numProcesses})
		}
		return nil
	case PartitionReplicated:
		return nil
	default:
		return errors.Errorf("unknown partition policy %s", policy)
	}
}

// ProcessBatchSize returns the number of rows of the global batch held by each process.
func ProcessBatchSize(policy PartitionPolicy, globalBatchSize, numProcesses int) (int, error) {
	if err := ValidatePartition(policy, globalBatchSize, numProcesses); err != nil {
		return 0, err
	}
	switch policy {
	case PartitionFull:
		return globalBatchSize / numProcesses, nil
	case PartitionReplicated:
		return globalBatchSize, nil
	default:
		return 0, errors.Errorf("unknown partition policy %s", policy)
	}
}

// GlobalBatchSize returns the size of the global batch given the number of rows held by each process.
func GlobalBatchSize(policy PartitionPolicy, processBatchSize, numProcesses int) int {
	switch policy {
	case PartitionFull:
		return processBatchSize * numProcesses
	case PartitionReplicated:
		return processBatchSize
	default:
		return 0
	}
}

// ProcessRows returns the range of rows [start, end) of the global batch held by the process.
// It assumes the partition was validated.
func (p PartitionPolicy) ProcessRows(processIndex, numProcesses, globalBatchSize int) (start, end int) {
	switch p {
	case PartitionFull:
		processBatch := globalBatchSize / numProcesses
		return processIndex * processBatch, (processIndex + 1) * processBatch
	case PartitionReplicated:
		return 0, globalBatchSize
	default:
		return 0, 0
	}
}

// ShardingSpec returns the sharding of a global array of the given rank partitioned with this policy over mesh.
//
// For PartitionFull the leading axis is sharded over batchAxes, or over all the mesh axes (in mesh order) if
// none are given. The remaining axes are replicated.
// For PartitionReplicated the array is replicated on every device.
func (p PartitionPolicy) ShardingSpec(mesh *DeviceMesh, rank int, batchAxes ...string) (*ShardingSpec, error) {
	switch p {
	case PartitionFull:
		if rank < 1 {
			return nil, errors.Errorf("partition %s requires a leading batch axis, got rank %d", p, rank)
		}
		if len(batchAxes) == 0 {
			batchAxes = mesh.AxesNames()
		}
		axes := make([]AxisSpec, rank)
		axes[0] = slices.Clone(batchAxes)
		return NewShardingSpec(mesh, axes...)
	case PartitionReplicated:
		return NewShardingSpec(mesh, make([]AxisSpec, rank)...)
	default:
		return nil, errors.Errorf("unknown partition policy %s", p)
	}
}
