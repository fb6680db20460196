// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrIndivisible is matched (with errors.Is) by every *IndivisibleError.
var ErrIndivisible = errors.New("global batch size is not divisible")

// IndivisibleError is returned when the global batch size can't be evenly split among the processes,
// or among the batch shards of the device mesh.
type IndivisibleError struct {
	GlobalBatchSize int
	NumProcesses    int

	// NumShards is the number of batch shards of the mesh, if that was the failing constraint. Otherwise, 0.
	NumShards int
}

// Error implements error.
func (e *IndivisibleError) Error() string {
	if e.NumShards > 0 {
		return fmt.Sprintf("global batch size %d is not divisible by the %d batch shards of the device mesh",
			e.GlobalBatchSize, e.NumShards)
	}
	return fmt.Sprintf("global batch size %d is not divisible by the number of processes %d",
		e.GlobalBatchSize, e.NumProcesses)
}

// Is implements the interface used by errors.Is.
func (e *IndivisibleError) Is(target error) bool {
	return target == ErrIndivisible
}
