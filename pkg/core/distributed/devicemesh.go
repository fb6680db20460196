// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/hostarray/pkg/support/sets"
	"github.com/pkg/errors"
)

// DeviceMesh defines the logical topology of a set of devices, and which worker process owns each device.
//
// Devices are numbered from 0 to NumDevices()-1. By default, they are laid out in the mesh in row-major order
// (the last axis changing fastest), which can be changed with SetLogicalDeviceAssignment.
// By default, all devices are owned by one process, which can be changed with SetNumProcesses or
// SetDeviceProcesses.
type DeviceMesh struct {
	name string

	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of devices along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// numDevices is the total number of devices in the mesh.
	numDevices int

	// logicalDeviceAssignment is the list of devices numbers in the mesh, in the order they appear in the mesh.
	// If nil, the assignment is sequential.
	logicalDeviceAssignment []int

	// deviceProcesses maps each device number to the index of the process that owns it.
	deviceProcesses []int
	numProcesses    int
}

const DefaultMeshName = "mesh"

// IsNameValid checks whether a name is a valid identifier for a mesh name or axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewDeviceMesh creates a new logical topology of a set of devices.
//
//   - axesSizes: defines the number of devices along each mesh axis, one value per axis.
//   - axesNames: the names of the mesh axes. One value per axis. They must be valid identifiers (see IsNameValid).
//
// The mesh starts owned by a single process. Use SetNumProcesses to distribute the devices among
// worker processes.
//
// A DeviceMesh can also be assigned a name, but because there is usually only one mesh, it's set to the default
// name "mesh" (DefaultMeshName).
func NewDeviceMesh(axesSizes []int, axesNames []string) (*DeviceMesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("DeviceMesh axesSizes cannot be empty")
	}

	axesNames = slices.Clone(axesNames)
	for i, axisName := range axesNames {
		if !IsNameValid(axesNames[i]) {
			return nil, errors.Errorf(
				"DeviceMesh axis name %q at index %d is not a valid identifier, it must start with a ASCII letter "+
					"and be followed only by letters, numbers or underscore", axisName, i)
		}
	}

	numDevices := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("DeviceMesh axis name %q is duplicated", name)
		}
		if axesSizes[i] <= 0 {
			return nil, errors.Errorf("DeviceMesh axis %q must have a positive size, got %d", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numDevices *= axesSizes[i]
	}

	m := &DeviceMesh{
		name:            DefaultMeshName,
		axesNames:       axesNames,
		axesSizes:       slices.Clone(axesSizes),
		nameToAxis:      nameToAxis,
		numDevices:      numDevices,
		deviceProcesses: make([]int, numDevices),
		numProcesses:    1,
	}
	return m, nil
}

// SetName of the mesh.
func (m *DeviceMesh) SetName(name string) {
	m.name = name
}

// Name returns the mesh name.
func (m *DeviceMesh) Name() string {
	return m.name
}

// NumDevices returns the total number of devices in the mesh.
func (m *DeviceMesh) NumDevices() int {
	return m.numDevices
}

// Rank returns the number of axes in the mesh.
func (m *DeviceMesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *DeviceMesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axesSizes.
func (m *DeviceMesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// AxisSize returns the number of devices along the given mesh axis.
func (m *DeviceMesh) AxisSize(axisName string) (int, error) {
	idx, found := m.nameToAxis[axisName]
	if !found {
		return 0, errors.Errorf("mesh axis %q not found", axisName)
	}
	return m.axesSizes[idx], nil
}

// String implements the fmt.Stringer interface.
func (m *DeviceMesh) String() string {
	var sb strings.Builder
	sb.WriteString("DeviceMesh(axesSizes={")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString("}")
	if m.numProcesses > 1 {
		_, _ = fmt.Fprintf(&sb, ", processes=%d", m.numProcesses)
	}
	sb.WriteString(")")
	return sb.String()
}

// SetLogicalDeviceAssignment sets the assignment of devices to the positions of the mesh.
//
// The length of devices must be equal to NumDevices(). And it should include all numbers from 0 to NumDevices()-1.
// Calling it with no devices resets the assignment to sequential.
//
// It returns an error if devices has invalid device numbers or len(devices) != NumDevices().
func (m *DeviceMesh) SetLogicalDeviceAssignment(devices ...int) error {
	if len(devices) == 0 {
		m.logicalDeviceAssignment = nil
		return nil
	}
	if len(devices) != m.numDevices {
		return errors.Errorf("devices must have %d elements, got %d", m.numDevices, len(devices))
	}
	seen := sets.Make[int](m.numDevices)
	for _, device := range devices {
		if seen.Has(device) {
			return errors.Errorf("device #%d is duplicated in mapping", device)
		}
		seen.Insert(device)
		if device < 0 || device >= m.numDevices {
			return errors.Errorf("devices must be between 0 and %d (NumDevices()-1), got device %d",
				m.numDevices-1, device)
		}
	}
	m.logicalDeviceAssignment = slices.Clone(devices)
	return nil
}

// LogicalDeviceAssignment returns the list of devices in the mesh, in the order they appear in the mesh.
//
// It can return nil if no assignment was set with SetLogicalDeviceAssignment(), in which case it will
// default to a sequential assignment starting from 0.
func (m *DeviceMesh) LogicalDeviceAssignment() []int {
	if m.logicalDeviceAssignment == nil {
		return nil
	}
	return slices.Clone(m.logicalDeviceAssignment)
}

// deviceAt returns the device at the flat (row-major) mesh position.
func (m *DeviceMesh) deviceAt(flatIdx int) int {
	if m.logicalDeviceAssignment == nil {
		return flatIdx
	}
	return m.logicalDeviceAssignment[flatIdx]
}

// DeviceCoordinates returns the coordinates of the device in the mesh, one per mesh axis.
func (m *DeviceMesh) DeviceCoordinates(device int) ([]int, error) {
	if device < 0 || device >= m.numDevices {
		return nil, errors.Errorf("device #%d is not part of the mesh %s", device, m)
	}
	flatIdx := device
	if m.logicalDeviceAssignment != nil {
		flatIdx = slices.Index(m.logicalDeviceAssignment, device)
	}
	coords := make([]int, len(m.axesSizes))
	for axis := len(m.axesSizes) - 1; axis >= 0; axis-- {
		coords[axis] = flatIdx % m.axesSizes[axis]
		flatIdx /= m.axesSizes[axis]
	}
	return coords, nil
}

// SetNumProcesses distributes the devices among numProcesses worker processes: each process owns a contiguous
// block of NumDevices()/numProcesses device numbers, process 0 owning the first block.
//
// numProcesses must divide NumDevices().
func (m *DeviceMesh) SetNumProcesses(numProcesses int) error {
	if numProcesses <= 0 || m.numDevices%numProcesses != 0 {
		return errors.Errorf("number of processes (%d) must be positive and divide the number of devices (%d) of %s",
			numProcesses, m.numDevices, m)
	}
	devicesPerProcess := m.numDevices / numProcesses
	for device := range m.deviceProcesses {
		m.deviceProcesses[device] = device / devicesPerProcess
	}
	m.numProcesses = numProcesses
	return nil
}

// SetDeviceProcesses sets the owner process of each device: owners[device] is the process index owning device.
//
// Process indices must be in the range [0, numProcesses) and every process must own at least one device,
// where numProcesses is max(owners)+1.
func (m *DeviceMesh) SetDeviceProcesses(owners ...int) error {
	if len(owners) != m.numDevices {
		return errors.Errorf("owners must have %d elements (one per device), got %d", m.numDevices, len(owners))
	}
	numProcesses := slices.Max(owners) + 1
	used := sets.Make[int](numProcesses)
	for device, process := range owners {
		if process < 0 {
			return errors.Errorf("device #%d assigned to invalid process %d", device, process)
		}
		used.Insert(process)
	}
	if len(used) != numProcesses {
		return errors.Errorf("every process in [0, %d) must own at least one device, got owners=%v",
			numProcesses, owners)
	}
	m.deviceProcesses = slices.Clone(owners)
	m.numProcesses = numProcesses
	return nil
}

// NumProcesses returns the number of worker processes sharing the mesh.
func (m *DeviceMesh) NumProcesses() int {
	return m.numProcesses
}

// DeviceProcess returns the index of the process owning the device.
func (m *DeviceMesh) DeviceProcess(device int) (int, error) {
	if device < 0 || device >= m.numDevices {
		return 0, errors.Errorf("device #%d is not part of the mesh %s", device, m)
	}
	return m.deviceProcesses[device], nil
}

// ProcessDevices returns the devices owned (addressable) by the process, in increasing order.
func (m *DeviceMesh) ProcessDevices(process int) []int {
	var devices []int
	for device, owner := range m.deviceProcesses {
		if owner == process {
			devices = append(devices, device)
		}
	}
	return devices
}

// AtProcess returns the view of the mesh from the given worker process.
func (m *DeviceMesh) AtProcess(process int) (*ProcessMesh, error) {
	if process < 0 || process >= m.numProcesses {
		return nil, errors.Errorf("process index %d out of range for %s", process, m)
	}
	return &ProcessMesh{DeviceMesh: m, processIndex: process}, nil
}

// ComputeReplicaGroups returns the groups of devices along the given mesh axes: the devices in each group differ
// only in their coordinates on the given axes, and the other axes are split into different groups.
//
// Each replica group (a []int) lists device numbers, taking into account the LogicalDeviceAssignment.
//
// Example:
//
//		m := NewDeviceMesh([]int{2, 2}, []string{"batch", "data"})
//		batchGroups, _ := m.ComputeReplicaGroups([]string{"batch"})  // -> [][]int{{0, 2}, {1, 3}}
//		dataGroups, _ := m.ComputeReplicaGroups([]string{"data"})    // -> [][]int{{0, 1}, {2, 3}}
//	 globalGroups, _ := m.ComputeReplicaGroups([]string{"batch", "data"})  // -> [][]int{{0, 1, 2, 3}}
func (m *DeviceMesh) ComputeReplicaGroups(axes []string) ([][]int, error) {
	axisIndices := make([]int, 0, len(axes))
	axisSet := sets.Make[int](len(axes))
	for _, axis := range axes {
		idx, found := m.nameToAxis[axis]
		if !found {
			return nil, errors.Errorf("axis %q not found in mesh", axis)
		}
		if axisSet.Has(idx) {
			return nil, errors.Errorf("axis %q is duplicated: each axis can only appear once", axis)
		}
		axisIndices = append(axisIndices, idx)
		axisSet.Insert(idx)
	}
	nonAxisIndices := make([]int, 0, len(m.axesSizes)-len(axisIndices))
	for i := range m.axesSizes {
		if !axisSet.Has(i) {
			nonAxisIndices = append(nonAxisIndices, i)
		}
	}

	groupSize := 1
	for _, idx := range axisIndices {
		groupSize *= m.axesSizes[idx]
	}
	numGroups := m.numDevices / groupSize
	groups := make([][]int, numGroups)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}

	indices := make([]int, len(m.axesSizes))
	for flatIdx := range m.numDevices {
		remaining := flatIdx
		for i := len(m.axesSizes) - 1; i >= 0; i-- {
			indices[i] = remaining % m.axesSizes[i]
			remaining /= m.axesSizes[i]
		}
		groupIdx := 0
		for _, axisIdx := range nonAxisIndices {
			groupIdx = groupIdx*m.axesSizes[axisIdx] + indices[axisIdx]
		}
		posInGroup := 0
		for _, axisIdx := range axisIndices {
			posInGroup = posInGroup*m.axesSizes[axisIdx] + indices[axisIdx]
		}
		groups[groupIdx][posInGroup] = m.deviceAt(flatIdx)
	}
	return groups, nil
}

// Topology is the read-only view of a device mesh from one worker process, as consumed by the converters
// and by the array engines.
type Topology interface {
	// Mesh returns the device mesh shared by all processes.
	Mesh() *DeviceMesh

	// NumProcesses in the cluster.
	NumProcesses() int

	// ProcessIndex of the calling process, in [0, NumProcesses()).
	ProcessIndex() int

	// DeviceProcess returns the index of the process owning the device.
	DeviceProcess(device int) (int, error)
}

// ProcessMesh is a DeviceMesh seen from one of its worker processes. It implements Topology.
type ProcessMesh struct {
	*DeviceMesh
	processIndex int
}

var _ Topology = (*ProcessMesh)(nil)

// Mesh implements Topology.
func (pm *ProcessMesh) Mesh() *DeviceMesh { return pm.DeviceMesh }

// ProcessIndex implements Topology.
func (pm *ProcessMesh) ProcessIndex() int { return pm.processIndex }

// AddressableDevices returns the devices owned by this process.
func (pm *ProcessMesh) AddressableDevices() []int {
	return pm.ProcessDevices(pm.processIndex)
}
