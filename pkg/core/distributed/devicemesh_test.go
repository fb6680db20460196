// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/hostarray/pkg/core/distributed"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceMesh(t *testing.T) {
	t.Run("NewDeviceMesh_Valid", func(t *testing.T) {
		tests := []struct {
			name      string
			shape     []int
			axisNames []string
			wantRank  int
			wantNum   int
		}{
			{name: "1D mesh", shape: []int{8}, axisNames: []string{"replica"}, wantRank: 1, wantNum: 8},
			{name: "2D mesh", shape: []int{2, 4}, axisNames: []string{"x", "y"}, wantRank: 2, wantNum: 8},
			{name: "3D mesh", shape: []int{2, 2, 2}, axisNames: []string{"x", "y", "z"}, wantRank: 3, wantNum: 8},
			{name: "single device", shape: []int{1}, axisNames: []string{"replica"}, wantRank: 1, wantNum: 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mesh, err := distributed.NewDeviceMesh(tt.shape, tt.axisNames)
				require.NoError(t, err)
				assert.Equal(t, tt.wantRank, mesh.Rank())
				assert.Equal(t, tt.wantNum, mesh.NumDevices())
				assert.Equal(t, 1, mesh.NumProcesses())
			})
		}
	})

	t.Run("NewDeviceMesh_Errors", func(t *testing.T) {
		tests := []struct {
			name      string
			shape     []int
			axisNames []string
			wantErr   string
		}{
			{name: "mismatched lengths", shape: []int{2, 4}, axisNames: []string{"x"},
				wantErr: "axesSizes and axesNames must have the same length"},
			{name: "empty shape", shape: []int{}, axisNames: []string{}, wantErr: "axesSizes cannot be empty"},
			{name: "empty axis name", shape: []int{4}, axisNames: []string{""}, wantErr: "is not a valid identifier"},
			{name: "invalid axis name", shape: []int{4}, axisNames: []string{"1x"}, wantErr: "is not a valid identifier"},
			{name: "duplicate axis names", shape: []int{2, 4}, axisNames: []string{"x", "x"},
				wantErr: "axis name \"x\" is duplicated"},
			{name: "zero sized axis", shape: []int{2, 0}, axisNames: []string{"x", "y"},
				wantErr: "must have a positive size"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mesh, err := distributed.NewDeviceMesh(tt.shape, tt.axisNames)
				require.Error(t, err)
				assert.Nil(t, mesh)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})

	t.Run("AxesNamesAndSizes", func(t *testing.T) {
		mesh := must.M1(distributed.NewDeviceMesh([]int{2, 4}, []string{"x", "y"}))
		axesNames := mesh.AxesNames()
		assert.Equal(t, []string{"x", "y"}, axesNames)
		axesNames[0] = "modified"
		assert.Equal(t, []string{"x", "y"}, mesh.AxesNames())

		sizes := mesh.AxesSizes()
		assert.Equal(t, []int{2, 4}, sizes)
		sizes[0] = 99
		assert.Equal(t, []int{2, 4}, mesh.AxesSizes())

		size, err := mesh.AxisSize("y")
		require.NoError(t, err)
		assert.Equal(t, 4, size)
		_, err = mesh.AxisSize("z")
		require.ErrorContains(t, err, "not found")
	})

	t.Run("String", func(t *testing.T) {
		mesh := must.M1(distributed.NewDeviceMesh([]int{2, 4}, []string{"x", "y"}))
		assert.Equal(t, "DeviceMesh(axesSizes={x: 2, y: 4})", mesh.String())
		require.NoError(t, mesh.SetNumProcesses(2))
		assert.Equal(t, "DeviceMesh(axesSizes={x: 2, y: 4}, processes=2)", mesh.String())
	})

	t.Run("SetLogicalDeviceAssignment_Errors", func(t *testing.T) {
		mesh := must.M1(distributed.NewDeviceMesh([]int{4}, []string{"replica"}))
		tests := []struct {
			name    string
			devices []int
			wantErr string
		}{
			{name: "wrong number of devices", devices: []int{0, 1, 2}, wantErr: "devices must have 4 elements"},
			{name: "duplicate device", devices: []int{0, 1, 1, 3}, wantErr: "device #1 is duplicated"},
			{name: "negative device", devices: []int{0, 1, -1, 3}, wantErr: "got device -1"},
			{name: "device too large", devices: []int{0, 1, 2, 8}, wantErr: "got device 8"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := mesh.SetLogicalDeviceAssignment(tt.devices...)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
		assert.Nil(t, mesh.LogicalDeviceAssignment())
	})

	t.Run("DeviceCoordinates", func(t *testing.T) {
		mesh := must.M1(distributed.NewDeviceMesh([]int{2, 2, 2}, []string{"x", "y", "z"}))
		tests := []struct {
			device int
			want   []int
		}{
			{device: 0, want: []int{0, 0, 0}},
			{device: 1, want: []int{0, 0, 1}},
			{device: 2, want: []int{0, 1, 0}},
			{device: 3, want: []int{0, 1, 1}},
			{device: 4, want: []int{1, 0, 0}},
			{device: 7, want: []int{1, 1, 1}},
		}
		for _, tt := range tests {
			t.Run(fmt.Sprintf("device_%d", tt.device), func(t *testing.T) {
				coords, err := mesh.DeviceCoordinates(tt.device)
				require.NoError(t, err)
				assert.Equal(t, tt.want, coords)
			})
		}
		_, err := mesh.DeviceCoordinates(8)
		require.ErrorContains(t, err, "not part of the mesh")
	})

	t.Run("DeviceCoordinates_WithCustomAssignment", func(t *testing.T) {
		mesh := must.M1(distributed.NewDeviceMesh([]int{4}, []string{"replica"}))
		require.NoError(t, mesh.SetLogicalDeviceAssignment(3, 1, 2, 0))
		assert.Equal(t, []int{3, 1, 2, 0}, mesh.LogicalDeviceAssignment())
		for position, device := range []int{3, 1, 2, 0} {
			coords, err := mesh.DeviceCoordinates(device)
			require.NoError(t, err)
			assert.Equal(t, []int{position}, coords)
		}
		require.NoError(t, mesh.SetLogicalDeviceAssignment())
		assert.Nil(t, mesh.LogicalDeviceAssignment())
	})

	t.Run("Processes", func(t *testing.T) {
		mesh := must.M1(distributed.NewDeviceMesh([]int{4, 2}, []string{"data", "model"}))
		require.NoError(t, mesh.SetNumProcesses(4))
		assert.Equal(t, 4, mesh.NumProcesses())
		assert.Equal(t, []int{0, 1}, mesh.ProcessDevices(0))
		assert.Equal(t, []int{6, 7}, mesh.ProcessDevices(3))
		process, err := mesh.DeviceProcess(5)
		require.NoError(t, err)
		assert.Equal(t, 2, process)
		_, err = mesh.DeviceProcess(-1)
		require.Error(t, err)

		require.ErrorContains(t, mesh.SetNumProcesses(3), "must be positive and divide")
		require.Error(t, mesh.SetNumProcesses(0))
		assert.Equal(t, 4, mesh.NumProcesses())

		pm, err := mesh.AtProcess(1)
		require.NoError(t, err)
		assert.Equal(t, 1, pm.ProcessIndex())
		assert.Equal(t, 4, pm.NumProcesses())
		assert.Same(t, mesh, pm.Mesh())
		assert.Equal(t, []int{2, 3}, pm.AddressableDevices())
		_, err = mesh.AtProcess(4)
		require.Error(t, err)

		require.NoError(t, mesh.SetDeviceProcesses(1, 0, 1, 0, 1, 0, 1, 0))
		assert.Equal(t, 2, mesh.NumProcesses())
		assert.Equal(t, []int{1, 3, 5, 7}, mesh.ProcessDevices(0))
		require.ErrorContains(t, mesh.SetDeviceProcesses(0, 0, 2, 2, 0, 0, 0, 0), "must own at least one device")
		require.Error(t, mesh.SetDeviceProcesses(0, 1))
		require.Error(t, mesh.SetDeviceProcesses(0, -1, 0, 0, 0, 0, 0, 0))
	})

	t.Run("ComputeReplicaGroups", func(t *testing.T) {
		mesh2D := must.M1(distributed.NewDeviceMesh([]int{2, 2}, []string{"batch", "data"}))
		mesh3D := must.M1(distributed.NewDeviceMesh([]int{2, 2, 2}, []string{"x", "y", "z"}))
		tests := []struct {
			name string
			mesh *distributed.DeviceMesh
			axes []string
			want [][]int
		}{
			{name: "2D mesh batch groups", mesh: mesh2D, axes: []string{"batch"}, want: [][]int{{0, 2}, {1, 3}}},
			{name: "2D mesh data groups", mesh: mesh2D, axes: []string{"data"}, want: [][]int{{0, 1}, {2, 3}}},
			{name: "2D mesh global groups", mesh: mesh2D, axes: []string{"batch", "data"}, want: [][]int{{0, 1, 2, 3}}},
			{name: "empty axes list", mesh: mesh2D, axes: []string{}, want: [][]int{{0}, {1}, {2}, {3}}},
			{name: "3D mesh single axis", mesh: mesh3D, axes: []string{"x"}, want: [][]int{{0, 4}, {1, 5}, {2, 6}, {3, 7}}},
			{name: "3D mesh two axes", mesh: mesh3D, axes: []string{"x", "y"}, want: [][]int{{0, 2, 4, 6}, {1, 3, 5, 7}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				groups, err := tt.mesh.ComputeReplicaGroups(tt.axes)
				require.NoError(t, err)
				assert.Equal(t, tt.want, groups)
			})
		}

		_, err := mesh2D.ComputeReplicaGroups([]string{"nonexistent"})
		require.Error(t, err)
		_, err = mesh2D.ComputeReplicaGroups([]string{"data", "data"})
		require.ErrorContains(t, err, "duplicated")

		// Groups list device numbers, not mesh positions.
		mesh := must.M1(distributed.NewDeviceMesh([]int{2, 2}, []string{"batch", "data"}))
		require.NoError(t, mesh.SetLogicalDeviceAssignment(3, 2, 1, 0))
		groups, err := mesh.ComputeReplicaGroups([]string{"batch"})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{3, 1}, {2, 0}}, groups)
	})
}
