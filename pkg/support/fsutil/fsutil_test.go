// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTilde(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ReplaceTilde("~/configs/check.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "configs/check.yaml"), got)

	got, err = ReplaceTilde("~")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(usr.HomeDir), got)

	got, err = ReplaceTilde("/tmp/~x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/~x", got)

	_, err = ReplaceTilde("~no_such_user_for_fsutil_test/x")
	require.Error(t, err)
}

func TestResolveExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "check.yaml")
	_, err := ResolveExistingFile(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(path, []byte("steps: 1\n"), 0o644))
	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
	got, err := ResolveExistingFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
