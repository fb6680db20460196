// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// ReplaceTilde replaces a leading "~" (or "~user") in path by the user's home directory.
// Paths not starting with "~" are returned unchanged.
//
// It returns an error if the user is unknown (e.g: `~unknown/...`).
func ReplaceTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", path)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// ResolveExistingFile replaces a leading "~" in path, and returns an error if the resulting file doesn't exist.
func ResolveExistingFile(path string) (string, error) {
	resolved, err := ReplaceTilde(path)
	if err != nil {
		return "", err
	}
	exists, err := FileExists(resolved)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Wrapf(os.ErrNotExist, "file %q", resolved)
	}
	return resolved, nil
}
