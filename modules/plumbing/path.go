// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"regexp"
	"strings"
)

const (
	// RemovedSuffix marks a soft-deleted project or repository directory.
	// Names carrying it are reserved and never valid live entities.
	RemovedSuffix = ".removed"
)

var nameRe = regexp.MustCompile(`^[0-9A-Za-z](?:[-+_0-9A-Za-z.]*[0-9A-Za-z])?$`)

// ValidateName reports whether name is acceptable for a project or
// repository.
func ValidateName(name string) bool {
	if strings.HasSuffix(name, RemovedSuffix) {
		return false
	}
	return nameRe.MatchString(name)
}

// SplitPath normalizes an entry path. The path must be absolute and must
// not contain "." or ".." segments; a trailing "/" denotes a directory.
// It returns the canonical path (no trailing slash except for "/"), the
// non-empty segments, and whether the caller asked for a directory.
func SplitPath(path string) (string, []string, bool, error) {
	if len(path) == 0 || path[0] != '/' {
		return "", nil, false, NewErrBadRequest("path must be absolute: %q", path)
	}
	isDir := strings.HasSuffix(path, "/")
	raw := strings.Split(path, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		switch s {
		case "":
			continue
		case ".", "..":
			return "", nil, false, NewErrBadRequest("path must not traverse: %q", path)
		}
		segments = append(segments, s)
	}
	canonical := "/" + strings.Join(segments, "/")
	if canonical == "/" {
		isDir = true
	}
	return canonical, segments, isDir, nil
}

// ParentDirs yields every ancestor directory of a canonical path, outermost
// first, excluding the root.
func ParentDirs(canonical string) []string {
	var dirs []string
	for i := 1; i < len(canonical); i++ {
		if canonical[i] == '/' {
			dirs = append(dirs, canonical[:i])
		}
	}
	return dirs
}
