package config

import (
	"os"
	"path/filepath"
	"strings"
)

const envWorkspace = "BUILD_WORKSPACE_DIRECTORY"

// ResolveServerPath converts the configured server path
// to an executable path. A Bazel label like //pkg:name
// maps to bazel-bin/pkg/name, relative to workspace when
// it is non-empty. Anything else is returned unchanged.
func ResolveServerPath(path, workspace string) string {
	if !strings.HasPrefix(path, "//") {
		return path
	}

	pa := "bazel-bin/" + path[2:]
	pa = strings.Replace(pa, ":", "/", 1)

	if workspace != "" {
		pa = filepath.Join(workspace, pa)
	}

	return pa
}

// Executable returns the resolved server path for cfg,
// using BUILD_WORKSPACE_DIRECTORY (set by bazel run) as
// the workspace root for labels.
func (cfg Config) Executable() string {
	return ResolveServerPath(
		cfg.ServerPath,
		os.Getenv(envWorkspace),
	)
}
