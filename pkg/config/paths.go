// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the lens data directory.
//
// Priority:
// 1. LENS_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.lens (default)
//
// The returned path is always absolute. Tilde (~) in LENS_DATA_DIR is
// expanded to the user's home directory; relative paths are made absolute.
func DataDir() string {
	if dataDir := os.Getenv("LENS_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".lens"
	}
	return filepath.Join(homeDir, ".lens")
}

// DataPath returns a path inside the lens data directory.
// Example: DataPath("traces.db") returns ~/.lens/traces.db.
func DataPath(elem ...string) string {
	return filepath.Join(append([]string{DataDir()}, elem...)...)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
