// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
)

// SystemConfigPath is the system-wide configuration file.
const SystemConfigPath = "/etc/fdtcp/fdtd.yaml"

// SearchPaths lists where Find looks, in order: the working directory,
// the user config directory (XDG_CONFIG_HOME or ~/.config) and
// SystemConfigPath.
func SearchPaths() []string {
	paths := []string{"fdtd.yaml"}

	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".config")
		}
	}
	if base != "" {
		paths = append(paths, filepath.Join(base, "fdtd", "fdtd.yaml"))
	}

	return append(paths, SystemConfigPath)
}

// Find returns explicit when set, otherwise the first existing file of
// SearchPaths. It returns "" when nothing is found, meaning defaults.
func Find(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, p := range SearchPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
