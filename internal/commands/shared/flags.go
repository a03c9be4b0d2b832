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

package shared

import "github.com/tombee/fdtd/internal/config"

// globals holds the persistent flags of the fdtd root command. The serve
// and daemon subcommands only read them.
var globals struct {
	verbose bool
	quiet   bool
	json    bool
	config  string
}

// build is stamped into cmd/fdtd with -ldflags.
var build = struct {
	version, commit, date string
}{"dev", "unknown", "unknown"}

// RegisterFlagPointers returns the targets the root command binds its
// persistent flags to.
func RegisterFlagPointers() (verbose, quiet, json *bool, configPath *string) {
	return &globals.verbose, &globals.quiet, &globals.json, &globals.config
}

// SetVersion records the build information of the fdtd binary.
func SetVersion(v, c, b string) {
	build.version, build.commit, build.date = v, c, b
}

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return build.version, build.commit, build.date
}

func GetVerbose() bool { return globals.verbose }

func GetQuiet() bool { return globals.quiet }

func GetJSON() bool { return globals.json }

// ConfigFile resolves the daemon configuration: the --config value when
// given, otherwise the first of config.SearchPaths that exists. Empty
// means built-in defaults.
func ConfigFile() string {
	return config.Find(globals.config)
}

// SetJSONForTest overrides the --json flag.
func SetJSONForTest(v bool) {
	globals.json = v
}
