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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/fdtd/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root command for fdtd.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fdtd",
		Short: "fdtd - FDT transfer daemon",
		Long: `fdtd runs on both ends of an fdtcp transfer. It starts the FDT server
and client processes that move the data, keeps track of them by
transfer id and cleans them up on request.

Run 'fdtd serve' to start the daemon.`,
		SilenceUsage:  true,
		SilenceErrors: true, // HandleExitError prints errors with the right exit code
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVarP(config, "config", "c", "", "Path to config file (default: ./fdtd.yaml, ~/.config/fdtd/fdtd.yaml, /etc/fdtcp/fdtd.yaml)")

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
