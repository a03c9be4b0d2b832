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

/*
Package cli builds the root command of the fdtd binary.

The command tree is:

	fdtd
	├── serve         Run the daemon (foreground or --daemonize)
	├── daemon        Talk to a running daemon
	│   ├── ping
	│   ├── status
	│   ├── cleanup
	│   └── stop
	└── version       Show version

Subcommands live in the internal/commands packages and are attached in
main.

# Global Flags

	--verbose, -v    Show process logs returned by the daemon
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config, -c     Path to the configuration file

# Exit Codes

  - 0: success
  - 1: general failure
  - 2: configuration error
  - 3: the daemon rejected the request
  - 10: the daemon is not running
*/
package cli
