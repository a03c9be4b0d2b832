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
Package lifecycle holds the OS-facing pieces of the fdtd daemon: its pid
file, detached startup, process probes, transfer process termination and
/proc socket inspection.

# PID File

The pid file is created with O_EXCL and kept flock'ed while the daemon
runs, so a second daemon on the same file fails fast:

	pidFile := lifecycle.NewPIDFile("/var/run/fdtd.pid")
	if err := pidFile.Create(os.Getpid()); err != nil {
	    return err
	}
	defer pidFile.Remove()

# Stopping

StopDaemon checks that the pid really runs fdtd before signalling it.
SIGHUP stops an idle daemon, SIGTERM stops it regardless of running
transfers:

	err := lifecycle.StopDaemon(ctx, pid, force, 30*time.Second)

# Killing Transfer Processes

Killer implements executor.Terminator. It runs the configured
kill_command (or kill_command_sudo when the process runs as another
user), or sends SIGKILL to the process group when none is configured.

# Sockets

FindPortOwners names the processes holding a port, used to explain an
"Address already in use" failure. WaitPortReleased lets shutdown wait
until the daemon's own listening socket is gone.
*/
package lifecycle
