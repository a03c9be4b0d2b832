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

package lifecycle

import (
	"context"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/tombee/fdtd/pkg/errors"
)

// DaemonBinary is the executable name IsDaemonProcess looks for.
const DaemonBinary = "fdtd"

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrNotDaemonProcess is returned when a pid belongs to something else.
	ErrNotDaemonProcess = errors.New("process is not an fdtd daemon")

	// ErrStopTimeout is returned when the process outlives the stop timeout.
	ErrStopTimeout = errors.New("stop timeout exceeded")
)

// ExitPollInterval is how often WaitForExit probes the process.
var ExitPollInterval = 100 * time.Millisecond

// ProcessInfo describes a process.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// IsProcessRunning reports whether pid exists. EPERM counts as running:
// the process is there, it just belongs to another user.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// IsDaemonProcess reports whether pid runs the fdtd binary. It keeps a
// stale pid file from directing signals at an unrelated process.
func IsDaemonProcess(pid int) bool {
	args, err := processArgs(pid)
	if err != nil || len(args) == 0 {
		return false
	}
	return filepath.Base(args[0]) == DaemonBinary
}

// ProcessCommand returns the command line of pid.
func ProcessCommand(pid int) (string, error) {
	args, err := processArgs(pid)
	if err != nil {
		return "", err
	}
	return strings.Join(args, " "), nil
}

func processArgs(pid int) ([]string, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "reading /proc/%d", pid)
	}
	args, err := proc.CmdLine()
	if err != nil {
		return nil, errors.Wrapf(err, "reading command line of %d", pid)
	}
	return args, nil
}

// GetProcessInfo returns what is known about pid.
func GetProcessInfo(pid int) *ProcessInfo {
	info := &ProcessInfo{PID: pid, Running: IsProcessRunning(pid)}
	if info.Running {
		cmd, err := ProcessCommand(pid)
		if err != nil {
			cmd = "<unknown>"
		}
		info.Command = cmd
	}
	return info
}

// SendSignal delivers sig to pid.
func SendSignal(pid int, sig syscall.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		if err == unix.ESRCH {
			return ErrProcessNotRunning
		}
		return errors.Wrapf(err, "sending %v to process %d", sig, pid)
	}
	return nil
}

// WaitForExit polls until pid is gone, ctx ends or timeout elapses.
func WaitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(ExitPollInterval)
	defer ticker.Stop()

	for {
		if !IsProcessRunning(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			if !IsProcessRunning(pid) {
				return nil
			}
			return ErrStopTimeout
		case <-ticker.C:
		}
	}
}

// StopDaemon asks the daemon at pid to stop and waits for it to exit.
// Without force it sends SIGHUP, which the daemon honors only when no
// transfer is running. With force it sends SIGTERM.
func StopDaemon(ctx context.Context, pid int, force bool, timeout time.Duration) error {
	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}
	if !IsDaemonProcess(pid) {
		return errors.Wrapf(ErrNotDaemonProcess, "pid %d", pid)
	}

	sig := syscall.SIGHUP
	if force {
		sig = syscall.SIGTERM
	}
	if err := SendSignal(pid, sig); err != nil {
		return err
	}
	return WaitForExit(ctx, pid, timeout)
}
