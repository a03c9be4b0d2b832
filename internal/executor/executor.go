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

// Package executor supervises one external process per transfer request.
//
// An Executor starts its command with stdout and stderr captured in memory,
// registers itself with its Owner as soon as the process exists, and then
// either waits for the process to finish (blocking mode) or watches its
// output for a readiness string (non-blocking mode). Termination goes
// through a Terminator so the kill policy (plain signal, kill command,
// sudo wrapper) stays outside this package.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tombee/fdtd/internal/cmdline"
	"github.com/tombee/fdtd/pkg/errors"
)

// Supervision intervals. Variables so tests can shorten them.
var (
	// ReadinessPollInterval is how often captured output is checked for the
	// readiness string.
	ReadinessPollInterval = 500 * time.Millisecond

	// StartupGrace is how long a non-blocking process without a readiness
	// string gets before its exit status is checked.
	StartupGrace = time.Second

	// KillPollInterval is the grace-period poll step during termination.
	KillPollInterval = time.Second

	// ReapTimeout bounds the wait for the OS to reap a killed process.
	ReapTimeout = 5 * time.Second

	// IODrainDelay bounds how long output copying may outlive the process
	// when a grandchild keeps the pipes open.
	IODrainDelay = time.Second
)

// Owner is the container an executor registers itself with.
type Owner interface {
	HasExecutor(id string) bool
	AddExecutor(e *Executor) error
}

// Terminator forcibly stops a process, optionally acting as another user.
type Terminator interface {
	TerminateProcess(ctx context.Context, pid int, asUser string) error
}

// Options configures an Executor.
type Options struct {
	// ID is the transfer id this process serves.
	ID string

	// Command is the fully rendered command line.
	Command string

	// Blocking waits for the process to finish in Execute.
	Blocking bool

	// Port is the pool port the process binds, 0 if none.
	Port int

	// UserName is the account the process runs as, used when killing it.
	UserName string

	// LogOutputToWaitFor is the readiness string for non-blocking mode.
	LogOutputToWaitFor string

	// LogOutputWaitTime bounds the readiness wait.
	LogOutputWaitTime time.Duration

	// KillTimeout is the grace period honored by Kill when waiting.
	KillTimeout time.Duration

	// Busy starts the executor with its busy flag set.
	Busy bool

	// Owner, if set, receives the executor once the process is started.
	Owner Owner

	Logger *slog.Logger
}

// Executor runs and supervises a single OS process.
type Executor struct {
	opts   Options
	args   []string
	logger *slog.Logger

	cmd    *exec.Cmd
	stdout outputBuffer
	stderr outputBuffer

	// done is closed by the reaper once Wait returns.
	done     chan struct{}
	exitCode int
	reapErr  error

	registered atomic.Bool
	busy       *busyFlag
}

// New validates opts and prepares an executor. The process is started by
// Execute.
func New(opts Options) (*Executor, error) {
	if opts.ID == "" {
		return nil, &errors.ValidationError{Field: "id", Message: "executor id is required"}
	}
	args, err := cmdline.Split(opts.Command)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		opts:   opts,
		args:   args,
		logger: logger.With(slog.String("transfer_id", opts.ID)),
		done:   make(chan struct{}),
		busy:   newBusyFlag(opts.Busy),
	}, nil
}

// ID returns the transfer id.
func (e *Executor) ID() string { return e.opts.ID }

// Command returns the command line.
func (e *Executor) Command() string { return e.opts.Command }

// Port returns the reserved pool port, 0 if none.
func (e *Executor) Port() int { return e.opts.Port }

// UserName returns the account the process runs as.
func (e *Executor) UserName() string { return e.opts.UserName }

// KillTimeout returns the termination grace period.
func (e *Executor) KillTimeout() time.Duration { return e.opts.KillTimeout }

// PID returns the process id, 0 before the process is started.
func (e *Executor) PID() int {
	if e.cmd == nil || e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// Started reports whether the OS process was created.
func (e *Executor) Started() bool { return e.PID() != 0 }

// Registered reports whether the executor was accepted by its Owner.
func (e *Executor) Registered() bool { return e.registered.Load() }

// Alive reports whether the process is started and not yet reaped.
func (e *Executor) Alive() bool {
	if !e.Started() {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped.
func (e *Executor) Done() <-chan struct{} { return e.done }

// ReturnCode returns the exit status once the process has been reaped.
// A process killed by a signal reports the negated signal number.
func (e *Executor) ReturnCode() (int, bool) {
	select {
	case <-e.done:
		return e.exitCode, e.reapErr == nil
	default:
		return 0, false
	}
}

// Stdout returns the output captured so far.
func (e *Executor) Stdout() string { return e.stdout.String() }

// Stderr returns the error output captured so far.
func (e *Executor) Stderr() string { return e.stderr.String() }

// Logs renders both captured streams between delimiter lines.
func (e *Executor) Logs() string {
	return formatLogs(e.stdout.String(), e.stderr.String())
}

// SetBusy marks the executor as being waited on by a request handler.
func (e *Executor) SetBusy() { e.busy.set() }

// ClearBusy releases anyone blocked in WaitIdle.
func (e *Executor) ClearBusy() { e.busy.clear() }

// Busy reports the busy flag.
func (e *Executor) Busy() bool { return e.busy.get() }

// WaitIdle blocks until the busy flag is clear.
func (e *Executor) WaitIdle(ctx context.Context) error { return e.busy.wait(ctx) }

// String implements fmt.Stringer.
func (e *Executor) String() string {
	pid := "<unknown>"
	if p := e.PID(); p != 0 {
		pid = strconv.Itoa(p)
	}
	return fmt.Sprintf("process PID: %s '%s' id:'%s'", pid, e.opts.Command, e.opts.ID)
}

// Execute starts the process and applies the blocking or non-blocking
// policy. The returned string is a human readable report including the
// captured logs.
//
// The executor is registered with its Owner right after the process is
// created, so it stays visible to cleanup even when Execute fails. If ctx
// is cancelled while waiting, Execute returns ctx.Err() and leaves the
// process running and registered. A context that is already done starts
// nothing.
func (e *Executor) Execute(ctx context.Context) (string, error) {
	if e.opts.Owner != nil && e.opts.Owner.HasExecutor(e.opts.ID) {
		return "", &errors.DuplicateExecutorError{ID: e.opts.ID}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := e.start(); err != nil {
		return "", err
	}

	if e.opts.Owner != nil {
		if err := e.opts.Owner.AddExecutor(e); err != nil {
			// Lost a race with a concurrent request for the same id.
			e.logger.Error("registration failed, killing unregistered process",
				slog.Int("pid", e.PID()), slog.Any("error", err))
			e.signalGroup(syscall.SIGKILL)
			e.waitReaped(ReapTimeout)
			return "", err
		}
		e.registered.Store(true)
	}

	if e.opts.Blocking {
		return e.runBlocking(ctx)
	}
	return e.runNonBlocking(ctx)
}

func (e *Executor) start() error {
	cmd := exec.Command(e.args[0], e.args[1:]...)
	cmd.Stdout = &e.stdout
	cmd.Stderr = &e.stderr
	cmd.WaitDelay = IODrainDelay
	// Own process group so a kill reaches the whole process tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	e.logger.Debug("starting process", slog.String("command", e.opts.Command))
	if err := cmd.Start(); err != nil {
		return &errors.ProcessLaunchError{Command: e.opts.Command, Logs: e.Logs(), Cause: err}
	}
	e.cmd = cmd
	e.logger.Debug("process started", slog.Int("pid", cmd.Process.Pid))

	go e.reap()
	return nil
}

// reap is the only caller of cmd.Wait.
func (e *Executor) reap() {
	err := e.cmd.Wait()
	state := e.cmd.ProcessState
	switch {
	case state == nil:
		e.reapErr = err
		e.exitCode = -1
	default:
		e.exitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			e.exitCode = -int(ws.Signal())
		}
	}
	close(e.done)
}

func (e *Executor) returnCodeString() string {
	if e.reapErr != nil {
		return e.reapErr.Error()
	}
	return strconv.Itoa(e.exitCode)
}

func (e *Executor) runBlocking(ctx context.Context) (string, error) {
	e.logger.Info(fmt.Sprintf("Waiting for '%s' (PID: %d) to finish ...", e.opts.Command, e.PID()))

	select {
	case <-e.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if e.reapErr != nil {
		e.logger.Error("waiting for process to complete failed (crashed/killed?)",
			slog.Any("error", e.reapErr))
	}
	if e.reapErr != nil || e.exitCode != 0 {
		return "", &errors.ProcessError{Command: e.opts.Command, ReturnCode: e.returnCodeString(), Logs: e.Logs()}
	}
	return fmt.Sprintf("Command '%s' finished, no error raised, return code: '%s'\nlogs:\n%s",
		e.opts.Command, e.returnCodeString(), e.Logs()), nil
}

func (e *Executor) runNonBlocking(ctx context.Context) (string, error) {
	want := e.opts.LogOutputToWaitFor
	matched := false

	if want != "" {
		deadline := time.Now().Add(e.opts.LogOutputWaitTime)
		e.logger.Debug("waiting for readiness output",
			slog.String("wait_for", want), slog.Duration("timeout", e.opts.LogOutputWaitTime))

	loop:
		for {
			select {
			case <-e.done:
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(ReadinessPollInterval):
			}

			if e.stdout.Contains(want) || e.stderr.Contains(want) {
				matched = true
				e.logger.Debug("readiness output found", slog.String("wait_for", want))
				break loop
			}
			if !e.Alive() {
				break loop
			}
			if time.Now().After(deadline) {
				e.logger.Warn("readiness output not seen within timeout, process seems to run fine",
					slog.String("wait_for", want), slog.Duration("timeout", e.opts.LogOutputWaitTime))
				break loop
			}
		}
	} else {
		select {
		case <-e.done:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(StartupGrace):
		}
	}

	if e.Alive() {
		return fmt.Sprintf("Command '%s' is running (PID: %d) ...\nlogs:\n%s",
			e.opts.Command, e.PID(), e.Logs()), nil
	}

	if want != "" && !matched {
		return "", &errors.ProcessError{
			Command:    e.opts.Command,
			ReturnCode: e.returnCodeString(),
			Logs:       e.Logs(),
			Premature:  true,
		}
	}
	if e.reapErr != nil || e.exitCode != 0 {
		return "", &errors.ProcessError{Command: e.opts.Command, ReturnCode: e.returnCodeString(), Logs: e.Logs()}
	}
	return fmt.Sprintf("Command '%s' finished, no error raised, return code: '%s'\nlogs:\n%s",
		e.opts.Command, e.returnCodeString(), e.Logs()), nil
}

// signalGroup signals the process group, falling back to the process.
func (e *Executor) signalGroup(sig syscall.Signal) {
	pid := e.PID()
	if pid == 0 {
		return
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = e.cmd.Process.Signal(sig)
	}
}

func (e *Executor) waitReaped(timeout time.Duration) bool {
	select {
	case <-e.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
