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

package executor

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/fdtd/pkg/errors"
)

type fakeOwner struct {
	mu        sync.Mutex
	executors map[string]*Executor
	addErr    error
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{executors: make(map[string]*Executor)}
}

func (o *fakeOwner) HasExecutor(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.executors[id]
	return ok
}

func (o *fakeOwner) AddExecutor(e *Executor) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.addErr != nil {
		return o.addErr
	}
	if _, ok := o.executors[e.ID()]; ok {
		return &errors.DuplicateExecutorError{ID: e.ID()}
	}
	o.executors[e.ID()] = e
	return nil
}

// groupKiller kills the whole process group, like the default daemon killer.
type groupKiller struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (k *groupKiller) TerminateProcess(_ context.Context, pid int, _ string) error {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}

func (k *groupKiller) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shortIntervals(t *testing.T) {
	t.Helper()
	poll, grace, kill := ReadinessPollInterval, StartupGrace, KillPollInterval
	ReadinessPollInterval = 50 * time.Millisecond
	StartupGrace = 200 * time.Millisecond
	KillPollInterval = 50 * time.Millisecond
	t.Cleanup(func() {
		ReadinessPollInterval, StartupGrace, KillPollInterval = poll, grace, kill
	})
}

func startedExecutor(t *testing.T, opts Options) *Executor {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		if e.Alive() {
			_ = syscall.Kill(-e.PID(), syscall.SIGKILL)
			e.waitReaped(ReapTimeout)
		}
	})
	return e
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Command: "true"})
	var ve *errors.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = New(Options{ID: "x", Command: "   "})
	assert.ErrorAs(t, err, &ve)
}

func TestExecute_BlockingSuccess(t *testing.T) {
	owner := newFakeOwner()
	e := startedExecutor(t, Options{
		ID:       "t-ok",
		Command:  `sh -c "echo hello"`,
		Blocking: true,
		Owner:    owner,
	})

	out, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "finished, no error raised, return code: '0'")
	assert.Contains(t, out, "hello")
	assert.True(t, owner.HasExecutor("t-ok"), "blocking executor stays registered after exit")
	assert.True(t, e.Registered())
	assert.False(t, e.Alive())

	rc, ok := e.ReturnCode()
	assert.True(t, ok)
	assert.Equal(t, 0, rc)
}

func TestExecute_BlockingFailureCarriesLogs(t *testing.T) {
	e := startedExecutor(t, Options{
		ID:       "t-fail",
		Command:  `sh -c "echo something broke >&2; exit 3"`,
		Blocking: true,
	})

	_, err := e.Execute(context.Background())
	var pe *errors.ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "3", pe.ReturnCode)
	assert.False(t, pe.Premature)
	assert.Contains(t, err.Error(), "return code: '3'")
	assert.Contains(t, err.Error(), "something broke")
}

func TestExecute_LaunchFailure(t *testing.T) {
	owner := newFakeOwner()
	e := startedExecutor(t, Options{
		ID:       "t-launch",
		Command:  "/nonexistent/fdt-binary -p 1",
		Blocking: true,
		Owner:    owner,
	})

	_, err := e.Execute(context.Background())
	var le *errors.ProcessLaunchError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "Command '/nonexistent/fdt-binary -p 1' failed, reason:")
	assert.False(t, owner.HasExecutor("t-launch"), "nothing to register without a process")
	assert.False(t, e.Started())
}

func TestExecute_DuplicateID(t *testing.T) {
	owner := newFakeOwner()
	first := startedExecutor(t, Options{ID: "dup", Command: "sleep 30", Owner: owner})
	require.NoError(t, owner.AddExecutor(first))

	second := startedExecutor(t, Options{ID: "dup", Command: "sleep 30", Owner: owner})
	_, err := second.Execute(context.Background())

	var de *errors.DuplicateExecutorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "dup", de.ID)
	assert.False(t, second.Started(), "duplicate must be rejected before spawning")
}

func TestExecute_RegistrationFailureKillsProcess(t *testing.T) {
	owner := newFakeOwner()
	owner.addErr = &errors.DuplicateExecutorError{ID: "race"}

	e := startedExecutor(t, Options{ID: "race", Command: "sleep 30", Owner: owner})
	_, err := e.Execute(context.Background())

	require.Error(t, err)
	assert.True(t, e.Started())
	assert.False(t, e.Alive(), "unregistered process must not be left running")
	assert.False(t, e.Registered())
}

func TestExecute_ReadinessFound(t *testing.T) {
	shortIntervals(t)
	owner := newFakeOwner()
	e := startedExecutor(t, Options{
		ID:                 "t-ready",
		Command:            `sh -c "sleep 1; echo ready; sleep 30"`,
		LogOutputToWaitFor: "ready",
		LogOutputWaitTime:  10 * time.Second,
		Owner:              owner,
	})

	start := time.Now()
	out, err := e.Execute(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 2500*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Contains(t, out, "is running (PID:")
	assert.Contains(t, out, "ready")
	assert.True(t, e.Alive())
	assert.True(t, owner.HasExecutor("t-ready"))
}

func TestExecute_ReadinessOnStderr(t *testing.T) {
	shortIntervals(t)
	e := startedExecutor(t, Options{
		ID:                 "t-ready-err",
		Command:            `sh -c "echo listening >&2; sleep 30"`,
		LogOutputToWaitFor: "listening",
		LogOutputWaitTime:  5 * time.Second,
	})

	_, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, e.Alive())
}

func TestExecute_ReadinessSoftTimeout(t *testing.T) {
	shortIntervals(t)
	e := startedExecutor(t, Options{
		ID:                 "t-slow",
		Command:            "sleep 30",
		LogOutputToWaitFor: "never printed",
		LogOutputWaitTime:  300 * time.Millisecond,
	})

	out, err := e.Execute(context.Background())
	require.NoError(t, err, "a running process is accepted once the readiness wait expires")
	assert.Contains(t, out, "is running")
	assert.True(t, e.Alive())
}

func TestExecute_ReadinessPrematureExit(t *testing.T) {
	shortIntervals(t)

	tests := []struct {
		name          string
		command       string
		wantCode      string
		wantPremature bool
	}{
		{name: "clean exit without readiness", command: `sh -c "echo starting; exit 0"`, wantCode: "0", wantPremature: true},
		{name: "error exit", command: `sh -c "echo bind failed; exit 4"`, wantCode: "4", wantPremature: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := startedExecutor(t, Options{
				ID:                 "t-premature",
				Command:            tt.command,
				LogOutputToWaitFor: "FDTServer start listening",
				LogOutputWaitTime:  5 * time.Second,
			})

			_, err := e.Execute(context.Background())
			var pe *errors.ProcessError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantCode, pe.ReturnCode)
			assert.Equal(t, tt.wantPremature, pe.Premature)
			assert.Contains(t, pe.Logs, "stdout:")
		})
	}
}

func TestExecute_NoReadinessString(t *testing.T) {
	shortIntervals(t)

	t.Run("running after grace", func(t *testing.T) {
		e := startedExecutor(t, Options{ID: "t-grace", Command: "sleep 30"})
		out, err := e.Execute(context.Background())
		require.NoError(t, err)
		assert.Contains(t, out, "is running")
	})

	t.Run("failed during grace", func(t *testing.T) {
		e := startedExecutor(t, Options{ID: "t-grace-fail", Command: `sh -c "exit 2"`})
		_, err := e.Execute(context.Background())
		var pe *errors.ProcessError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "2", pe.ReturnCode)
	})

	t.Run("finished cleanly during grace", func(t *testing.T) {
		e := startedExecutor(t, Options{ID: "t-grace-ok", Command: "true"})
		out, err := e.Execute(context.Background())
		require.NoError(t, err)
		assert.Contains(t, out, "return code: '0'")
	})
}

func TestExecute_ContextCancelled(t *testing.T) {
	owner := newFakeOwner()
	e := startedExecutor(t, Options{ID: "t-ctx", Command: "sleep 30", Blocking: true, Owner: owner})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, e.Alive(), "cancelling the wait does not kill the process")
	assert.True(t, owner.HasExecutor("t-ctx"))
}

func TestExecute_ContextDoneBeforeStart(t *testing.T) {
	owner := newFakeOwner()
	e := startedExecutor(t, Options{ID: "t-ctx-early", Command: "sleep 30", Owner: owner})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, e.Started())
	assert.False(t, owner.HasExecutor("t-ctx-early"))
}

func TestKill_Immediate(t *testing.T) {
	shortIntervals(t)
	e := startedExecutor(t, Options{ID: "t-kill", Command: "sleep 30", KillTimeout: 10 * time.Second})
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	killer := &groupKiller{}
	start := time.Now()
	out, err := e.Kill(context.Background(), false, killer)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second, "grace period skipped")
	assert.Equal(t, 1, killer.Calls())
	assert.Contains(t, out, "killed, returncode: '-9'")
	assert.False(t, e.Alive())
}

func TestKill_GracePeriodLetsProcessFinish(t *testing.T) {
	shortIntervals(t)
	e := startedExecutor(t, Options{ID: "t-grace-kill", Command: "sleep 0.3", KillTimeout: 5 * time.Second})
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	killer := &groupKiller{}
	out, err := e.Kill(context.Background(), true, killer)
	require.NoError(t, err)

	assert.Equal(t, 0, killer.Calls())
	assert.Contains(t, out, "finished, returncode: '0'")
}

func TestKill_GraceExpires(t *testing.T) {
	shortIntervals(t)
	e := startedExecutor(t, Options{ID: "t-grace-expire", Command: "sleep 30", KillTimeout: 200 * time.Millisecond})
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	killer := &groupKiller{}
	out, err := e.Kill(context.Background(), true, killer)
	require.NoError(t, err)
	assert.Equal(t, 1, killer.Calls())
	assert.Contains(t, out, "killed")
}

func TestKill_AlreadyExited(t *testing.T) {
	e := startedExecutor(t, Options{ID: "t-done", Command: `sh -c "exit 5"`, Blocking: true})
	_, err := e.Execute(context.Background())
	require.Error(t, err)

	killer := &groupKiller{}
	out, err := e.Kill(context.Background(), true, killer)
	require.NoError(t, err)
	assert.Equal(t, 0, killer.Calls())
	assert.Contains(t, out, "finished, returncode: '5'")
}

func TestKill_TerminatorFailure(t *testing.T) {
	shortIntervals(t)
	e := startedExecutor(t, Options{ID: "t-kill-fail", Command: "sleep 30"})
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	killer := &groupKiller{err: stderrors.New("operation not permitted")}
	_, err = e.Kill(context.Background(), false, killer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error when killing process PID:")
	assert.True(t, e.Alive())
}

func TestBusyFlag(t *testing.T) {
	e := startedExecutor(t, Options{ID: "t-busy", Command: "true", Busy: true})
	assert.True(t, e.Busy())

	released := make(chan struct{})
	go func() {
		_ = e.WaitIdle(context.Background())
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("WaitIdle returned while busy")
	case <-time.After(100 * time.Millisecond):
	}

	e.ClearBusy()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not return after ClearBusy")
	}
	assert.False(t, e.Busy())

	e.SetBusy()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestLogs_Format(t *testing.T) {
	e := startedExecutor(t, Options{ID: "t-logs", Command: `sh -c "echo out; echo err >&2"`, Blocking: true})
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	delim := strings.Repeat("-", 78)
	want := delim + "\nstdout:\nout\n\n" + delim + "\nstderr:\nerr\n\n" + delim
	assert.Equal(t, want, e.Logs())
}

func TestString(t *testing.T) {
	e := startedExecutor(t, Options{ID: "abc", Command: "true"})
	assert.Equal(t, "process PID: <unknown> 'true' id:'abc'", e.String())
}
